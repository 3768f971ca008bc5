// Command smartvm runs workloads against the demand-paged virtual memory
// system and inspects the swap files it leaves behind.
package main

import (
	"github.com/sarchlab/smartvm/smartvm/cmd"
)

func main() {
	cmd.Execute()
}
