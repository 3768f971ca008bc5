package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/sarchlab/smartvm/mem/vm/swap"
	"github.com/spf13/cobra"
)

func newSwapCmd() *cobra.Command {
	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Work with swap files.",
	}

	swapInspectCmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Summarize the slots of a swap file.",
		Long: "`swap inspect [file]` prints the size, the number of " +
			"slots, and a checksum of every non-zero slot of a swap file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := swap.Inspect(args[0])
			if err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(summary)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d bytes, %d slots, %d zero\n",
				summary.Path, summary.Size, summary.NumSlots, summary.ZeroSlots)

			for _, s := range summary.Slots {
				if s.NonZero == 0 {
					continue
				}

				fmt.Fprintf(out, "  0x%08x  %5d non-zero bytes  crc32 %08x\n",
					s.Offset, s.NonZero, s.Checksum)
			}

			return nil
		},
	}

	swapInspectCmd.Flags().Bool("json", false, "print the summary as JSON")
	swapCmd.AddCommand(swapInspectCmd)

	return swapCmd
}
