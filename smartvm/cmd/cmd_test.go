package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/smartvm/mem/vm"
)

func execute(args ...string) (string, error) {
	out := &bytes.Buffer{}
	rootCmd := newRootCmd()
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)

	_, err := rootCmd.ExecuteC()

	return out.String(), err
}

var _ = Describe("smartvm", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	Context("swap inspect", func() {
		var path string

		BeforeEach(func() {
			content := make([]byte, 3*vm.PageSize)
			copy(content[vm.PageSize:], "swapped")
			path = filepath.Join(dir, "test.swap")
			Expect(os.WriteFile(path, content, 0o600)).To(Succeed())
		})

		It("should list the non-zero slots", func() {
			out, err := execute("swap", "inspect", path)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("3 slots, 2 zero"))
			Expect(out).To(ContainSubstring("0x00001000"))
			Expect(out).NotTo(ContainSubstring("0x00002000"))
		})

		It("should print JSON", func() {
			out, err := execute("swap", "inspect", "--json", path)
			Expect(err).NotTo(HaveOccurred())

			summary := map[string]any{}
			Expect(json.Unmarshal([]byte(out), &summary)).To(Succeed())
			Expect(summary["num_slots"]).To(BeEquivalentTo(3))
		})

		It("should fail on missing files", func() {
			_, err := execute("swap", "inspect", filepath.Join(dir, "nothing"))

			Expect(err).To(HaveOccurred())
		})
	})

	Context("run", func() {
		var configPath string

		BeforeEach(func() {
			configPath = filepath.Join(dir, "smartvm.toml")
			Expect(os.WriteFile(configPath, []byte(strings.Join([]string{
				"[memory]",
				"frames = 12",
				"cpus = 2",
				"[swap]",
				`dir = "` + filepath.ToSlash(dir) + `"`,
				"[workload]",
				"processes = 2",
				"accesses = 200",
				"[log]",
				`level = "error"`,
			}, "\n")), 0o644)).To(Succeed())
		})

		It("should run the workload and report the counters", func() {
			trace := filepath.Join(dir, "trace.csv")
			record := filepath.Join(dir, "events")

			out, err := execute("run",
				"--config", configPath,
				"--env-file", filepath.Join(dir, ".env"),
				"--trace", trace,
				"--record", record)
			Expect(err).NotTo(HaveOccurred())

			report := runReport{}
			Expect(json.Unmarshal([]byte(out), &report)).To(Succeed())
			Expect(report.Result.Reads + report.Result.Writes +
				report.Result.ReadOnlyWrites).To(Equal(uint64(400)))
			Expect(report.Stats.Faults).To(BeNumerically(">", 0))

			traced, err := os.ReadFile(trace)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(traced)).To(ContainSubstring(",fault,"))

			_, err = os.Stat(record + ".sqlite3")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should apply overrides from the env file", func() {
			envPath := filepath.Join(dir, ".env")
			Expect(os.WriteFile(envPath, []byte("SMARTVM_CPUS=0\n"), 0o644)).
				To(Succeed())

			_, err := execute("run",
				"--config", configPath,
				"--env-file", envPath)

			Expect(err).To(MatchError(ContainSubstring("memory.cpus")))
		})

		It("should reject unknown configuration keys", func() {
			bad := filepath.Join(dir, "bad.toml")
			Expect(os.WriteFile(bad, []byte("frames = 3\n"), 0o644)).
				To(Succeed())

			_, err := execute("run", "--config", bad)

			Expect(err).To(MatchError(ContainSubstring("unknown keys")))
		})
	})
})
