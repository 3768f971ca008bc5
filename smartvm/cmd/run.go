package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/pkg/browser"
	"github.com/sarchlab/smartvm/config"
	"github.com/sarchlab/smartvm/datarecording"
	"github.com/sarchlab/smartvm/mem/acceptancetests/memaccessagent"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/mmu"
	"github.com/sarchlab/smartvm/monitoring"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile  string
	envFiles    []string
	record      string
	trace       string
	monitor     bool
	openBrowser bool
}

type runReport struct {
	Result memaccessagent.Result `json:"result"`
	Stats  mmu.Stats             `json:"stats"`
}

func newRunCmd() *cobra.Command {
	runOpts := runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a random-access workload over the VM system.",
		Long: "`run` builds a VM system and a swap file from the " +
			"configuration, runs the configured processes, and prints the " +
			"counters as JSON.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runWorkload(ctx, cmd, runOpts)
		},
	}

	runCmd.Flags().StringVarP(&runOpts.configFile, "config", "c", "",
		"TOML configuration file")
	runCmd.Flags().StringSliceVar(&runOpts.envFiles, "env-file",
		[]string{".env"}, "files with SMARTVM_* overrides")
	runCmd.Flags().StringVar(&runOpts.record, "record", "",
		"record events into this SQLite database (without .sqlite3)")
	runCmd.Flags().StringVar(&runOpts.trace, "trace", "",
		"write a CSV line per event into this file")
	runCmd.Flags().BoolVar(&runOpts.monitor, "monitor", false,
		"serve the monitoring pages while running")
	runCmd.Flags().BoolVar(&runOpts.openBrowser, "open-browser", false,
		"open the monitoring pages in a browser")

	return runCmd
}

func loadConfig(opts runOptions) (config.Config, error) {
	c, err := config.Load(opts.configFile)
	if err != nil {
		return c, err
	}

	env, err := config.Environ(opts.envFiles...)
	if err != nil {
		return c, err
	}

	if err := c.ApplyEnv(env); err != nil {
		return c, err
	}

	return c, c.Validate()
}

func runWorkload(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	c, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if err := c.Log.SetupLogger(logger); err != nil {
		return err
	}

	store := c.SwapBuilder().Build()
	defer store.Close()

	builder := c.SystemBuilder(store).WithHook(vm.NewLogHook(logger))

	if opts.trace != "" {
		f, err := os.Create(opts.trace)
		if err != nil {
			return fmt.Errorf("creating trace file: %w", err)
		}
		defer f.Close()

		builder = builder.WithHook(vm.NewTracer(f))
	}

	var exec *datarecording.ExecRecorder
	if opts.record != "" {
		recorder := datarecording.New(opts.record)
		defer recorder.Close()

		exec = datarecording.NewExecRecorder(recorder)
		exec.Start()
		recordConfig(exec, c)

		builder = builder.WithHook(datarecording.NewEventRecorder(recorder))
	}

	sys := builder.Build()

	agentBuilder := memaccessagent.MakeBuilder().
		WithSystem(sys).
		WithNumProcesses(c.Workload.Processes).
		WithNumAccesses(c.Workload.Accesses).
		WithNumForks(c.Workload.Forks).
		WithTextPages(c.Workload.TextPages).
		WithDataPages(c.Workload.DataPages).
		WithHeapPages(c.Workload.HeapPages).
		WithStackPages(c.Workload.StackPages).
		WithWriteRatio(c.Workload.WriteRatio).
		WithSeed(c.Workload.Seed).
		WithLogger(logger)

	if opts.monitor || opts.openBrowser {
		m := monitoring.NewMonitor().
			WithPortNumber(c.Monitor.Port).
			WithDashboardDir(c.Monitor.Dashboard)
		m.RegisterSystem(sys)
		url := m.StartServer()

		total := uint64(c.Workload.Processes * c.Workload.Accesses)
		bar := m.CreateProgressBar("accesses", total)
		defer m.CompleteProgressBar(bar)

		agentBuilder = agentBuilder.WithProgressBar(bar)

		if opts.openBrowser {
			if err := browser.OpenURL(url); err != nil {
				logger.WithError(err).Warn("cannot open browser")
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"frames":    c.Memory.Frames,
		"cpus":      c.Memory.CPUs,
		"processes": c.Workload.Processes,
		"swap":      store.Path(),
	}).Info("starting workload")

	result, err := agentBuilder.Build().Run(ctx)
	if exec != nil {
		exec.Record("Result", resultString(result, err))
		exec.End()
	}

	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(runReport{Result: result, Stats: sys.Stats()})
}

func recordConfig(exec *datarecording.ExecRecorder, c config.Config) {
	exec.Record("Frames", strconv.Itoa(c.Memory.Frames))
	exec.Record("CPUs", strconv.Itoa(c.Memory.CPUs))
	exec.Record("TLB Entries", strconv.Itoa(c.Memory.TLBEntries))
	exec.Record("Processes", strconv.Itoa(c.Workload.Processes))
	exec.Record("Accesses", strconv.Itoa(c.Workload.Accesses))
	exec.Record("Seed", strconv.FormatInt(c.Workload.Seed, 10))
}

func resultString(r memaccessagent.Result, err error) string {
	if err != nil {
		return err.Error()
	}

	return fmt.Sprintf("%d reads, %d writes, %d forks",
		r.Reads, r.Writes, r.Forks)
}
