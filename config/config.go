// Package config loads the settings of a smartvm run from a TOML file, an
// optional .env file, and SMARTVM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/mmu"
	"github.com/sarchlab/smartvm/mem/vm/swap"
	"github.com/sarchlab/smartvm/monitoring/web"
	"github.com/sirupsen/logrus"
)

// Duration is a time.Duration written as a string such as "1ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))

	return err
}

// MarshalText writes the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MemoryConfig describes the simulated machine.
type MemoryConfig struct {
	Frames          int `toml:"frames"`
	ReservedFrames  int `toml:"reserved_frames"`
	CPUs            int `toml:"cpus"`
	TLBEntries      int `toml:"tlb_entries"`
	VictimStride    int `toml:"victim_stride"`
	MaxFaultRetries int `toml:"max_fault_retries"`
}

// SwapConfig describes the swap file.
type SwapConfig struct {
	Dir         string   `toml:"dir"`
	MaxSlots    int64    `toml:"max_slots"`
	LeakSlots   bool     `toml:"leak_slots"`
	MaxRetries  uint64   `toml:"max_retries"`
	RetryPeriod Duration `toml:"retry_period"`
}

// WorkloadConfig describes the processes the run drives.
type WorkloadConfig struct {
	Processes  int     `toml:"processes"`
	Accesses   int     `toml:"accesses"`
	Forks      int     `toml:"forks"`
	TextPages  int     `toml:"text_pages"`
	DataPages  int     `toml:"data_pages"`
	HeapPages  int     `toml:"heap_pages"`
	StackPages int     `toml:"stack_pages"`
	WriteRatio float64 `toml:"write_ratio"`
	Seed       int64   `toml:"seed"`
}

// LogConfig selects how events are logged.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MonitorConfig configures the monitoring server.
type MonitorConfig struct {
	Port int `toml:"port"`
	// Dashboard is a directory holding an index.html that replaces the
	// built-in dashboard.
	Dashboard string `toml:"dashboard"`
}

// Config holds every setting of a run.
type Config struct {
	Memory   MemoryConfig   `toml:"memory"`
	Swap     SwapConfig     `toml:"swap"`
	Workload WorkloadConfig `toml:"workload"`
	Log      LogConfig      `toml:"log"`
	Monitor  MonitorConfig  `toml:"monitor"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Memory: MemoryConfig{
			Frames:          256,
			CPUs:            1,
			TLBEntries:      vm.NumTLBEntries,
			VictimStride:    1,
			MaxFaultRetries: 16,
		},
		Swap: SwapConfig{
			MaxRetries:  5,
			RetryPeriod: Duration{time.Millisecond},
		},
		Workload: WorkloadConfig{
			Processes:  4,
			Accesses:   10000,
			Forks:      1,
			TextPages:  8,
			DataPages:  8,
			HeapPages:  32,
			StackPages: 8,
			WriteRatio: 0.5,
			Seed:       1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty path
// keeps the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	c := Default()

	if path == "" {
		return c, nil
	}

	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, fmt.Errorf("loading config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return c, fmt.Errorf("unknown keys in config %s: %s",
			path, strings.Join(keys, ", "))
	}

	return c, nil
}

// Validate checks that the settings can build a working system.
func (c Config) Validate() error {
	var errs []error

	m := c.Memory
	if m.Frames <= 0 {
		errs = append(errs, fmt.Errorf("memory.frames must be positive, got %d",
			m.Frames))
	}

	if m.ReservedFrames < 0 || m.ReservedFrames >= m.Frames {
		errs = append(errs, fmt.Errorf(
			"memory.reserved_frames must be in [0, %d), got %d",
			m.Frames, m.ReservedFrames))
	}

	if m.CPUs <= 0 {
		errs = append(errs, fmt.Errorf("memory.cpus must be positive, got %d",
			m.CPUs))
	}

	if m.TLBEntries <= 0 {
		errs = append(errs, fmt.Errorf(
			"memory.tlb_entries must be positive, got %d", m.TLBEntries))
	}

	if m.VictimStride <= 0 {
		errs = append(errs, fmt.Errorf(
			"memory.victim_stride must be positive, got %d", m.VictimStride))
	}

	if m.MaxFaultRetries <= 0 {
		errs = append(errs, fmt.Errorf(
			"memory.max_fault_retries must be positive, got %d",
			m.MaxFaultRetries))
	}

	if c.Swap.MaxSlots < 0 {
		errs = append(errs, fmt.Errorf(
			"swap.max_slots must not be negative, got %d", c.Swap.MaxSlots))
	}

	w := c.Workload
	if w.Processes <= 0 {
		errs = append(errs, fmt.Errorf(
			"workload.processes must be positive, got %d", w.Processes))
	}

	if w.Accesses < 0 || w.Forks < 0 {
		errs = append(errs, errors.New(
			"workload.accesses and workload.forks must not be negative"))
	}

	if w.TextPages <= 0 || w.DataPages < 0 || w.HeapPages < 0 ||
		w.StackPages <= 0 {
		errs = append(errs, errors.New(
			"workload needs text and stack pages, and no negative page counts"))
	}

	if w.WriteRatio < 0 || w.WriteRatio > 1 {
		errs = append(errs, fmt.Errorf(
			"workload.write_ratio must be in [0, 1], got %g", w.WriteRatio))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if err := web.CheckDir(c.Monitor.Dashboard); err != nil {
		errs = append(errs, fmt.Errorf("monitor.dashboard: %w", err))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf(
			"log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SwapBuilder returns a builder of the configured swap store.
func (c Config) SwapBuilder() swap.Builder {
	b := swap.MakeBuilder().
		WithMaxRetries(c.Swap.MaxRetries).
		WithRetryPeriod(c.Swap.RetryPeriod.Duration)

	if c.Swap.Dir != "" {
		b = b.WithDir(c.Swap.Dir)
	}

	if c.Swap.MaxSlots > 0 {
		b = b.WithMaxSlots(c.Swap.MaxSlots)
	}

	if c.Swap.LeakSlots {
		b = b.WithLeakingSlots()
	}

	return b
}

// SystemBuilder returns a builder of the configured VM system backed by
// store.
func (c Config) SystemBuilder(store *swap.Store) mmu.Builder {
	return mmu.MakeBuilder().
		WithNumFrames(c.Memory.Frames).
		WithReservedFrames(c.Memory.ReservedFrames).
		WithNumCPUs(c.Memory.CPUs).
		WithNumTLBEntries(c.Memory.TLBEntries).
		WithVictimStride(c.Memory.VictimStride).
		WithMaxFaultRetries(c.Memory.MaxFaultRetries).
		WithSwapStore(store)
}

// SetupLogger applies the level and format to logger.
func (c LogConfig) SetupLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	switch c.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}
