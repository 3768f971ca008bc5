package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix starts the name of every environment variable read by ApplyEnv.
const EnvPrefix = "SMARTVM_"

// Environ collects the SMARTVM_* variables from the given .env files and the
// process environment. The process environment wins. Missing files are
// skipped.
func Environ(dotenvFiles ...string) (map[string]string, error) {
	env := make(map[string]string)

	for _, f := range dotenvFiles {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}

		for k, v := range values {
			if strings.HasPrefix(k, EnvPrefix) {
				env[k] = v
			}
		}
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}

	return env, nil
}

type envSetter func(c *Config, value string) error

func intVar(field func(c *Config) *int) envSetter {
	return func(c *Config, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		*field(c) = v

		return nil
	}
}

func int64Var(field func(c *Config) *int64) envSetter {
	return func(c *Config, value string) error {
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return err
		}

		*field(c) = v

		return nil
	}
}

func stringVar(field func(c *Config) *string) envSetter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

var envSetters = map[string]envSetter{
	"FRAMES": intVar(func(c *Config) *int { return &c.Memory.Frames }),
	"RESERVED_FRAMES": intVar(func(c *Config) *int {
		return &c.Memory.ReservedFrames
	}),
	"CPUS":        intVar(func(c *Config) *int { return &c.Memory.CPUs }),
	"TLB_ENTRIES": intVar(func(c *Config) *int { return &c.Memory.TLBEntries }),
	"VICTIM_STRIDE": intVar(func(c *Config) *int {
		return &c.Memory.VictimStride
	}),
	"SWAP_DIR": stringVar(func(c *Config) *string { return &c.Swap.Dir }),
	"SWAP_MAX_SLOTS": int64Var(func(c *Config) *int64 {
		return &c.Swap.MaxSlots
	}),
	"PROCESSES": intVar(func(c *Config) *int { return &c.Workload.Processes }),
	"ACCESSES":  intVar(func(c *Config) *int { return &c.Workload.Accesses }),
	"FORKS":     intVar(func(c *Config) *int { return &c.Workload.Forks }),
	"SEED":      int64Var(func(c *Config) *int64 { return &c.Workload.Seed }),
	"LOG_LEVEL": stringVar(func(c *Config) *string { return &c.Log.Level }),
	"LOG_FORMAT": stringVar(func(c *Config) *string {
		return &c.Log.Format
	}),
	"MONITOR_PORT": intVar(func(c *Config) *int { return &c.Monitor.Port }),
	"MONITOR_DASHBOARD": stringVar(func(c *Config) *string {
		return &c.Monitor.Dashboard
	}),
}

// ApplyEnv overrides settings from SMARTVM_* variables. Unknown variables are
// ignored so that other tools may share the prefix.
func (c *Config) ApplyEnv(env map[string]string) error {
	for k, v := range env {
		name, ok := strings.CutPrefix(k, EnvPrefix)
		if !ok {
			continue
		}

		set, ok := envSetters[name]
		if !ok {
			continue
		}

		if err := set(c, v); err != nil {
			return fmt.Errorf("%s=%q: %w", k, v, err)
		}
	}

	return nil
}
