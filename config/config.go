// Package config holds the YAML configuration for engines, shared memory,
// the thread ABI names and the orchestrator's region layout.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-threads/errors"
)

// Engine configures the wazero runtime.
type Engine struct {
	// MemoryLimitPages caps memory per instance in 64KB pages. 0 means the
	// wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// CloseOnContextDone lets a cancelled context stop running module code.
	CloseOnContextDone bool `yaml:"close_on_context_done"`
}

// Import names one import of the guest module.
type Import struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
}

// Memory configures the shared linear memory.
type Memory struct {
	Import   Import `yaml:"import"`
	MinPages uint32 `yaml:"min_pages"`
	MaxPages uint32 `yaml:"max_pages"`
}

// Exports names the module exports used during bring-up.
type Exports struct {
	StackPointer string `yaml:"stack_pointer"`
	InitTLS      string `yaml:"init_tls"`
	Entrypoint   string `yaml:"entrypoint"`
}

// Layout describes how the orchestrator carves per-thread regions.
// Region i starts at Base + i*(StackSize+TLSSize); the stack grows down
// from the region's stack top and the TLS block follows it.
type Layout struct {
	Base      uint32 `yaml:"base"`
	StackSize uint32 `yaml:"stack_size"`
	TLSSize   uint32 `yaml:"tls_size"`
}

// Log configures zap.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Tracer configures OpenTelemetry.
type Tracer struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Config is the top-level configuration.
type Config struct {
	Engine  Engine  `yaml:"engine"`
	Memory  Memory  `yaml:"memory"`
	Signal  Import  `yaml:"signal"`
	Exports Exports `yaml:"exports"`
	Layout  Layout  `yaml:"layout"`
	Log     Log     `yaml:"log"`
	Tracer  Tracer  `yaml:"tracer"`
}

// Defaults returns the configuration matching the usual toolchain output for
// threaded wasm32 modules.
func Defaults() *Config {
	return &Config{
		Memory: Memory{
			Import:   Import{Module: "env", Name: "memory"},
			MinPages: 64,
			MaxPages: 16384,
		},
		Signal: Import{Module: "env", Name: "_post_signal"},
		Exports: Exports{
			StackPointer: "__stack_pointer",
			InitTLS:      "__wasm_init_tls",
			Entrypoint:   "wasm_thread_entrypoint",
		},
		Layout: Layout{
			Base:      0x100000,
			StackSize: 0x10000,
			TLSSize:   0x400,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a YAML file over Defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML over Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.Memory.Import.Module == "" || c.Memory.Import.Name == "" {
		return errors.InvalidInput(errors.PhaseConfig, "memory import module and name are required")
	}
	if c.Signal.Module == "" || c.Signal.Name == "" {
		return errors.InvalidInput(errors.PhaseConfig, "signal import module and name are required")
	}
	if c.Memory.MinPages == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "memory min_pages must be at least 1")
	}
	// Shared memories must declare a maximum.
	if c.Memory.MaxPages < c.Memory.MinPages {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("memory max_pages %d below min_pages %d", c.Memory.MaxPages, c.Memory.MinPages))
	}
	if c.Memory.MaxPages > 65536 {
		return errors.InvalidInput(errors.PhaseConfig, "memory max_pages exceeds 65536")
	}
	if c.Engine.MemoryLimitPages != 0 && c.Memory.MaxPages > c.Engine.MemoryLimitPages {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("memory max_pages %d exceeds engine limit %d", c.Memory.MaxPages, c.Engine.MemoryLimitPages))
	}
	if c.Exports.StackPointer == "" || c.Exports.InitTLS == "" || c.Exports.Entrypoint == "" {
		return errors.InvalidInput(errors.PhaseConfig, "all bring-up export names are required")
	}
	if c.Layout.StackSize == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "layout stack_size must be non-zero")
	}
	switch c.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unsupported tracer exporter %q", c.Tracer.Exporter))
	}
	return nil
}
