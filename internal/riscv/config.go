package riscv

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TriggerPreset configures one hardware debug trigger to install at boot,
// so a machine can be launched already watching an address or retirement
// count without the guest (or a debugger) having to program it.
type TriggerPreset struct {
	Kind    string `yaml:"kind"`    // "address" or "icount"
	Address uint32 `yaml:"address"` // for kind: address
	Count   uint32 `yaml:"count"`   // for kind: icount
	Action  string `yaml:"action"`  // "break" or "debug"
}

// MachineConfig describes one machine instance: how many harts, how much
// RAM, what image and disk to attach, and where the console connects.
type MachineConfig struct {
	Harts         int             `yaml:"harts"`
	RAMBytes      uint32          `yaml:"ram_bytes"`
	Image         string          `yaml:"image"`
	Disk          string          `yaml:"disk"`
	ConsoleTTY    bool            `yaml:"console_tty"`
	ToHostAddr    uint32          `yaml:"tohost_addr"`
	FromHostAddr  uint32          `yaml:"fromhost_addr"`
	CacheLineLen  uint32          `yaml:"cache_line_len"`
	CacheLines    uint32          `yaml:"cache_lines"`
	Triggers      []TriggerPreset `yaml:"triggers"`
}

// DefaultMachineConfig returns sane defaults for a single-hart machine with
// no image attached; callers must set Image at minimum before launching.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		Harts:        1,
		RAMBytes:     128 << 20,
		ConsoleTTY:   true,
		ToHostAddr:   0x8000_1000,
		FromHostAddr: 0x8000_1040,
		CacheLineLen: 64,
		CacheLines:   256,
	}
}

// LoadMachineConfig reads and parses a YAML machine config from path,
// starting from DefaultMachineConfig so a config file only needs to
// override what it cares about.
func LoadMachineConfig(path string) (MachineConfig, error) {
	cfg := DefaultMachineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("riscv: config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("riscv: config: %w", err)
	}
	if cfg.Harts <= 0 {
		return cfg, fmt.Errorf("riscv: config: harts must be positive, got %d", cfg.Harts)
	}
	return cfg, nil
}
