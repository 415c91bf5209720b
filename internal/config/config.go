package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/macsched/sched"
)

// SIB describes one system information block in the carrier config file.
type SIB struct {
	Len      uint32 `yaml:"len"`
	PeriodRF uint32 `yaml:"period_rf"`
}

// Prach holds the random access channel settings.
type Prach struct {
	ConfigIndex uint32 `yaml:"config_index"`
	FreqOffset  uint32 `yaml:"freq_offset"`
	RARWindow   uint32 `yaml:"rar_window"`
}

// Carrier is the on-disk carrier configuration.
type Carrier struct {
	NofPRB     uint32  `yaml:"nof_prb"`
	NrbPucch   uint32  `yaml:"nrb_pucch"`
	SIWindowMs uint32  `yaml:"si_window_ms"`
	Prach      Prach   `yaml:"prach"`
	SIBs       []SIB   `yaml:"sibs"`
	DLTTIMask  []uint8 `yaml:"dl_tti_mask"`
}

// Default returns a 25-PRB carrier with SIB1 plus one secondary SIB.
func Default() Carrier {
	return Carrier{
		NofPRB:     25,
		NrbPucch:   2,
		SIWindowMs: 10,
		Prach: Prach{
			ConfigIndex: 3,
			FreqOffset:  2,
			RARWindow:   10,
		},
		SIBs: []SIB{
			{Len: 18, PeriodRF: 8},
			{Len: 41, PeriodRF: 16},
		},
	}
}

// Load reads a carrier configuration from a YAML file, applying defaults
// before overlaying the file contents.
func Load(path string) (Carrier, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read carrier config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse carrier config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks the invariants the scheduler depends on.
func (c Carrier) Validate() error {
	if c.NofPRB == 0 {
		return fmt.Errorf("nof_prb must be positive")
	}
	if c.Prach.FreqOffset+6 > c.NofPRB {
		return fmt.Errorf("prach region [%d,%d) exceeds cell bandwidth %d",
			c.Prach.FreqOffset, c.Prach.FreqOffset+6, c.NofPRB)
	}
	if c.Prach.RARWindow == 0 {
		return fmt.Errorf("prach.rar_window must be positive")
	}
	if c.SIWindowMs == 0 {
		return fmt.Errorf("si_window_ms must be positive")
	}
	if len(c.SIBs) > sched.MaxSIBs {
		return fmt.Errorf("at most %d sibs are supported, got %d", sched.MaxSIBs, len(c.SIBs))
	}
	for i, sib := range c.SIBs {
		if sib.Len > 0 && sib.PeriodRF == 0 {
			return fmt.Errorf("sib %d has a payload but no period", i)
		}
	}
	if 2*c.NrbPucch > c.NofPRB {
		return fmt.Errorf("nrb_pucch %d does not fit cell bandwidth %d", c.NrbPucch, c.NofPRB)
	}
	return nil
}

// Cell converts the file representation into the scheduler's cell config.
func (c Carrier) Cell() sched.CellConfig {
	cell := sched.CellConfig{
		NofPRB:          c.NofPRB,
		SIWindowMs:      c.SIWindowMs,
		PrachConfig:     c.Prach.ConfigIndex,
		PrachFreqOffset: c.Prach.FreqOffset,
		PrachRARWindow:  c.Prach.RARWindow,
		NrbPucch:        c.NrbPucch,
	}
	for i, sib := range c.SIBs {
		if i >= sched.MaxSIBs {
			break
		}
		cell.SIBs[i] = sched.SIBConfig{Len: sib.Len, PeriodRF: sib.PeriodRF}
	}
	return cell
}
