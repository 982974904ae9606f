package tasks

import (
	"fmt"
	"strings"
	"time"
)

// Point is one rail of a board under test.
type Point struct {
	Signal  string `yaml:"signal"`
	Voltage string `yaml:"voltage"`
}

// Plan is the batch sequence run by RailRunner.
type Plan struct {
	Current    string        `yaml:"current"`
	Protection string        `yaml:"protection"`
	OffDelay   time.Duration `yaml:"off_delay"`
	ApplyDelay time.Duration `yaml:"apply_delay"`
	OnDelay    time.Duration `yaml:"on_delay"`
	Hold       time.Duration `yaml:"hold"`
	Points     []Point       `yaml:"points"`
}

const (
	DefaultCurrent    = "6"
	DefaultProtection = "5"
	DefaultOffDelay   = 500 * time.Millisecond
	DefaultApplyDelay = time.Second
	DefaultOnDelay    = 2 * time.Second
)

// DefaultPoints are the rails of the reference board.
func DefaultPoints() []Point {
	return []Point{
		{Signal: "VCC", Voltage: "5"},
		{Signal: "VCCIN", Voltage: "5"},
		{Signal: "V3_3V", Voltage: "3.3"},
		{Signal: "V12V", Voltage: "12"},
	}
}

// ApplyDefaults fills unset fields. hold is used when Hold is zero.
func (p *Plan) ApplyDefaults(hold time.Duration) {
	if p.Current == "" {
		p.Current = DefaultCurrent
	}
	if p.Protection == "" {
		p.Protection = DefaultProtection
	}
	if p.OffDelay == 0 {
		p.OffDelay = DefaultOffDelay
	}
	if p.ApplyDelay == 0 {
		p.ApplyDelay = DefaultApplyDelay
	}
	if p.OnDelay == 0 {
		p.OnDelay = DefaultOnDelay
	}
	if p.Hold == 0 {
		p.Hold = hold
	}
	if len(p.Points) == 0 {
		p.Points = DefaultPoints()
	}
}

func (p Plan) Validate() error {
	if p.OffDelay < 0 || p.ApplyDelay < 0 || p.OnDelay < 0 || p.Hold < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	seen := make(map[string]bool, len(p.Points))
	for i, pt := range p.Points {
		if strings.TrimSpace(pt.Signal) == "" {
			return fmt.Errorf("points[%d]: signal is required", i)
		}
		if strings.TrimSpace(pt.Voltage) == "" {
			return fmt.Errorf("points[%d] %s: voltage is required", i, pt.Signal)
		}
		if seen[pt.Signal] {
			return fmt.Errorf("points[%d]: duplicate signal %s", i, pt.Signal)
		}
		seen[pt.Signal] = true
	}
	return nil
}
