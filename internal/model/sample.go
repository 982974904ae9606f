package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Settings are pushed to the instrument verbatim. Values are decimal text and
// are not validated or rounded here.
type Settings struct {
	Voltage    string `json:"voltage" yaml:"voltage"`
	Current    string `json:"current" yaml:"current"`
	Protection string `json:"protection" yaml:"protection"`
}

// OutputState is the instrument-side output switch. It is never cached.
type OutputState int

const (
	OutputOff OutputState = iota
	OutputOn
)

func (s OutputState) String() string {
	if s == OutputOn {
		return "on"
	}
	return "off"
}

// ParseOutputState accepts on/off, 1/0 and true/false.
func ParseOutputState(s string) (OutputState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return OutputOn, nil
	case "off", "0", "false":
		return OutputOff, nil
	default:
		return OutputOff, fmt.Errorf("invalid output state %q", s)
	}
}

// Reading is the decimal text reported for one field. The empty Reading
// means the instrument gave no usable answer.
type Reading string

func (r Reading) IsEmpty() bool { return r == "" }

// Float64 parses the reading. ok is false for an empty or non-numeric
// reading, and for NaN and Inf.
func (r Reading) Float64() (float64, bool) {
	if r.IsEmpty() {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(r), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// OrZero coerces missing readings to zero for display purposes only.
func (r Reading) OrZero() float64 {
	v, _ := r.Float64()
	return v
}

// Ptr returns nil for an empty reading, for nullable storage columns.
func (r Reading) Ptr() *string {
	if r.IsEmpty() {
		return nil
	}
	s := string(r)
	return &s
}

func ReadingFromPtr(p *string) Reading {
	if p == nil {
		return ""
	}
	return Reading(*p)
}

// Sample is one coherent voltage/current/power triple. Timestamp is taken
// once before the three reads.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Voltage   Reading   `json:"voltage"`
	Current   Reading   `json:"current"`
	Power     Reading   `json:"power"`
}

// Complete reports whether all three fields carry a value.
func (s Sample) Complete() bool {
	return !s.Voltage.IsEmpty() && !s.Current.IsEmpty() && !s.Power.IsEmpty()
}

// Record is a Sample as appended to a log, with an optional signal label.
type Record struct {
	Sample
	Signal string `json:"signal,omitempty"`
}
