package simulator

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DefaultIdentity is the *IDN? answer of the simulated supply.
const DefaultIdentity = "PSU-SIM,DC310S,000000,1.0"

// State is a snapshot of the simulated supply.
type State struct {
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	Protection float64 `json:"protection"`
	Output     bool    `json:"output"`
	Tripped    bool    `json:"tripped"`
	Load       float64 `json:"load"`
}

// store holds the instrument registers. A resistive load decides the
// measured current; exceeding the protection level trips the output.
type store struct {
	mu       sync.RWMutex
	identity string
	st       State
	silent   bool
	commands int
}

func newStore() *store {
	return &store{
		identity: DefaultIdentity,
		st:       State{Load: 25},
	}
}

func (s *store) snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *store) setLoad(ohms float64) {
	s.mu.Lock()
	s.st.Load = ohms
	s.mu.Unlock()
}

func (s *store) setSilent(v bool) {
	s.mu.Lock()
	s.silent = v
	s.mu.Unlock()
}

// measuredCurrent is the load current, clamped to the current limit.
// Callers hold the lock.
func (s *store) measuredCurrent() float64 {
	if !s.st.Output || s.st.Load <= 0 {
		return 0
	}
	i := s.st.Voltage / s.st.Load
	if i > s.st.Current {
		i = s.st.Current
	}
	return i
}

// checkProtection trips the output when the load draws more than the
// protection level. Callers hold the write lock.
func (s *store) checkProtection() {
	if !s.st.Output || s.st.Protection <= 0 || s.st.Load <= 0 {
		return
	}
	if s.st.Voltage/s.st.Load > s.st.Protection {
		s.st.Output = false
		s.st.Tripped = true
	}
}

func parseValue(arg string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	return v, err == nil
}

// handleLine executes one command line and returns the answer, or "" when
// the command has none.
func (s *store) handleLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands++

	upper := strings.ToUpper(line)
	var resp string
	switch {
	case upper == "*IDN?":
		resp = s.identity
	case upper == "MEAS:VOLT?":
		v := 0.0
		if s.st.Output {
			v = s.st.Voltage
		}
		resp = fmt.Sprintf("%.3f", v)
	case upper == "MEAS:CURR?":
		resp = fmt.Sprintf("%.3f", s.measuredCurrent())
	case upper == "MEAS:POW?":
		v := 0.0
		if s.st.Output {
			v = s.st.Voltage
		}
		resp = fmt.Sprintf("%.3f", v*s.measuredCurrent())
	case strings.HasPrefix(upper, ":CURR:PROT "):
		if v, ok := parseValue(line[len(":CURR:PROT "):]); ok {
			s.st.Protection = v
			s.checkProtection()
		}
	case strings.HasPrefix(upper, ":VOLT "):
		if v, ok := parseValue(line[len(":VOLT "):]); ok {
			s.st.Voltage = v
			s.checkProtection()
		}
	case strings.HasPrefix(upper, "CURR: "):
		if v, ok := parseValue(line[len("CURR: "):]); ok {
			s.st.Current = v
		}
	case upper == ":OUTP ON":
		s.st.Output = true
		s.st.Tripped = false
		s.checkProtection()
	case upper == ":OUTP OFF":
		s.st.Output = false
	}
	if s.silent || resp == "" {
		return ""
	}
	return resp + "\n"
}
