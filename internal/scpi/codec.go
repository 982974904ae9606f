// Package scpi maps DC310S commands to the exact bytes the instrument accepts
// and turns raw responses back into text.
package scpi

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"psu-logger/internal/model"
)

// Command identifies one logical instrument command.
type Command int

const (
	Identify Command = iota
	SetVoltage
	SetCurrent
	SetProtection
	OutputOn
	OutputOff
	MeasureVoltage
	MeasureCurrent
	MeasurePower
)

var commandNames = map[Command]string{
	Identify:       "identify",
	SetVoltage:     "set_voltage",
	SetCurrent:     "set_current",
	SetProtection:  "set_protection",
	OutputOn:       "output_on",
	OutputOff:      "output_off",
	MeasureVoltage: "measure_voltage",
	MeasureCurrent: "measure_current",
	MeasurePower:   "measure_power",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "unknown"
}

// IsQuery reports whether the instrument is expected to answer the command.
func (c Command) IsQuery() bool {
	switch c {
	case Identify, MeasureVoltage, MeasureCurrent, MeasurePower:
		return true
	}
	return false
}

// Output on/off only work with these exact sequences, terminator count
// included (":OUTP ON\n\n\n" and ":OUTP OFF\n\n").
var (
	outputOnBytes  = []byte{0x3A, 0x4F, 0x55, 0x54, 0x50, 0x20, 0x4F, 0x4E, 0x0A, 0x0A, 0x0A}
	outputOffBytes = []byte{0x3A, 0x4F, 0x55, 0x54, 0x50, 0x20, 0x4F, 0x46, 0x46, 0x0A, 0x0A}
)

var fixed = map[Command]string{
	Identify:       "*IDN?\n",
	MeasureVoltage: "MEAS:VOLT?\n",
	MeasureCurrent: "MEAS:CURR?\n",
	MeasurePower:   "MEAS:POW?\n",
}

// Setting templates; the parameter is inserted verbatim.
var templates = map[Command][2]string{
	SetVoltage:    {":VOLT ", "\n\n"},
	SetCurrent:    {"CURR: ", "\n\n"},
	SetProtection: {":CURR:PROT ", "\n\n"},
}

// Encode returns the wire bytes for cmd. param is only used by the setting
// commands and is embedded as-is. Unknown commands encode to nil.
func Encode(cmd Command, param string) []byte {
	switch cmd {
	case OutputOn:
		return append([]byte(nil), outputOnBytes...)
	case OutputOff:
		return append([]byte(nil), outputOffBytes...)
	}
	if s, ok := fixed[cmd]; ok {
		return []byte(s)
	}
	if t, ok := templates[cmd]; ok {
		return []byte(t[0] + param + t[1])
	}
	return nil
}

// Decode converts a raw response into trimmed text. It never fails: bytes
// that are not valid UTF-8 are dropped and surrounding whitespace and
// control bytes are stripped.
func Decode(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	s = strings.ReplaceAll(s, string(utf8.RuneError), "")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// ParseReading turns a decoded answer into a Reading. Whatever text the
// instrument sent is kept, NR3 exponents included; only a blank answer is
// missing. Numeric checks happen in Reading.Float64.
func ParseReading(text string) model.Reading {
	return model.Reading(strings.TrimSpace(text))
}

// FormatDecimal renders v as plain decimal text, with no exponent and no
// forced precision.
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
