package scpi

import "psu-logger/internal/model"

// OutputCommand picks the fixed on/off command for the requested state.
func OutputCommand(s model.OutputState) Command {
	if s == model.OutputOn {
		return OutputOn
	}
	return OutputOff
}

// MeasureCommands is the order in which a measurement triple is read.
var MeasureCommands = [3]Command{MeasureVoltage, MeasureCurrent, MeasurePower}
