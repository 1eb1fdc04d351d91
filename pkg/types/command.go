package types

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned when a command type is not recognized.
var ErrUnknownCommand = errors.New("unknown command")

// CommandType is a discrete operator action.
type CommandType string

const (
	CommandRectifierOn      CommandType = "RECT_ON"
	CommandRectifierOff     CommandType = "RECT_OFF"
	CommandInverterOn       CommandType = "INV_ON"
	CommandInverterOff      CommandType = "INV_OFF"
	CommandTransferBypass   CommandType = "TRANSFER_BYPASS"
	CommandTransferInverter CommandType = "TRANSFER_INVERTER"
	CommandTransferMaint    CommandType = "TRANSFER_MAINT"
	CommandReturnMaint      CommandType = "RETURN_MAINT"
	CommandEPO              CommandType = "EPO"
	CommandAckAlarm         CommandType = "ACK_ALARM"
	CommandFaultReset       CommandType = "FAULT_RESET"
)

var commandTypes = map[CommandType]struct{}{
	CommandRectifierOn:      {},
	CommandRectifierOff:     {},
	CommandInverterOn:       {},
	CommandInverterOff:      {},
	CommandTransferBypass:   {},
	CommandTransferInverter: {},
	CommandTransferMaint:    {},
	CommandReturnMaint:      {},
	CommandEPO:              {},
	CommandAckAlarm:         {},
	CommandFaultReset:       {},
}

// Command is an operator command. Module selects the target module letter in
// the parallel installation; empty targets every module.
type Command struct {
	Type   CommandType `json:"type"`
	Module string      `json:"module,omitempty"`
}

// Validate checks the command type is known and the module, if any, exists.
func (c Command) Validate() error {
	if _, ok := commandTypes[c.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
	if c.Module != "" {
		if _, ok := ModuleIndex(c.Module); !ok {
			return fmt.Errorf("unknown module: %q", c.Module)
		}
	}
	return nil
}

// Modules returns the module indexes the command targets.
func (c Command) Modules() []int {
	if i, ok := ModuleIndex(c.Module); ok {
		return []int{i}
	}
	all := make([]int, ModuleCount)
	for i := range all {
		all[i] = i
	}
	return all
}
