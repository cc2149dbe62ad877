// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package script runs a list of Modbus commands read from a YAML file.
//
//	slave: 1
//	stop_on_error: true
//	steps:
//	  - op: read-holding-registers
//	    address: 0
//	    quantity: 2
//	  - op: write-register
//	    address: 10
//	    value: 0x1234
//	    delay: 100ms
//	  - op: raw
//	    frame: "01 03 00 00 00 01"
package script

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JackLamWC/mb-rtu-master/master"
	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
)

// Operations, named like the CLI commands.
const (
	OpReadCoils            = "read-coils"
	OpReadHoldingRegisters = "read-holding-registers"
	OpReadInputRegisters   = "read-input-registers"
	OpWriteCoil            = "write-coil"
	OpWriteRegister        = "write-register"
	OpWriteCoils           = "write-coils"
	OpWriteRegisters       = "write-registers"
	OpRaw                  = "raw"
)

type Script struct {
	// Slave is used by steps that do not name their own.
	Slave       byte   `yaml:"slave"`
	StopOnError bool   `yaml:"stop_on_error"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Name     string        `yaml:"name"`
	Op       string        `yaml:"op"`
	Slave    byte          `yaml:"slave"`
	Address  uint16        `yaml:"address"`
	Quantity uint16        `yaml:"quantity"`
	Value    uint16        `yaml:"value"`
	On       bool          `yaml:"on"`
	Values   []uint16      `yaml:"values"`
	Coils    []bool        `yaml:"coils"`
	Frame    string        `yaml:"frame"`
	Timeout  time.Duration `yaml:"timeout"`
	// Delay is waited after the step.
	Delay time.Duration `yaml:"delay"`
}

// Dispatcher runs one command. *master.Engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd modbus.Command) master.Outcome
}

// Result pairs a step with its outcome.
type Result struct {
	Index   int
	Step    Step
	Command modbus.Command
	Outcome master.Outcome
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes a script and checks that every step builds a command.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}
	for i, step := range s.Steps {
		if _, err := step.Command(s.Slave); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.label(), err)
		}
	}
	return &s, nil
}

// Command builds the command for a step.
func (s Step) Command(defaultSlave byte) (modbus.Command, error) {
	slave := s.Slave
	if slave == 0 {
		slave = defaultSlave
	}

	var cmd modbus.Command
	switch s.Op {
	case OpReadCoils:
		cmd = modbus.ReadCoils(slave, s.Address, s.Quantity)
	case OpReadHoldingRegisters:
		cmd = modbus.ReadHoldingRegisters(slave, s.Address, s.Quantity)
	case OpReadInputRegisters:
		cmd = modbus.ReadInputRegisters(slave, s.Address, s.Quantity)
	case OpWriteCoil:
		cmd = modbus.WriteSingleCoil(slave, s.Address, s.On)
	case OpWriteRegister:
		cmd = modbus.WriteSingleRegister(slave, s.Address, s.Value)
	case OpWriteCoils:
		cmd = modbus.WriteMultipleCoils(slave, s.Address, s.Coils)
	case OpWriteRegisters:
		cmd = modbus.WriteMultipleRegisters(slave, s.Address, s.Values)
	case OpRaw:
		frame, err := rtu.ParseHex(s.Frame)
		if err != nil {
			return modbus.Command{}, err
		}
		cmd = modbus.RawCommand(frame)
	default:
		return modbus.Command{}, fmt.Errorf("%w: unknown op %q", modbus.ErrInvalidParameter, s.Op)
	}
	cmd.Timeout = s.Timeout

	// Reject what the codec would reject before anything runs.
	if _, err := rtu.Encode(cmd); err != nil {
		return modbus.Command{}, err
	}
	return cmd, nil
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Op
}

// Run dispatches the steps in order and calls report after each. With
// StopOnError the first failed step ends the run with its error.
func Run(ctx context.Context, d Dispatcher, s *Script, report func(Result)) ([]Result, error) {
	results := make([]Result, 0, len(s.Steps))
	for i, step := range s.Steps {
		cmd, err := step.Command(s.Slave)
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i+1, step.label(), err)
		}

		res := Result{Index: i, Step: step, Command: cmd, Outcome: d.Dispatch(ctx, cmd)}
		results = append(results, res)
		if report != nil {
			report(res)
		}
		if !res.Outcome.Success() && s.StopOnError {
			return results, fmt.Errorf("step %d (%s): %w", i+1, step.label(), res.Outcome.Err)
		}

		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(step.Delay):
			}
		}
	}
	return results, nil
}

// Failed counts the results that did not succeed.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Outcome.Success() {
			n++
		}
	}
	return n
}
