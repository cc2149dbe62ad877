// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/JackLamWC/mb-rtu-master/internal/script"
	"github.com/JackLamWC/mb-rtu-master/master"
	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
	serialrtu "github.com/JackLamWC/mb-rtu-master/transport/rtu"
)

func addressFlag() cli.Flag {
	return &cli.UintFlag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "Starting address",
		Required: true,
	}
}

func quantityFlag(limit int) cli.Flag {
	return &cli.UintFlag{
		Name:     "quantity",
		Aliases:  []string{"q"},
		Usage:    fmt.Sprintf("Number of items to read (1-%d)", limit),
		Required: true,
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: hex, decimal",
		Value: "hex",
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "ports",
			Usage:  "List serial ports",
			Action: portsAction,
		},
		{
			Name:  "read-coils",
			Usage: "Read coils (function code 1)",
			Flags: []cli.Flag{addressFlag(), quantityFlag(modbus.MaxReadCoils)},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				address, quantity, err := span(c)
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.ReadCoils(slave, address, quantity), nil
			}),
		},
		{
			Name:  "read-holding-registers",
			Usage: "Read holding registers (function code 3)",
			Flags: []cli.Flag{addressFlag(), quantityFlag(modbus.MaxReadRegisters), formatFlag()},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				address, quantity, err := span(c)
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.ReadHoldingRegisters(slave, address, quantity), nil
			}),
		},
		{
			Name:  "read-input-registers",
			Usage: "Read input registers (function code 4)",
			Flags: []cli.Flag{addressFlag(), quantityFlag(modbus.MaxReadRegisters), formatFlag()},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				address, quantity, err := span(c)
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.ReadInputRegisters(slave, address, quantity), nil
			}),
		},
		{
			Name:  "write-coil",
			Usage: "Write a single coil (function code 5)",
			Flags: []cli.Flag{
				addressFlag(),
				&cli.StringFlag{Name: "value", Usage: "on or off", Required: true},
			},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				on, err := parseCoil(c.String("value"))
				if err != nil {
					return modbus.Command{}, err
				}
				address, err := wordFlag(c, "address")
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.WriteSingleCoil(slave, address, on), nil
			}),
		},
		{
			Name:  "write-register",
			Usage: "Write a single holding register (function code 6)",
			Flags: []cli.Flag{
				addressFlag(),
				&cli.StringFlag{Name: "value", Usage: "Register value, decimal or 0x hex", Required: true},
			},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				values, err := parseRegisters(c.String("value"))
				if err != nil {
					return modbus.Command{}, err
				}
				if len(values) != 1 {
					return modbus.Command{}, fmt.Errorf("%w: expected one value", modbus.ErrInvalidParameter)
				}
				address, err := wordFlag(c, "address")
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.WriteSingleRegister(slave, address, values[0]), nil
			}),
		},
		{
			Name:  "write-coils",
			Usage: "Write multiple coils (function code 15)",
			Flags: []cli.Flag{
				addressFlag(),
				&cli.StringFlag{Name: "values", Usage: "Comma separated states, e.g. 1,0,on,off", Required: true},
			},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				coils, err := parseCoils(c.String("values"))
				if err != nil {
					return modbus.Command{}, err
				}
				address, err := wordFlag(c, "address")
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.WriteMultipleCoils(slave, address, coils), nil
			}),
		},
		{
			Name:  "write-registers",
			Usage: "Write multiple holding registers (function code 16)",
			Flags: []cli.Flag{
				addressFlag(),
				&cli.StringFlag{Name: "values", Usage: "Comma separated values, decimal or 0x hex", Required: true},
			},
			Action: dispatchAction(func(c *cli.Context, slave byte) (modbus.Command, error) {
				values, err := parseRegisters(c.String("values"))
				if err != nil {
					return modbus.Command{}, err
				}
				address, err := wordFlag(c, "address")
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.WriteMultipleRegisters(slave, address, values), nil
			}),
		},
		{
			Name:      "raw",
			Usage:     "Send a raw frame; the CRC is appended",
			ArgsUsage: `"01 03 00 00 00 02"`,
			Action: dispatchAction(func(c *cli.Context, _ byte) (modbus.Command, error) {
				frame, err := rtu.ParseHex(strings.Join(c.Args().Slice(), " "))
				if err != nil {
					return modbus.Command{}, err
				}
				return modbus.RawCommand(frame), nil
			}),
		},
		{
			Name:      "run",
			Usage:     "Run a YAML script of commands",
			ArgsUsage: "script.yaml",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "history", Usage: "Print the transaction log after the run"},
			},
			Action: runAction,
		},
	}
}

func portsAction(c *cli.Context) error {
	ports, err := serialrtu.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(c.App.Writer, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(c.App.Writer, p)
	}
	return nil
}

// dispatchAction builds a single command and runs it on a fresh engine.
// Parameter errors are reported before the port is opened.
func dispatchAction(build func(c *cli.Context, slave byte) (modbus.Command, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		cmd, err := build(c, byte(cfg.Engine.SlaveID))
		if err != nil {
			return err
		}
		if _, err := rtu.Encode(cmd); err != nil {
			return err
		}
		return withEngine(c, func(ctx context.Context, e *master.Engine) error {
			out := e.Dispatch(ctx, cmd)
			if !out.Success() {
				return out.Err
			}
			printOutcome(c.App.Writer, cmd, out, c.String("format"))
			return nil
		})
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: rtumaster run script.yaml")
	}
	s, err := script.Load(c.Args().First())
	if err != nil {
		return err
	}
	return withEngine(c, func(ctx context.Context, e *master.Engine) error {
		results, err := script.Run(ctx, e, s, func(r script.Result) {
			fmt.Fprintf(c.App.Writer, "# step %d: %s\n", r.Index+1, r.Command)
			printOutcome(c.App.Writer, r.Command, r.Outcome, "hex")
		})
		if c.Bool("history") {
			printHistory(c.App.Writer, e.History())
		}
		if err != nil {
			return err
		}
		if n := script.Failed(results); n > 0 {
			return fmt.Errorf("%d of %d steps failed", n, len(results))
		}
		return nil
	})
}

func printOutcome(w io.Writer, cmd modbus.Command, out master.Outcome, format string) {
	if !out.Success() {
		fmt.Fprintf(w, "Error: %v\n", out.Err)
		return
	}
	switch cmd.FunctionCode {
	case modbus.FuncCodeReadCoils:
		for i, on := range out.Coils {
			fmt.Fprintf(w, "0x%04X: %d\n", int(cmd.Address)+i, boolInt(on))
		}
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		for i, v := range out.Registers {
			switch format {
			case "decimal":
				fmt.Fprintf(w, "0x%04X: %d\n", int(cmd.Address)+i, v)
			default: // hex
				fmt.Fprintf(w, "0x%04X: 0x%04X\n", int(cmd.Address)+i, v)
			}
		}
	case modbus.FuncCodeRaw:
		fmt.Fprintln(w, rtu.FormatHex(out.Response))
	default:
		fmt.Fprintf(w, "OK address 0x%04X value 0x%04X (%v)\n", out.Address, out.Value, out.Elapsed)
	}
}

func printHistory(w io.Writer, history []master.Transaction) {
	fmt.Fprintln(w, "# seq  func                      ms  state      request -> response")
	for _, tx := range history {
		fmt.Fprintf(w, "%5d  %-24s %4d  %-9s  %s -> %s\n",
			tx.Seq, modbus.FunctionName(tx.Command.FunctionCode), tx.ResponseTime(), tx.State, tx.RequestHex(), tx.ResponseHex())
	}
}

// wordFlag reads a numeric flag that must fit a 16-bit protocol field.
func wordFlag(c *cli.Context, name string) (uint16, error) {
	v := c.Uint(name)
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("%w: --%s %d must be between 0 and %d", modbus.ErrInvalidParameter, name, v, math.MaxUint16)
	}
	return uint16(v), nil
}

// span reads the --address and --quantity flags of a read command.
func span(c *cli.Context) (address, quantity uint16, err error) {
	if address, err = wordFlag(c, "address"); err != nil {
		return 0, 0, err
	}
	if quantity, err = wordFlag(c, "quantity"); err != nil {
		return 0, 0, err
	}
	return address, quantity, nil
}

func parseCoil(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid coil state %q", modbus.ErrInvalidParameter, s)
}

func parseCoils(s string) ([]bool, error) {
	var coils []bool
	for _, part := range strings.Split(s, ",") {
		on, err := parseCoil(part)
		if err != nil {
			return nil, err
		}
		coils = append(coils, on)
	}
	return coils, nil
}

func parseRegisters(s string) ([]uint16, error) {
	var values []uint16
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid register value %q", modbus.ErrInvalidParameter, part)
		}
		values = append(values, uint16(v))
	}
	return values, nil
}

func boolInt(on bool) int {
	if on {
		return 1
	}
	return 0
}
