package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mastercactapus/zstage/stage"
)

type console struct {
	xy  *stage.XY
	raw LineDoer
	rl  *readline.Instance
}

func newConsole(xy *stage.XY, raw LineDoer) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "zstage> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	return &console{xy: xy, raw: raw, rl: rl}, nil
}

// Stderr returns a writer that does not interfere with the prompt.
func (c *console) Stderr() io.Writer { return c.rl.Stderr() }

// Run reads commands until EOF, quit or ctx is done.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	printHelp(c.rl.Stdout())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			cancel()
			return
		}
		if c.exec(ctx, c.rl.Stdout(), line) {
			cancel()
			return
		}
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands:
  home [axis]          home an axis, or both
  move <x> <y>         move to x, y (mm)
  moverel <dx> <dy>    move by dx, dy (mm)
  stop [axis]          stop an axis, or both
  pos                  print the position (mm)
  status [axis]        print the device status and axis states
  speed [<x> <y>]      print or set the maximum speed (mm/s)
  raw <command>        send a raw command, e.g. "raw /1 0 get pos"
  quit                 exit`)
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	res := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		res[i] = v
	}
	return res, nil
}

func parseAxis(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return strconv.Atoi(args[0])
}

// exec runs a single console command. It reports whether the console
// should exit.
func (c *console) exec(ctx context.Context, w io.Writer, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		printHelp(w)
	case "quit", "exit", "q":
		return true
	case "home":
		var axis int
		axis, err = parseAxis(args)
		if err == nil {
			err = c.xy.Home(ctx, axis)
		}
	case "move", "moverel":
		var v []float64
		v, err = parseFloats(args, 2)
		if err == nil {
			err = c.xy.MoveMM(ctx, v[0], v[1], cmd == "moverel", true)
		}
		if err == nil {
			err = c.printPos(ctx, w)
		}
	case "stop":
		var axis int
		axis, err = parseAxis(args)
		if err == nil {
			err = c.xy.Stop(ctx, axis)
		}
	case "pos":
		err = c.printPos(ctx, w)
	case "status":
		var axis int
		axis, err = parseAxis(args)
		if err == nil {
			err = c.printStatus(ctx, w, axis)
		}
	case "speed":
		if len(args) > 0 {
			var v []float64
			v, err = parseFloats(args, 2)
			if err == nil {
				err = c.xy.SetMaxSpeed(ctx, v[0], v[1])
			}
		}
		if err == nil {
			var x, y float64
			x, y, err = c.xy.MaxSpeed(ctx)
			if err == nil {
				fmt.Fprintf(w, "maxspeed %.3f, %.3f mm/s\n", x, y)
			}
		}
	case "raw":
		if len(args) == 0 {
			err = errors.New("raw: command required")
			break
		}
		r, rerr := c.raw.DoLine(ctx, strings.Join(args, " "))
		if r != nil {
			fmt.Fprintln(w, r.String())
		}
		err = rerr
	default:
		err = fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		fmt.Fprintln(w, "ERROR:", err)
	}
	return false
}

func (c *console) printPos(ctx context.Context, w io.Writer) error {
	p, err := c.xy.PositionMM(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "position %.6f, %.6f mm\n", p.X, p.Y)
	return nil
}

func (c *console) printStatus(ctx context.Context, w io.Writer, axis int) error {
	st, err := c.xy.Status(ctx, axis)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "status %s", st)
	for _, a := range c.xy.Axes() {
		fmt.Fprintf(w, ", axis %d %s", a, c.xy.State(a))
	}
	fmt.Fprintln(w)
	return nil
}
