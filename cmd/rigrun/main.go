// Command rigrun runs one script directly against a bench, without a server.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"thrustrig/config"
	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/debug"
	"thrustrig/registry"
	"thrustrig/runtime"
	"thrustrig/telemetry"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: rigrun [flags] <script>

flags:
  --config <file>   config file (default ~/.thrustrig/config.yaml)
  --port <device>   serial port
  --baud <n>        baud rate
  --dummy           use the simulated bench
  --monitor         log every raw line from the bench
  --out <file.csv>  write recorded points to a CSV file
  --cells <file>    write spreadsheet cells to a CSV file
  --debug, -d       trace parsing and execution
`)
	os.Exit(1)
}

func main() {
	args := os.Args[1:]
	configPath := config.DefaultPath()
	var port, out, cellsOut, script string
	var baud int
	var dummy, debugOn, monitor bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "--port", "--baud", "--out", "--cells":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires an argument\n", args[i])
				os.Exit(1)
			}
			v := args[i+1]
			switch args[i] {
			case "--config":
				configPath = v
			case "--port":
				port = v
			case "--baud":
				n, err := strconv.Atoi(v)
				if err != nil {
					fmt.Fprintf(os.Stderr, "--baud: %v\n", err)
					os.Exit(1)
				}
				baud = n
			case "--out":
				out = v
			case "--cells":
				cellsOut = v
			}
			i++
		case "--dummy":
			dummy = true
		case "--monitor":
			monitor = true
		case "--debug", "-d":
			debugOn = true
		case "-h", "--help":
			usage()
		default:
			if script != "" {
				usage()
			}
			script = args[i]
		}
	}
	if script == "" {
		usage()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if port != "" {
		cfg.Serial.Port = port
	}
	if baud != 0 {
		cfg.Serial.Baud = baud
	}
	cfg.Dummy = cfg.Dummy || dummy
	cfg.Monitor = cfg.Monitor || monitor
	debug.Enabled = cfg.Debug || debugOn

	reg := registry.New()
	if err := reg.Scan(cfg.ScriptsDir); err != nil {
		log.Printf("warning: %v", err)
	}
	path, err := reg.Resolve(script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, path, out, cellsOut))
}

func run(cfg *config.Config, path, out, cellsOut string) int {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	opts := telemetry.Options{Dummy: cfg.Dummy, Offsets: cfg.ChannelOffsets()}
	if cfg.Monitor {
		opts.Tap = func(line string) { log.Printf("serial: %s", line) }
	}
	board, conn, err := telemetry.Connect(ctx, telemetry.SerialConfig{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n(use --dummy to run without hardware)\n", err)
		return 1
	}
	defer conn.Close()

	sheet := datasheet.New()
	sheet.OnPoint(func(p datasheet.Point) {
		fmt.Printf("%8dms  thr %3d%%  thrust %s  torque %s  %sV  %sA\n",
			p.ElapsedMs, p.Throttle, fmtValue(p.Cell1), fmtValue(p.Cell2), fmtValue(p.Voltage), fmtValue(p.Current))
	})

	ctl := controller.New(board, runtime.WithSheet(sheet))
	outcome := make(chan controller.Outcome, 1)
	if err := ctl.Run(path, datasheet.Recorder(board, sheet), func(o controller.Outcome) {
		outcome <- o
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var o controller.Outcome
	for done := false; !done; {
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "cancelling...")
			ctl.Cancel()
		case o = <-outcome:
			done = true
		}
	}

	if err := board.SetThrottle(0); err != nil {
		log.Printf("warning: could not stop the motor: %v", err)
	}

	if out != "" {
		if err := sheet.ExportCSV(out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %d point(s) to %s\n", sheet.Len(), out)
	}
	if cellsOut != "" && sheet.SpreadsheetMode() {
		if err := sheet.ExportCells(cellsOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	switch o.State {
	case controller.Completed:
		fmt.Printf("completed in %s, %d point(s)\n", o.Elapsed.Round(time.Millisecond), o.Points)
		return 0
	case controller.Aborted:
		fmt.Printf("aborted after %s, %d point(s)\n", o.Elapsed.Round(time.Millisecond), o.Points)
		return 130
	default:
		fmt.Fprintf(os.Stderr, "failed: %v\n", o.Err)
		return 1
	}
}

func fmtValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
