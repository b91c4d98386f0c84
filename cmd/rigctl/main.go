package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"thrustrig/bench"
	"thrustrig/config"
	"thrustrig/console"
	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/debug"
	"thrustrig/parser"
	"thrustrig/registry"
	"thrustrig/rig"
	"thrustrig/runtime"
	"thrustrig/scripts"
	"thrustrig/sexp"
	"thrustrig/telemetry"
)

var commands = map[string]func(args []string){
	"serve":    cmdServe,
	"run":      cmdRun,
	"cancel":   cmdCancel,
	"throttle": cmdThrottle,
	"zero":     cmdZero,
	"status":   cmdStatus,
	"check":    cmdCheck,
	"console":  cmdConsole,
	"export":   cmdExport,
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
	}

	cmd(os.Args[2:])
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: rigctl <command> [args...]

commands:
  serve              Start the bench server (serial port or --dummy;
                     --monitor logs raw serial lines)
  run <script>       Run a script by name or path and print its points
  cancel             Cancel the running script
  throttle <0-100>   Set the throttle by hand
  zero [channel]     Zero one channel, or all of them
  status             Print the bench status
  check <script>     Parse a script and print its tree
  console            Open the operator console
  export <file.csv>  Write the last run's points to a CSV file

common flags: --config <file> --addr <host:port> --debug
`)
	os.Exit(1)
}

// flags holds the options shared by every command. Values given on the
// command line override the config file.
type flags struct {
	cfg        *config.Config
	positional []string
}

func parseFlags(args []string) flags {
	configPath := config.DefaultPath()
	overrides := map[string]string{}
	var positional []string
	var dummy, debugOn, monitor bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "--addr", "--port", "--baud", "--scripts", "--data":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires an argument\n", args[i])
				os.Exit(1)
			}
			if args[i] == "--config" {
				configPath = args[i+1]
			} else {
				overrides[args[i]] = args[i+1]
			}
			i++
		case "--dummy":
			dummy = true
		case "--monitor":
			monitor = true
		case "--debug", "-d":
			debugOn = true
		default:
			positional = append(positional, args[i])
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for flag, v := range overrides {
		switch flag {
		case "--addr":
			cfg.Addr = v
		case "--port":
			cfg.Serial.Port = v
		case "--baud":
			baud, err := strconv.Atoi(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "--baud: %v\n", err)
				os.Exit(1)
			}
			cfg.Serial.Baud = baud
		case "--scripts":
			cfg.ScriptsDir = v
		case "--data":
			cfg.DataDir = v
		}
	}
	cfg.Dummy = cfg.Dummy || dummy
	cfg.Monitor = cfg.Monitor || monitor
	cfg.Debug = cfg.Debug || debugOn
	debug.Enabled = cfg.Debug
	return flags{cfg: cfg, positional: positional}
}

// cmdServe opens the bench, starts the TCP server and waits for
// SIGINT/SIGTERM to shut down.
func cmdServe(args []string) {
	f := parseFlags(args)
	cfg := f.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := scripts.Install(cfg.ScriptsDir); err != nil {
		log.Printf("warning: %v", err)
	}
	reg := registry.New()
	if err := reg.Scan(cfg.ScriptsDir); err != nil {
		log.Printf("warning: %v", err)
	}

	board, conn, err := telemetry.Connect(ctx, telemetry.SerialConfig{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, connectOptions(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n(use --dummy to run without hardware)\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sheet := datasheet.New()
	datasheet.Load(sheet, datasheet.SessionPath(cfg.DataDir))

	ctl := controller.New(board, runtime.WithSheet(sheet))
	srv := bench.NewServer(ctl, board, sheet, reg, cfg.Addr)
	srv.DataDir = cfg.DataDir

	go func() {
		if err := reg.Watch(ctx, cfg.ScriptsDir, srv.PushStatus); err != nil {
			log.Printf("warning: script watch stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		if err := ctl.Shutdown(2 * time.Second); err != nil {
			log.Printf("warning: %v", err)
		}
		if err := board.SetThrottle(0); err != nil {
			log.Printf("warning: could not stop the motor: %v", err)
		}
		srv.Stop()
	}()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func connectOptions(cfg *config.Config) telemetry.Options {
	opts := telemetry.Options{Dummy: cfg.Dummy, Offsets: cfg.ChannelOffsets()}
	if cfg.Monitor {
		opts.Tap = func(line string) { log.Printf("serial: %s", line) }
	}
	return opts
}

func dial(cfg *config.Config) *bench.Client {
	c, err := bench.Dial(cfg.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return c
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// cmdRun starts a script on the server and prints points until the run ends.
func cmdRun(args []string) {
	f := parseFlags(args)
	if len(f.positional) != 1 {
		fmt.Fprintf(os.Stderr, "usage: rigctl run <script>\n")
		os.Exit(1)
	}
	c := dial(f.cfg)
	defer c.Close()

	if err := c.Subscribe(); err != nil {
		fail(err)
	}
	id, err := c.Run(f.positional[0])
	if err != nil {
		fail(err)
	}
	fmt.Printf("started %s (%s)\n", f.positional[0], id)

	// Cancel the run on the bench if this command is interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	seenRunning := false
	for {
		select {
		case <-sig:
			fmt.Println("cancelling...")
			if err := c.Cancel(); err != nil {
				fail(err)
			}
		case p := <-c.PointCh:
			fmt.Printf("%8dms  thr %3d%%  thrust %s  torque %s  %sV  %sA\n",
				p.ElapsedMs, p.Throttle, fmtValue(p.Cell1), fmtValue(p.Cell2), fmtValue(p.Voltage), fmtValue(p.Current))
		case st := <-c.StatusCh:
			if st.Run.ScriptID != id {
				continue
			}
			switch st.Run.State {
			case controller.Running:
				seenRunning = true
			case controller.Completed, controller.Aborted:
				if seenRunning {
					fmt.Printf("%s: %d point(s)\n", st.Run.State, st.Run.Points)
					return
				}
			case controller.Failed:
				if seenRunning {
					fail(errors.New(st.Run.Reason))
				}
			}
		case err := <-c.ErrCh:
			fail(err)
		}
	}
}

func fmtValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func cmdCancel(args []string) {
	f := parseFlags(args)
	c := dial(f.cfg)
	defer c.Close()
	if err := c.Cancel(); err != nil {
		fail(err)
	}
}

func cmdThrottle(args []string) {
	f := parseFlags(args)
	if len(f.positional) != 1 {
		fmt.Fprintf(os.Stderr, "usage: rigctl throttle <0-100>\n")
		os.Exit(1)
	}
	n, err := strconv.Atoi(f.positional[0])
	if err != nil {
		fail(fmt.Errorf("throttle %q is not a whole number", f.positional[0]))
	}
	c := dial(f.cfg)
	defer c.Close()
	if err := c.SetThrottle(n); err != nil {
		fail(err)
	}
}

func cmdZero(args []string) {
	f := parseFlags(args)
	channel := ""
	if len(f.positional) > 0 {
		channel = f.positional[0]
	}
	c := dial(f.cfg)
	defer c.Close()
	if err := c.Zero(channel); err != nil {
		fail(err)
	}
}

func cmdStatus(args []string) {
	f := parseFlags(args)
	c := dial(f.cfg)
	defer c.Close()
	if err := c.Subscribe(); err != nil {
		fail(err)
	}
	var st bench.StatusPayload
	select {
	case st = <-c.StatusCh:
	case err := <-c.ErrCh:
		fail(err)
	case <-time.After(5 * time.Second):
		fail(errors.New("no status from bench"))
	}

	fmt.Printf("run:      %s", st.Run.State)
	if st.Run.Script != "" {
		fmt.Printf(" %s", st.Run.Script)
	}
	if st.Run.Reason != "" {
		fmt.Printf(" (%s)", st.Run.Reason)
	}
	fmt.Printf("\npoints:   %d\nthrottle: %d%%\n", st.Points, st.Telemetry.Throttle)
	for _, ch := range rig.Channels {
		v := math.NaN()
		if cal, ok := st.Telemetry.Calibrated(ch); ok {
			v = cal
		}
		fmt.Printf("%-9s %s\n", ch.String()+":", fmtValue(v))
	}
	fmt.Printf("scripts:  %v\n", st.Scripts)
}

// cmdCheck parses a script locally and prints its tree and ID.
func cmdCheck(args []string) {
	f := parseFlags(args)
	if len(f.positional) != 1 {
		fmt.Fprintf(os.Stderr, "usage: rigctl check <script>\n")
		os.Exit(1)
	}
	reg := registry.New()
	reg.Scan(f.cfg.ScriptsDir)
	path, err := reg.Resolve(f.positional[0])
	if err != nil {
		fail(err)
	}
	prog, err := parser.ParseFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Print(sexp.EmitProgram(prog))
	fmt.Printf("id %s\n", sexp.ID(prog))
}

func cmdConsole(args []string) {
	f := parseFlags(args)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(os.Stderr, "rigctl console needs a terminal\n")
		os.Exit(1)
	}
	c := dial(f.cfg)
	defer c.Close()
	if err := c.Subscribe(); err != nil {
		fail(err)
	}

	// Keep log output from tearing the alt screen.
	log.SetOutput(io.Discard)
	p := tea.NewProgram(console.ForClient(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fail(err)
	}
}

func cmdExport(args []string) {
	f := parseFlags(args)
	if len(f.positional) != 1 {
		fmt.Fprintf(os.Stderr, "usage: rigctl export <file.csv>\n")
		os.Exit(1)
	}
	c := dial(f.cfg)
	defer c.Close()
	points, err := c.Points()
	if err != nil {
		fail(err)
	}
	sheet := datasheet.New()
	for _, p := range points {
		sheet.Add(p)
	}
	if err := sheet.ExportCSV(f.positional[0]); err != nil {
		fail(err)
	}
	fmt.Printf("exported %d point(s) to %s\n", len(points), f.positional[0])
}
