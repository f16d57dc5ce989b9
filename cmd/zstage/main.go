// Command zstage drives a Zaber X-ADR130 XY stage over its serial port,
// with an optional HTTP API and an interactive console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mastercactapus/zstage/simulator"
	"github.com/mastercactapus/zstage/spjs"
	"github.com/mastercactapus/zstage/stage"
	"github.com/mastercactapus/zstage/trace"
	"github.com/mastercactapus/zstage/transport"
	"github.com/mastercactapus/zstage/zaber"
)

type options struct {
	simulate    bool
	interactive bool
	dumpTrace   string
}

func main() {
	configPath := flag.String("config", "", "YAML config file.")
	port := flag.String("port", "", "Serial port path (or name if using SPJS).")
	spjsURL := flag.String("spjs", "", "Websocket URL of an SPJS server sharing the port.")
	baud := flag.Int("baud", 0, "Serial baud rate.")
	device := flag.Int("device", -1, "Device address (0 to discover).")
	checksum := flag.Bool("checksum", false, "Append checksums to commands.")
	addr := flag.String("addr", "", "Address to bind the HTTP API to.")
	tracePath := flag.String("trace", "", "Write a protocol trace to this file.")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error).")
	logJSON := flag.Bool("log-json", false, "Log in JSON.")

	var opts options
	flag.BoolVar(&opts.simulate, "simulate", false, "Use a simulated stage instead of the serial port.")
	flag.BoolVar(&opts.interactive, "interactive", false, "Start the interactive console.")
	flag.StringVar(&opts.dumpTrace, "dump-trace", "", "Print a protocol trace file and exit.")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: load config:", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Serial.Port = *port
		case "spjs":
			cfg.Serial.SPJS = *spjsURL
		case "baud":
			cfg.Serial.Baud = *baud
		case "device":
			cfg.Stage.Device = *device
		case "checksum":
			cfg.Serial.Checksum = *checksum
		case "addr":
			cfg.Web.ListenAddr = *addr
		case "trace":
			cfg.Trace.Path = *tracePath
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-json":
			cfg.Log.JSON = *logJSON
		}
	})

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: logger:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if opts.dumpTrace != "" {
		if err := dumpTrace(os.Stdout, opts.dumpTrace); err != nil {
			logger.Error("ERROR: dump trace", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, opts, logger); err != nil {
		logger.Error("ERROR: run", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.JSON {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

func dumpTrace(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := trace.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		prefix := fmt.Sprintf("%5d %s %s %s %s", e.Seq, e.Timestamp.Format(time.RFC3339Nano), e.SessionID, e.Direction, e.Port)
		if e.Error != "" {
			fmt.Fprintf(w, "%s ERROR: %s\n", prefix, e.Error)
			continue
		}
		fmt.Fprintf(w, "%s %q\n", prefix, strings.TrimRight(e.Line, "\r\n"))
	}
}

func openConn(ctx context.Context, cfg Config, opts options, logger *slog.Logger) (*transport.Conn, func() error, error) {
	tracers := []trace.Logger{trace.Slog(logger)}
	closeTrace := func() error { return nil }
	if cfg.Trace.Path != "" {
		rec, err := trace.Create(cfg.Trace.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace: %w", err)
		}
		tracers = append(tracers, rec)
		closeTrace = rec.Close
	}
	topts := []transport.Option{
		transport.WithTimeout(cfg.Timeout()),
		transport.WithTrace(trace.Tee(tracers...)),
		transport.WithLogger(logger),
	}

	if opts.simulate {
		sim := simulator.New(simulator.XADR130())
		topts = append(topts, transport.WithPortName("simulator"))
		return transport.NewConn(sim.Open(), topts...), closeTrace, nil
	}

	if cfg.Serial.SPJS != "" {
		p, err := spjs.Dial(ctx, cfg.Serial.SPJS, cfg.Serial.Port, cfg.Serial.Baud, logger)
		if err != nil {
			closeTrace()
			return nil, nil, err
		}
		topts = append(topts, transport.WithPortName(cfg.Serial.Port))
		return transport.NewConn(p, topts...), closeTrace, nil
	}

	conn, err := transport.Open(transport.PortConfig{Name: cfg.Serial.Port, Baud: cfg.Serial.Baud}, topts...)
	if err != nil {
		closeTrace()
		return nil, nil, err
	}
	return conn, closeTrace, nil
}

func run(ctx context.Context, cancel context.CancelFunc, cfg Config, opts options, logger *slog.Logger) error {
	conn, closeTrace, err := openConn(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer closeTrace()
	defer conn.Close()
	logger.Info("connected", "port", cfg.Serial.Port, "simulate", opts.simulate, "session", conn.SessionID())

	var copts []zaber.ClientOption
	copts = append(copts, zaber.WithLogger(logger))
	if cfg.Serial.Checksum {
		copts = append(copts, zaber.WithChecksum())
	}
	if cfg.Serial.MessageIDs {
		copts = append(copts, zaber.WithMessageIDs())
	}
	client := zaber.NewClient(conn, copts...)

	dev := cfg.Stage.Device
	if dev == 0 {
		var id int64
		dev, id, err = stage.Discover(ctx, client)
		if err != nil {
			return fmt.Errorf("discover device: %w", err)
		}
		logger.Info("discovered device", "device", dev, "id", id)
	}

	ctrl := stage.NewController(client, dev, []int{stage.AxisX, stage.AxisY},
		stage.WithPollInterval(cfg.PollInterval()),
		stage.WithLogger(logger),
	)
	client.SetObserver(ctrl.HandleMessage)

	xycfg, err := cfg.XYConfig()
	if err != nil {
		return err
	}
	xy, err := stage.NewXY(ctrl, stage.XADR130, xycfg)
	if err != nil {
		return err
	}
	if !cfg.Stage.SkipStartup {
		if _, err := xy.Startup(ctx); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
	}

	go func() {
		err := client.Listen(ctx, 50*time.Millisecond)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ERROR: listen", "err", err)
		}
	}()

	var srv *http.Server
	if cfg.Web.ListenAddr != "" {
		a := newAPI(xy, client, logger)
		defer a.Close()
		go a.publish(ctx, ctrl.States())

		srv = &http.Server{Addr: cfg.Web.ListenAddr, Handler: withCORS(a, logger)}
		go func() {
			logger.Info("listening", "addr", cfg.Web.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ERROR: serve http", "err", err)
				cancel()
			}
		}()
	}

	if opts.interactive {
		con, err := newConsole(xy, client)
		if err != nil {
			return err
		}
		go con.Run(ctx, cancel)
	}

	<-ctx.Done()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("ERROR: shutdown http", "err", err)
		}
	}
	return nil
}

func withCORS(h http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		logger.Debug("http request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		h.ServeHTTP(w, req)
	})
}
