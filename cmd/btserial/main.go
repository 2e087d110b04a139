package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chaz8081/btserial/internal/ble"
	"github.com/chaz8081/btserial/internal/bridge"
	"github.com/chaz8081/btserial/internal/config"
	"github.com/chaz8081/btserial/internal/journal"
	"github.com/chaz8081/btserial/internal/link"
	"github.com/chaz8081/btserial/internal/rfcomm"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/btserial/config.yaml)")
	peer := flag.String("peer", "", "peer to connect to at startup, overrides transport.peer")
	transport := flag.String("transport", "", "transport kind (ble, rfcomm, tty), overrides transport.kind")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("init config", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *peer != "" {
		cfg.Transport.Peer = *peer
	}
	if *transport != "" {
		cfg.Transport.Kind = *transport
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	lc, err := cfg.LinkConfig()
	if err != nil {
		fatal("config", err)
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		fatal("transport", err)
	}

	var opts []link.Option
	var loop *link.Loop
	if cfg.Link.MarshalCallbacks {
		loop = link.NewLoop()
		opts = append(opts, link.WithExecutor(loop))
	}

	svc, err := link.Init(lc, dialer, opts...)
	if err != nil {
		fatal("link", err)
	}

	bus := bridge.NewEventBus()
	listeners := link.Listeners{consoleListener{}, bus}

	var db *journal.DB
	if cfg.Journal.Path != "" {
		db, err = openJournal(cfg.Journal.Path)
		if err != nil {
			fatal("journal", err)
		}
		listeners = append(listeners, journal.NewRecorder(db, svc.Peer))
		slog.Info("[MAIN] journal ready", "path", cfg.Journal.Path)
	}
	svc.SetListener(listeners)

	var srv *http.Server
	if cfg.Bridge.ListenAddr != "" {
		var history bridge.History
		if db != nil {
			history = db
		}
		srv = &http.Server{
			Addr:              cfg.Bridge.ListenAddr,
			Handler:           bridge.NewRouter(svc, bus, history),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("[MAIN] bridge listening", "addr", cfg.Bridge.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("[MAIN] bridge stopped", "error", err)
			}
		}()
	}

	if cfg.Transport.Peer != "" || cfg.Transport.Kind == config.TransportTTY {
		if err := svc.Connect(cfg.Transport.Peer); err != nil {
			fatal("connect", err)
		}
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := readLines(os.Stdin)
	tw := link.TextWriterFor(svc)

	fmt.Println("Ready! Type a line to send it. Ctrl+C to quit.")

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := tw.WriteLine(ctx, line)
			cancel()
			if err != nil {
				slog.Warn("[MAIN] line not sent", "error", err)
			}

		case sig := <-sigCh:
			slog.Info("[MAIN] shutting down", "signal", sig.String())
			shutdown(svc, srv, db, loop, dialer)
			fmt.Println("Goodbye!")
			return
		}
	}
}

func newDialer(cfg *config.Config) (link.Dialer, error) {
	switch cfg.Transport.Kind {
	case config.TransportBLE:
		return ble.NewDialer(ble.NewTinyGoAdapter(), ble.Options{
			ServiceUUID: cfg.Transport.BLE.ServiceUUID,
			TXCharUUID:  cfg.Transport.BLE.TXCharUUID,
			RXCharUUID:  cfg.Transport.BLE.RXCharUUID,
		}), nil
	case config.TransportRFCOMM:
		return rfcomm.NewBlueZDialer(cfg.Transport.RFCOMM.Adapter), nil
	case config.TransportTTY:
		return rfcomm.NewTTYDialer(cfg.Transport.TTY.Device, cfg.Transport.TTY.Baud), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func openJournal(path string) (*journal.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	if err := journal.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// readLines forwards stdin lines until EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

func shutdown(svc *link.Service, srv *http.Server, db *journal.DB, loop *link.Loop, dialer link.Dialer) {
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	svc.Stop()
	if loop != nil {
		loop.Close()
	}
	if c, ok := dialer.(io.Closer); ok {
		_ = c.Close()
	}
	if db != nil {
		db.Close()
	}
}

// consoleListener prints link events to the terminal.
type consoleListener struct{}

func (consoleListener) OnStatusChange(s link.Status) { fmt.Printf("-- %s\n", s) }
func (consoleListener) OnDataRead(frame []byte)      { fmt.Printf("<< %s\n", frame) }
func (consoleListener) OnDeviceName(name string)     { fmt.Printf("-- device: %s\n", name) }
func (consoleListener) OnDataWrite([]byte)           {}
func (consoleListener) OnNotice(msg string)          { fmt.Printf("!! %s\n", msg) }

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("[MAIN] config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("[MAIN] no config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	peer := cfg.Transport.Peer
	if peer == "" {
		peer = "(none)"
	}
	bridgeAddr := cfg.Bridge.ListenAddr
	if bridgeAddr == "" {
		bridgeAddr = "disabled"
	}
	fmt.Println("=== btserial ===")
	fmt.Printf("  Transport: %s\n", cfg.Transport.Kind)
	fmt.Printf("  Peer:      %s\n", peer)
	fmt.Printf("  Framing:   %q delimiter, %d byte buffer\n", cfg.Link.Delimiter, cfg.Link.BufferSize)
	fmt.Printf("  Bridge:    %s\n", bridgeAddr)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
