package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/ara-light/internal/ble"
	"github.com/chaz8081/ara-light/internal/blocks"
	"github.com/chaz8081/ara-light/internal/codec"
	"github.com/chaz8081/ara-light/internal/config"
	"github.com/chaz8081/ara-light/internal/logging"
	"github.com/chaz8081/ara-light/internal/session"
	"github.com/chaz8081/ara-light/internal/tracing"
)

// Set up by setup before any command runs.
var (
	cfg            *config.Config
	logger         *slog.Logger
	closeLog       func() error
	shutdownTraces func(context.Context) error
)

func main() {
	app := cli.NewApp()

	app.Name = "ara-light"
	app.Usage = "Control an Ara light over Bluetooth LE"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/ara-light/config.yaml)",
		},
	}

	flgDevice := cli.StringFlag{Name: "device, d", Usage: "address of the light (default: device.id from config, else first found)"}

	app.Commands = []cli.Command{
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Scan for lights advertising the lighting service",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration", Usage: "scan duration (default: timing.scan_timeout)"},
			},
		},
		{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "Connect and print every state change until interrupted",
			Action:  watch,
			Flags: []cli.Flag{
				flgDevice,
				cli.BoolFlag{Name: "reconnect, r", Usage: "reconnect with backoff when the link drops"},
			},
		},
		{
			Name:      "block",
			Aliases:   []string{"b"},
			Usage:     "Connect and run a single block opcode",
			ArgsUsage: "<opcode> [arg]",
			Action:    block,
			Flags: []cli.Flag{
				flgDevice,
				cli.DurationFlag{Name: "settle", Value: 1500 * time.Millisecond, Usage: "time to let polls fill the state cache before reporters run"},
			},
		},
		{
			Name:      "decode",
			Usage:     "Decode a base64 characteristic payload",
			ArgsUsage: "<channel> <base64>",
			Action:    decode,
		},
		{
			Name:   "init-config",
			Usage:  "Write the default config file if none exists",
			Action: initConfig,
		},
	}

	app.Before = setup
	app.After = teardown

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ara-light: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var err error
	cfg, err = loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logger, closeLog = logging.New(cfg.Log, cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTraces, err = tracing.Setup(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

func teardown(c *cli.Context) error {
	if shutdownTraces != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTraces(ctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}
	if closeLog != nil {
		return closeLog()
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// newManager builds the session manager on top of the host radio.
func newManager(hooks func(*session.Options)) (*session.Manager, error) {
	var adapter ble.Adapter = ble.NewTinygoAdapter()
	if cfg.Breaker.Enabled {
		adapter = ble.NewBreakerAdapter(adapter, ble.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
		}, logger)
	}

	opts, err := session.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = logger
	opts.OnWriteError = func(ch codec.Channel, err error) {
		fmt.Fprintf(os.Stderr, "write to %s failed: %v\n", ch, err)
	}
	if hooks != nil {
		hooks(&opts)
	}
	return session.New(adapter, opts), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func scan(c *cli.Context) error {
	if d := c.Duration("duration"); d > 0 {
		cfg.Timing.ScanTimeout = d
	}
	mgr, err := newManager(nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Scanning for %s...\n", cfg.Timing.ScanTimeout)
	devices, err := mgr.Scan(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No lights found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  %s  %-20q  %d dBm\n", d.ID, d.Name, d.RSSI)
	}
	return nil
}

// connect resolves the target light and opens a session to it. It returns
// the address it connected to.
func connect(ctx context.Context, c *cli.Context, mgr *session.Manager) (string, error) {
	id := c.String("device")
	if id == "" {
		id = cfg.Device.ID
	}
	if id == "" {
		devices, err := mgr.Scan(ctx)
		if err != nil {
			return "", err
		}
		if len(devices) == 0 {
			return "", errors.New("no light found; pass --device or set device.id")
		}
		id = devices[0].ID
		logger.Info("using first light found", "device", id, "name", devices[0].Name)
	}
	return id, mgr.Connect(ctx, id)
}

func watch(c *cli.Context) error {
	lost := make(chan struct{}, 1)
	mgr, err := newManager(func(o *session.Options) {
		o.OnStateChange = func(s session.State) {
			fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), s)
			if s == session.StateDisconnected {
				select {
				case lost <- struct{}{}:
				default:
				}
			}
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	id, err := connect(ctx, c, mgr)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	// Drain the disconnect transition from before the connect.
	select {
	case <-lost:
	default:
	}

	last := make(map[codec.Channel]codec.Value, len(codec.Channels))
	ticker := time.NewTicker(cfg.Timing.SwitchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			if !c.Bool("reconnect") {
				return errors.New("connection to light lost")
			}
			if err := mgr.ConnectWithRetry(ctx, id, cfg.Timing.ReconnectMax); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case <-lost:
			default:
			}
		case <-ticker.C:
			for _, ch := range codec.Channels {
				v, ok := mgr.Query(ch)
				if !ok || last[ch] == v {
					continue
				}
				last[ch] = v
				fmt.Printf("[%s] %-11s %s\n", time.Now().Format(time.TimeOnly), ch, v)
			}
		}
	}
}

func block(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.ShowCommandHelp(c, "block")
	}
	opcode, arg := c.Args().Get(0), c.Args().Get(1)

	mgr, err := newManager(nil)
	if err != nil {
		return err
	}
	b := blocks.New(mgr, mgr.Table(), cfg.Blocks.FlashInterval, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := connect(ctx, c, mgr); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if !blocks.IsCommand(opcode) {
		if err := sleep(ctx, c.Duration("settle")); err != nil {
			return nil
		}
	}

	result, err := b.Invoke(ctx, opcode, arg)
	if err != nil {
		if errors.Is(err, blocks.ErrUnknownOpcode) {
			return fmt.Errorf("%w (known: %s)", err, strings.Join(b.Opcodes(), ", "))
		}
		return err
	}
	fmt.Printf("%s(%s) = %t\n", opcode, arg, result)

	// Let the last write be acknowledged before the link is closed.
	deadline := time.Now().Add(cfg.Timing.BusyTimeout)
	for mgr.Busy() && time.Now().Before(deadline) {
		if err := sleep(ctx, 50*time.Millisecond); err != nil {
			return nil
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decode(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowCommandHelp(c, "decode")
	}
	ch, err := codec.ParseChannel(c.Args().Get(0))
	if err != nil {
		return err
	}
	table, err := codec.Profile(cfg.Device.Firmware)
	if err != nil {
		return err
	}
	v, ok := table.DecodeBase64(ch, c.Args().Get(1))
	if !ok {
		fmt.Printf("%s: unrecognized payload (profile %s)\n", ch, table.Name())
		return nil
	}
	fmt.Printf("%s: %s\n", ch, v)
	return nil
}

func initConfig(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
