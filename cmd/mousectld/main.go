package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hidctl/mousectld/internal/configpaths"
	"github.com/hidctl/mousectld/internal/devicedb"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/hotplug"
	"github.com/hidctl/mousectld/internal/logging"
	"github.com/hidctl/mousectld/internal/model"

	_ "github.com/hidctl/mousectld/internal/driverstub"
	_ "github.com/hidctl/mousectld/internal/hidpp/hidpp10"
	_ "github.com/hidctl/mousectld/internal/hidpp/hidpp20"
	_ "github.com/hidctl/mousectld/internal/logitechg300"
	_ "github.com/hidctl/mousectld/internal/roccat"
	_ "github.com/hidctl/mousectld/internal/steelseries"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// CLI is the root command set. A real udev monitor (the AddAction/
// RemoveAction producer) is out of scope here; Serve drives the
// coordinator from a polling HID enumerator instead.
type CLI struct {
	Log struct {
		Level string `help:"Log level: trace, debug, info, warn, error." default:"info" env:"MOUSECTLD_LOG_LEVEL"`
		File  string `help:"Write logs to this file instead of stdout/stderr." env:"MOUSECTLD_LOG_FILE"`
	} `embed:"" prefix:"log."`

	Serve  ServeCmd  `cmd:"" default:"1" help:"Run the hotplug coordinator."`
	Config ConfigCmd `cmd:"" help:"Generate a configuration file template."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mousectld"),
		kong.Description("Gaming-mouse configuration daemon core."),
		kong.UsageOnError(),
		kong.Configuration(kongyaml.Loader, configCandidatePaths()...),
		kong.Configuration(kongtoml.Loader, configCandidatePaths()...),
	)

	level, err := logging.ParseLevel(cli.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, closers, err := logging.SetupLogger(level, cli.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logger:", err)
		os.Exit(2)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	kctx.Bind(logger)
	err = kctx.Run()
	kctx.FatalIfErrorf(err)
}

func configCandidatePaths() []string {
	if v := os.Getenv("MOUSECTLD_CONFIG"); v != "" {
		return []string{v}
	}
	return nil
}

// ServeCmd loads the device database and runs the hotplug coordinator
// until interrupted.
type ServeCmd struct {
	DeviceDB      string        `help:"Device-description directory override." env:"MOUSECTLD_DEVICE_DB"`
	QuirkOverride string        `help:"Optional TOML file of per-device quirk overrides." env:"MOUSECTLD_QUIRK_OVERRIDES"`
	PollInterval  time.Duration `help:"How often to re-enumerate HID devices." default:"2s"`
}

func (s *ServeCmd) Run(logger *slog.Logger) error {
	dbDir := s.DeviceDB
	if dbDir == "" {
		var err error
		dbDir, err = configpaths.DeviceDBDir()
		if err != nil {
			return fmt.Errorf("resolving device database directory: %w", err)
		}
	}
	db, err := devicedb.LoadDir(dbDir)
	if err != nil {
		return fmt.Errorf("loading device database from %s: %w", dbDir, err)
	}
	logger.Info("loaded device database", "dir", dbDir, "entries", len(db.Entries()))

	if s.QuirkOverride != "" {
		overrides, err := devicedb.LoadQuirkOverrides(s.QuirkOverride)
		if err != nil {
			return fmt.Errorf("loading quirk overrides from %s: %w", s.QuirkOverride, err)
		}
		if len(overrides) > 0 {
			db = db.ApplyQuirkOverrides(overrides)
			logger.Info("applied quirk overrides", "file", s.QuirkOverride, "count", len(overrides))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := newLoggingRegistrar(logger)
	coord := hotplug.New(db, registry, hidio.Open, logger)

	actions := make(chan hotplug.DeviceAction, 16)
	go pollEnumerate(ctx, actions, s.PollInterval)

	coord.Run(ctx, actions)
	return nil
}

// pollEnumerate diffs successive hidio.Enumerate snapshots into
// Add/Remove actions. A real deployment replaces this with a udev
// monitor that reports bus topology instead of guessing it from the
// enumerated path.
func pollEnumerate(ctx context.Context, actions chan<- hotplug.DeviceAction, interval time.Duration) {
	defer close(actions)
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	known := map[string]hidio.EnumerateInfo{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		seen := map[string]hidio.EnumerateInfo{}
		for _, d := range hidio.Enumerate(0, 0) {
			seen[d.Path] = d
			if _, ok := known[d.Path]; ok {
				continue
			}
			add := hotplug.AddAction{
				Sysname: d.Path,
				Devnode: d.Path,
				Name:    d.Product,
				Bustype: "usb",
				VID:     d.VendorID,
				PID:     d.ProductID,
			}
			select {
			case actions <- add:
			case <-ctx.Done():
				return
			}
		}
		for path := range known {
			if _, ok := seen[path]; ok {
				continue
			}
			select {
			case actions <- hotplug.RemoveAction{Sysname: path}:
			case <-ctx.Done():
				return
			}
		}
		known = seen
	}
}

// loggingRegistrar is a minimal IPCRegistrar: the real object-tree
// publishing surface is out of scope, so registration is just logged.
type loggingRegistrar struct {
	logger *slog.Logger
}

func newLoggingRegistrar(logger *slog.Logger) *loggingRegistrar {
	return &loggingRegistrar{logger: logger}
}

func (r *loggingRegistrar) RegisterDevice(sysname string, handle *model.Handle, commit func(context.Context) error) {
	handle.Read(func(info *model.DeviceInfo) {
		r.logger.Info("device registered", "sysname", sysname, "name", info.Name, "model", info.Model, "live", commit != nil)
	})
}

func (r *loggingRegistrar) UnregisterDevice(sysname string) {
	r.logger.Info("device unregistered", "sysname", sysname)
}

// ConfigCmd scaffolds a configuration file template for ServeCmd's flags.
type ConfigCmd struct {
	Format string `help:"Output format." enum:"json,yaml,toml" default:"yaml"`
	Output string `help:"Destination file path (defaults to mousectld.<format>)."`
	Force  bool   `help:"Overwrite the destination if it already exists."`
}

func (c *ConfigCmd) Run(logger *slog.Logger) error {
	template := map[string]any{
		"log": map[string]any{
			"level": "info",
			"file":  "",
		},
		"serve": map[string]any{
			"device-db":     "",
			"poll-interval": "2s",
		},
	}

	dest := c.Output
	if dest == "" {
		dest = "mousectld." + c.Format
	}
	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", dest)
		}
	}

	var data []byte
	var err error
	switch c.Format {
	case "json":
		data, err = json.MarshalIndent(template, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(template)
	case "toml":
		data, err = toml.Marshal(template)
	default:
		return fmt.Errorf("unsupported format %q", c.Format)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	logger.Info("wrote configuration template", "path", dest)
	return nil
}
