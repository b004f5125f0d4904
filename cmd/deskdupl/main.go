package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/deskdupl/internal/config"
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/logging"
	"github.com/breeze-rmm/deskdupl/internal/monitor"
)

var log = logging.L("main")

var (
	version   = "0.1.0"
	cfgFile   string
	frameRate int
	monitors  []int
)

var rootCmd = &cobra.Command{
	Use:   "deskdupl",
	Short: "Desktop duplication capture engine",
	Long:  `deskdupl captures every monitor through DXGI desktop duplication into textures shared with a renderer's device.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture monitors until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		runCapture()
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List monitors and their capture state",
	Run: func(cmd *cobra.Command, args []string) {
		listMonitors()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		printConfig()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		written, err := config.SaveTo(config.Default(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", written)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskdupl v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is deskdupl.yaml in the platform config directory)")
	rootCmd.PersistentFlags().IntVar(&frameRate, "fps", 0, "target frame rate (overrides frame_rate)")
	rootCmd.PersistentFlags().IntSliceVar(&monitors, "monitor", nil, "monitor ids to capture (overrides monitors)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads, overrides and validates the config, exiting on fatal
// problems.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if frameRate != 0 {
		cfg.FrameRate = frameRate
	}
	if len(monitors) > 0 {
		cfg.Monitors = monitors
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, err := range result.Fatals {
			fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		}
		os.Exit(1)
	}
	return cfg
}

func newManager(cfg *config.Config) *monitor.Manager {
	// ValidateTiered already rejected a malformed LUID.
	luid, _ := dxgi.ParseLUID(cfg.RenderAdapter)
	return monitor.NewManager(monitor.Options{
		FrameRate:     cfg.FrameRate,
		RenderAdapter: luid,
		Captures:      cfg.Captures,
		Workers:       cfg.Workers,
	})
}

func runCapture() {
	cfg := loadConfig()

	out, closer, err := logging.OpenOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	mgr := newManager(cfg)
	defer mgr.Close()

	if err := mgr.Initialize(); err != nil {
		log.Error("monitor initialization failed", logging.KeyError, err)
		if errors.Is(err, dxgi.ErrNotSupported) {
			fmt.Fprintln(os.Stderr, "Desktop duplication requires Windows 8 or later.")
		}
		return
	}
	mgr.StartAll()
	log.Info("capture started",
		"version", version,
		"frameRate", mgr.TargetFrameRate(),
		"monitors", len(mgr.Monitors()),
		logging.KeySessionID, mgr.SessionID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	newSupervisor(cfg, mgr).run(ctx)

	log.Info("shutting down")
	mgr.StopAll()
}

func listMonitors() {
	cfg := loadConfig()
	mgr := newManager(cfg)
	defer mgr.Close()

	if err := mgr.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enumerate monitors: %v\n", err)
		os.Exit(1)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Adapter", "LUID", "Position", "Size", "Rotation", "DPI", "Primary", "State"})
	for _, m := range mgr.Monitors() {
		info := m.Info()
		t.AppendRow(table.Row{
			info.ID,
			info.Name,
			info.Adapter,
			info.LUID,
			fmt.Sprintf("%d,%d", info.X, info.Y),
			fmt.Sprintf("%dx%d", info.Width, info.Height),
			info.Rotation,
			fmt.Sprintf("%dx%d", info.DPIX, info.DPIY),
			info.IsPrimary,
			info.State,
		})
	}
	fmt.Println(t.Render())
}

func printConfig() {
	cfg := loadConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(data))
}
