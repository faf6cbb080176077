package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"

	"digi-sequence/config"
	"digi-sequence/control"
	"digi-sequence/debug"
	"digi-sequence/midi"
	"digi-sequence/sequencer"
	"digi-sequence/theme"
	"digi-sequence/tui"
)

var Version = "0.1.0"

var flags struct {
	config   string // config file, default ~/.config/digi-sequence/config.json
	debug    bool
	debugLog string
}

var rootCmd = &cobra.Command{
	Use:   "digi-sequence",
	Short: "Pattern scheduler for MIDI instruments following an external clock",
	Long: `digi-sequence follows the MIDI clock of a master device and switches
patterns on the other instruments by sending program changes.

Each track queues pattern names (A1..H16) and steps through them whenever its
instrument echoes a pattern change, or every N bars of the master clock.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runTUI,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sequencer as MCP tools over stdio",
	RunE:  runMCP,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "",
		"Config file (default ~/.config/digi-sequence/config.json)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false,
		"Write debug logs")
	rootCmd.PersistentFlags().StringVar(&flags.debugLog, "log", "",
		"Debug log file (default ~/.config/digi-sequence/debug.log)")
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// start loads the config and brings up the sequencer, the device manager and
// the saved bindings. Both loops stop when ctx is cancelled.
func start(ctx context.Context) (*control.Rig, *config.Config, error) {
	path := flags.config
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, nil, err
	}

	if flags.debug || cfg.Debug {
		logPath := flags.debugLog
		if logPath == "" {
			logPath = debug.DefaultPath()
		}
		if err := debug.Enable(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "debug log: %v\n", err)
		}
	}
	debug.Log("main", "digi-sequence %s config=%s", Version, path)

	seq := sequencer.New(sequencer.WithAdvanceEvery(cfg.AdvanceBars))
	devices := midi.NewDeviceManager()
	devices.Scan()

	rig := control.NewRig(seq, devices, cfg, path)
	if err := rig.Restore(); err != nil {
		debug.Warn("main", "restore bindings: %v", err)
	}

	go seq.Run(ctx)
	go devices.Run(ctx)
	return rig, cfg, nil
}

func shutdown() {
	gomidi.CloseDriver()
	debug.Disable()
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer shutdown()
	defer cancel()

	rig, cfg, err := start(ctx)
	if err != nil {
		return err
	}

	palette, err := theme.LoadOrDefault(cfg.UI.Palette)
	if err != nil {
		debug.Warn("main", "%v, using built-in palette", err)
	}

	m := tui.NewModel(rig, theme.New(palette))
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer shutdown()
	defer cancel()

	rig, _, err := start(ctx)
	if err != nil {
		return err
	}

	return control.Serve(rig, Version)
}
