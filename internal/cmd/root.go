// Package cmd wires the command-line interface: configuration loading,
// transport construction, and the scan/capture/history subcommands.
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"scopecap/internal/config"
	"scopecap/internal/driver"
	"scopecap/internal/driver/tektronix"
	"scopecap/internal/eventlog"
	"scopecap/internal/repository"
	"scopecap/internal/repository/sqlite"
	"scopecap/internal/visa"
)

var rootCmd = &cobra.Command{
	Use:   "scopecap",
	Short: "Capture oscilloscope screenshots and waveforms over SCPI",
	Long: `Scopecap discovers SCPI instruments on the network, connects the
matching oscilloscope driver, and pulls screenshots (and optionally
channel-1 waveform data) to the local filesystem.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// version is stamped into saved event logs.
const version = "1.0.0"

var (
	cfgFile   string
	logFile   string
	scpiPorts string
	verbose   bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is $HOME/.config/scopecap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"save the session event log to this file on exit")
	rootCmd.PersistentFlags().StringVar(&scpiPorts, "scpi-ports", visa.DefaultSCPIPorts,
		"comma-separated SCPI ports probed during a subnet sweep")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"log debug-level events")
}

// loadConfig loads the configuration from the --config flag, the search
// path, or defaults when no file exists yet. It returns the path the
// config should be saved back to.
func loadConfig() (*config.Config, string, error) {
	path := cfgFile
	if path == "" {
		path = config.FindConfigPath()
	}
	if path == "" {
		return config.DefaultConfig(), config.DefaultConfigPath(), nil
	}
	cfg, path, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newEventLog creates the event log and mirrors its entries onto the
// standard logger.
func newEventLog() *eventlog.Log {
	level := eventlog.LevelInfo
	if verbose {
		level = eventlog.LevelDebug
	}
	events := eventlog.New(level)
	events.Subscribe(func(e eventlog.Entry) {
		log.Printf("[%s] %s", e.Source, e.Message)
	})
	return events
}

// saveEventLog writes the session log when --log-file was given.
func saveEventLog(events *eventlog.Log) {
	if logFile == "" {
		return
	}
	if err := events.SaveTo(logFile, version); err != nil {
		log.Printf("event log not saved: %v", err)
	}
}

// newTransport builds the socket transport from the configured static
// resources and optional subnet sweep.
func newTransport(cfg *config.Config) (*visa.SocketTransport, error) {
	opts := []visa.SocketOption{
		visa.WithResources(cfg.Resources...),
	}
	if cfg.SweepSubnet != "" {
		if _, err := visa.ParsePorts(scpiPorts); err != nil {
			return nil, fmt.Errorf("--scpi-ports: %w", err)
		}
		sweeper := visa.NewLXISweeper([]string{cfg.SweepSubnet}, scpiPorts)
		opts = append(opts, visa.WithSweep(sweeper))
	}
	return visa.NewSocketTransport(opts...), nil
}

// newRegistry returns the supported driver families in match order.
func newRegistry() *driver.Registry {
	return driver.NewRegistry(tektronix.Family)
}

// openHistory opens the capture-history database, or returns nil when the
// config disables it.
func openHistory(cfg *config.Config) (repository.Repository, error) {
	if cfg.HistoryDB == "" {
		return nil, nil
	}
	return sqlite.New(cfg.HistoryDB)
}
