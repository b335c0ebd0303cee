package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scopecap/internal/capture"
	"scopecap/internal/config"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a screenshot from the first supported oscilloscope",
	Long: `Capture scans the bus, connects the first instrument a driver family
supports, and saves its screen to the local filesystem. Unset flags fall
back to the config file defaults.

Examples:
  # Capture with config defaults
  scopecap capture

  # Named capture with waveform export and metadata
  scopecap capture --name ringing_edge --waveform \
      --meta Operator=adent --meta DUT=board-7`,
	RunE: runCapture,
}

var (
	captureDir        string
	captureName       string
	captureBackground string
	captureWaveform   bool
	captureMeta       []string
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVarP(&captureDir, "dir", "d", "", "save directory")
	captureCmd.Flags().StringVarP(&captureName, "name", "n", "", "filename stem")
	captureCmd.Flags().StringVarP(&captureBackground, "background", "b", "",
		"screen background, white or black")
	captureCmd.Flags().BoolVarP(&captureWaveform, "waveform", "w", false,
		"also export channel-1 samples as CSV")
	captureCmd.Flags().StringArrayVarP(&captureMeta, "meta", "m", nil,
		"metadata field as key=value, repeatable")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	metadata, err := parseMetadata(captureMeta)
	if err != nil {
		return err
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	history, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("open capture history: %w", err)
	}
	if history != nil {
		defer history.Close()
	}

	events := newEventLog()
	defer saveEventLog(events)

	o := capture.New(transport, newRegistry(), cfg, events, history)
	defer o.Disconnect()

	ctx := cmd.Context()
	instruments, err := o.Scan(ctx)
	if err != nil {
		return err
	}
	if err := o.AutoSetup(ctx, instruments); err != nil {
		if errors.Is(err, capture.ErrNoInstrument) {
			return fmt.Errorf("no supported oscilloscope on the bus (%d instrument(s) seen)",
				len(instruments))
		}
		return err
	}
	fmt.Printf("connected: %s\n", o.ActiveIdentity())

	req := capture.Request{
		SaveDir:         captureDir,
		FilenameStem:    captureName,
		BackgroundColor: captureBackground,
		Metadata:        metadata,
	}
	if cmd.Flags().Changed("waveform") {
		req.SaveWaveform = &captureWaveform
	}

	result, err := o.Capture(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("saved %s\n", result.ImagePath)
	if result.WaveformPath != "" {
		fmt.Printf("saved %s\n", result.WaveformPath)
	}
	if result.MetadataErr != nil {
		fmt.Printf("warning: metadata not written: %v\n", result.MetadataErr)
	} else if result.MetadataPath != "" {
		fmt.Printf("saved %s\n", result.MetadataPath)
	}

	if len(metadata) > 0 {
		cfg.SetMetadata(metadata)
	}
	if err := cfg.Save(cfgPath); err != nil {
		fmt.Printf("warning: config not saved: %v\n", err)
	}
	return nil
}

// parseMetadata splits repeated --meta key=value flags, keeping the
// flag order.
func parseMetadata(raw []string) ([]config.MetadataField, error) {
	var fields []config.MetadataField
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", item)
		}
		fields = append(fields, config.MetadataField{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	return fields, nil
}
