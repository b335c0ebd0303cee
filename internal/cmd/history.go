package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent captures",
	Long:  `History lists the most recent captures recorded in the history database.`,
	RunE:  runHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return fmt.Errorf("capture history is disabled (history_db is empty)")
	}

	history, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("open capture history: %w", err)
	}
	defer history.Close()

	records, err := history.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no captures recorded")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %s\n", rec.CapturedAt.Local().Format("2006-01-02 15:04:05"), rec.ImagePath)
		if !rec.Identity.IsZero() {
			fmt.Printf("    %s at %s\n", rec.Identity, rec.Address)
		}
		if rec.WaveformPath != "" {
			fmt.Printf("    waveform: %s\n", rec.WaveformPath)
		}
		for _, pair := range rec.Metadata {
			fmt.Printf("    %s: %s\n", pair.Key, pair.Value)
		}
	}
	return nil
}
