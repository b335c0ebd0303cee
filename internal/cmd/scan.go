package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scopecap/internal/capture"
	"scopecap/internal/discovery"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover SCPI instruments on the bus",
	Long: `Scan enumerates the configured resources (and, when sweep_subnet is
set, sweeps the subnet for open SCPI ports) and identifies every
instrument that answers *IDN?.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	events := newEventLog()
	defer saveEventLog(events)

	o := capture.New(transport, newRegistry(), cfg, events, nil)
	instruments, err := o.Scan(cmd.Context())
	if err != nil {
		return err
	}

	if len(instruments) == 0 {
		fmt.Println("no instruments found")
		return nil
	}
	for _, instr := range instruments {
		fmt.Printf("[%d] %s\n    %s\n", instr.Index, instr.Address, describe(instr))
	}
	return nil
}

func describe(instr discovery.Instrument) string {
	if instr.Identity.IsZero() {
		return "(no identification response)"
	}
	return instr.Identity.String()
}
