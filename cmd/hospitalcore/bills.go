package main

import (
	"github.com/spf13/cobra"

	"hospitalcore/pkg/domain"
)

func billSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bill-sweep",
		Short: "Open bills for unbilled appointments and visits and print them as JSON",
		Long: "Prices every appointment, prescription, and lab order not yet on a live bill " +
			"from the configured tariff. Requires HOSPITALCORE_AUTOBILLING_ENABLED.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			bills, err := a.svc.AutoGenerateBills(cmd.Context())
			if err != nil {
				return err
			}
			if bills == nil {
				bills = []*domain.Bill{}
			}
			return writeJSON(cmd.OutOrStdout(), bills)
		},
	}
}
