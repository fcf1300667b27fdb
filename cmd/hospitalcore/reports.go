package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"hospitalcore/internal/projection"
	"hospitalcore/pkg/domain"
)

const dateLayout = "2006-01-02"

func otReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ot-report",
		Short: "Print surgery outcome counts as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := dateFlag(cmd, "from")
			if err != nil {
				return err
			}
			to, err := dateFlag(cmd, "to")
			if err != nil {
				return err
			}
			if !to.IsZero() {
				to = to.AddDate(0, 0, 1)
			}
			a, err := bootstrap(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJSON(cmd.OutOrStdout(), projection.OTReport(a.svc.Store(), from, to))
		},
	}
	cmd.Flags().String("from", "", "First day to include (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day to include (YYYY-MM-DD)")
	return cmd
}

type claimsOutput struct {
	Summary projection.ClaimSummary `json:"summary"`
	Claims  []projection.ClaimRow   `json:"claims"`
}

func claimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Search insurance claims and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			status, _ := cmd.Flags().GetString("status")
			a, err := bootstrap(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			rows := projection.ClaimsMatching(a.svc.Store(), search, domain.ClaimStatus(status))
			if rows == nil {
				rows = []projection.ClaimRow{}
			}
			return writeJSON(cmd.OutOrStdout(), claimsOutput{Summary: projection.SummarizeClaims(rows), Claims: rows})
		},
	}
	cmd.Flags().String("search", "", "Match patient name, claim id, or claim number")
	cmd.Flags().String("status", "", "Only claims with this status")
	return cmd
}

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the role view of one user as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			user, _ := cmd.Flags().GetString("user")
			a, err := bootstrap(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			v, err := projection.Project(a.svc.Store(), domain.Role(role), user, time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().String("role", "", "Role of the user")
	cmd.Flags().String("user", "", "User id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
