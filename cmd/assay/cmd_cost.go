package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-assay/internal/domain"
)

var costFlags struct {
	period string
	at     string
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Summarise completion spend from the cost ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		gc, err := s.cfg.GovernorSettings()
		if err != nil {
			return err
		}
		at := time.Now()
		if costFlags.at != "" {
			if at, err = time.Parse(time.RFC3339, costFlags.at); err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
		}

		p, err := periodFor(costFlags.period, at.In(gc.Location))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s.rt.Engine.CostSummary(cmd.Context(), p))
	},
}

var pruneOlderThan time.Duration

// ledgerPruner is implemented by storage backends that persist the ledger.
type ledgerPruner interface {
	PruneLedger(ctx context.Context, before time.Time) (int64, error)
}

var costPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete persisted ledger entries older than --older-than",
	Long: `Delete persisted ledger entries older than --older-than. The age must
be at least the configured governor.ledger_retention; entries inside the
retention window feed cost summaries and the daily ceiling.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()

		if retention := s.rt.Governor.Ledger().Retention(); pruneOlderThan < retention {
			return fmt.Errorf("--older-than %s is inside the ledger retention window of %s", pruneOlderThan, retention)
		}
		p, ok := s.rt.Storage.(ledgerPruner)
		if !ok {
			return fmt.Errorf("storage driver %q keeps no ledger to prune", s.cfg.Storage.Driver)
		}
		n, err := p.PruneLedger(cmd.Context(), time.Now().Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		s.logger.Info("ledger pruned", "deleted", n, "older_than", pruneOlderThan)
		return nil
	},
}

func periodFor(name string, at time.Time) (domain.Period, error) {
	switch name {
	case "day":
		return domain.DayOf(at), nil
	case "hour":
		return domain.HourOf(at), nil
	case "week":
		return domain.Trailing(at, 7*24*time.Hour), nil
	default:
		return domain.Period{}, fmt.Errorf("invalid --period %q: want day, hour or week", name)
	}
}

func init() {
	costCmd.Flags().StringVar(&costFlags.period, "period", "day", "period to summarise (day, hour, week)")
	costCmd.Flags().StringVar(&costFlags.at, "at", "", "RFC 3339 time inside the period (default now)")

	costPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 90*24*time.Hour, "age of the entries to delete")
	costCmd.AddCommand(costPruneCmd)
}
