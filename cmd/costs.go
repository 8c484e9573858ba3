package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/store"
)

var costsWindowHours int

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Report provider spend over a time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		since := time.Now().UTC().Add(-time.Duration(costsWindowHours) * time.Hour)
		totals, err := st.LedgerTotals(ctx, since)
		if err != nil {
			return eris.Wrap(err, "ledger totals")
		}

		var total float64
		for _, amount := range totals {
			total += amount
		}

		report := struct {
			WindowHours int                `json:"window_hours"`
			Since       time.Time          `json:"since"`
			ByProvider  map[string]float64 `json:"by_provider"`
			TotalUSD    float64            `json:"total_usd"`
		}{
			WindowHours: costsWindowHours,
			Since:       since,
			ByProvider:  totals,
			TotalUSD:    total,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	costsCmd.Flags().IntVar(&costsWindowHours, "window", 24, "lookback window in hours")
	rootCmd.AddCommand(costsCmd)
}
