package commands

import (
	"errors"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/history"
	"turmasniper/internal/registration"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit *int
var historySummary *bool

func init() {
	historyLimit = historyCmd.Flags().Int("limit", 50, "The maximum amount of attempts to print.")
	historySummary = historyCmd.Flags().Bool("summary", false, "Print the amount of attempts of every outcome per subject instead.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>] [--summary]",
	Short: "Prints the most recent registration attempts.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if !cfg.History.Enabled() {
			fatal("history is disabled", errors.New("set history.file or history.url in the config"))
		}

		store, err := history.Open(cfg.History, telemetry.SlogAPI{})
		if err != nil {
			fatal("failed to open history", err)
		}
		defer store.Close()

		t := newTable()
		if *historySummary {
			summary, err := store.Summarize(cmd.Context())
			if err != nil {
				fatal("failed to read history", err)
			}
			outcomes := []registration.Outcome{
				registration.OUTCOME_SUCCESS,
				registration.OUTCOME_PENDING,
				registration.OUTCOME_UNEXPECTED,
				registration.OUTCOME_TRANSPORT_ERROR,
				registration.OUTCOME_ABANDONED,
			}
			header := table.Row{"Subject", "Zone"}
			for _, o := range outcomes {
				header = append(header, o.String())
			}
			t.AppendHeader(header)
			for _, s := range summary {
				row := table.Row{s.Subject, s.Zone}
				for _, o := range outcomes {
					row = append(row, s.Outcomes[o])
				}
				t.AppendRow(row)
			}
			t.Render()
			return
		}

		attempts, err := store.List(cmd.Context(), *historyLimit)
		if err != nil {
			fatal("failed to read history", err)
		}
		t.AppendHeader(table.Row{"When", "Subject", "Zone", "Label", "Outcome", "Url"})
		for _, a := range attempts {
			t.AppendRow(table.Row{
				a.At.Format("2006-01-02 15:04:05"),
				a.Subject,
				a.Zone,
				a.Label,
				a.Outcome.String(),
				a.Url,
			})
		}
		t.Render()
	},
}
