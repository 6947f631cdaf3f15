package commands

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/history"
	"turmasniper/internal/preferences"
	"turmasniper/internal/registration"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(snipeCmd)
}

var snipeCmd = &cobra.Command{
	Use:   "snipe",
	Short: "Submits every desired section over and over until the portal confirms it.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		tel := telemetry.SlogAPI{}
		client := newClient(cfg, tel)
		subjects := listSubjects(ctx, client)

		prefs, err := preferences.Load(cfg.PreferencesFile)
		if errors.Is(err, preferences.ErrNotFound) {
			generatePreferences(ctx, cfg, client, subjects, tel)
			slog.Info("edit the preferences and run snipe again")
			return
		}
		if err != nil {
			fatal("failed to read preferences", err)
		}

		opts := registration.EngineOptions{
			Success: &registration.SuccessLog{Path: cfg.SuccessLog},
		}
		if cfg.Smtp != nil {
			opts.Notifier = registration.EmailNotifier{
				Server:       cfg.Smtp.Server,
				Port:         cfg.Smtp.Port,
				EmailAddress: cfg.Smtp.EmailAddress,
				Password:     cfg.Smtp.Password,
				To:           cfg.Smtp.To,
			}
		}
		engine := registration.NewEngine(client, opts, tel)

		resolution, err := engine.Resolve(ctx, subjects, prefs)
		if err != nil {
			fatal("failed to resolve payloads", err)
		}
		for _, d := range resolution.Dropped {
			slog.Warn("dropped", "subject", d.Subject, "zone", d.Zone, "err", d.Err.Error())
		}
		if len(resolution.Payloads) == 0 {
			slog.Warn("nothing to snipe, check the desired_label of every zone", "path", cfg.PreferencesFile)
			return
		}

		queueOpts := registration.QueueOptions{
			Pacer:         registration.FixedPacer{Delay: cfg.Pacing()},
			MaxUnexpected: cfg.UnexpectedLimit(),
			Clock:         newClock(),
		}
		if cfg.History.Enabled() {
			store, err := history.Open(cfg.History, tel)
			if err != nil {
				fatal("failed to open history", err)
			}
			defer store.Close()
			queueOpts.Recorder = store
		}

		queue := registration.NewQueue(engine, queueOpts, tel)
		report, runErr := queue.Run(ctx, resolution.Payloads)
		printReport(report)

		if runErr != nil && ctx.Err() == nil {
			slog.Error("sniping stopped", "err", runErr.Error())
			os.Exit(1)
		}
		if runErr != nil {
			slog.Info("interrupted", "cycles", report.Cycles)
		}
	},
}

func printReport(report registration.Report) {
	units := make([]string, 0, len(report.Done))
	for u := range report.Done {
		units = append(units, u)
	}
	sort.Strings(units)

	t := newTable()
	t.AppendHeader(table.Row{"Unit", "Outcome"})
	for _, u := range units {
		t.AppendRow(table.Row{u, report.Done[u].String()})
	}
	t.AppendFooter(table.Row{"Cycles", report.Cycles})
	t.Render()
}
