package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"turmasniper/internal/components/chrono"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/config"
	"turmasniper/internal/preferences"
	"turmasniper/internal/scrapers/inforestudante"

	"github.com/jedib0t/go-pretty/v6/table"
)

func fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func newClock() chrono.API {
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		slog.Warn("could not load portal timezone, using local time", "err", err)
		return chrono.StandardImpl{}
	}
	return clock
}

// loadConfig exits if the config is missing or unusable, no request is ever
// made without credentials.
func loadConfig() config.Config {
	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrTemplateCreated) {
		slog.Info("wrote a config template, fill in your credentials and run again", "path", *configPath)
		os.Exit(1)
	}
	if err != nil {
		fatal("failed to read config", err)
	}
	return cfg
}

func newClient(cfg config.Config, tel telemetry.API) *inforestudante.Client {
	opts := inforestudante.ClientOptions{
		BaseUrl:       cfg.BaseUrl,
		Credentials:   cfg.Credentials(),
		RelevantZones: cfg.RelevantZones,
		RateLimit:     cfg.RateLimit,
		Timeout:       cfg.Timeout(),
	}
	if *dumpHttp != "" {
		output, err := telemetry.NewFilesystemOutput(*dumpHttp)
		if err != nil {
			fatal("failed to prepare http dump directory", err)
		}
		slog.Info("dumping http exchanges", "dir", output.Directory())
		opts.HttpDump = output
	}

	client, err := inforestudante.NewClient(opts, tel)
	if err != nil {
		fatal("failed to create portal client", err)
	}
	return client
}

// listSubjects logs in and reaches the subject list, failing to do either is
// fatal.
func listSubjects(ctx context.Context, client *inforestudante.Client) []inforestudante.Subject {
	page, err := client.Start(ctx)
	if errors.Is(err, inforestudante.ErrAuthFailure) {
		fatal("failed to log in, check username and password", err)
	}
	if err != nil {
		fatal("failed to reach the subject list", err)
	}
	subjects, err := inforestudante.ExtractSubjects(page)
	if err != nil {
		fatal("failed to read the subject list", err)
	}
	for _, s := range subjects {
		slog.Info("subject", "name", s.Name, "semester", s.Semester, "has_url", s.Url != nil)
	}
	return subjects
}

func generatePreferences(ctx context.Context, cfg config.Config, client *inforestudante.Client, subjects []inforestudante.Subject, tel telemetry.API) {
	prefs, err := preferences.Generate(ctx, subjects, client, newClock(), tel)
	if err != nil {
		fatal("failed to generate preferences", err)
	}
	err = preferences.Save(cfg.PreferencesFile, prefs)
	if err != nil {
		fatal("failed to save preferences", err)
	}
	slog.Info(
		"preferences written, replace every desired_label with the section you want",
		"path", cfg.PreferencesFile,
		"subjects", len(prefs.Subjects),
		"placeholder", preferences.Unset,
	)
}
