package preferences

import (
	"context"
	"errors"
	"turmasniper/internal/components/chrono"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/scrapers/inforestudante"
)

const (
	report_generate = "generate"
)

// FormSource fetches the enrollment form of a subject.
//
// note: this is implemented by *inforestudante.Client
type FormSource interface {
	SubjectForm(ctx context.Context, subject inforestudante.Subject) (inforestudante.Form, error)
}

// Generate scrapes the form of every subject that has a url and records, per
// relevant zone, the Unset placeholder together with every option label.
// Subjects whose form could not be read are skipped with a warning, only a
// cancelled context stops generation.
func Generate(
	ctx context.Context,
	subjects []inforestudante.Subject,
	source FormSource,
	clock chrono.API,
	tel telemetry.API,
) (Preferences, error) {
	tel = telemetry.NewScopedAPI("preferences", tel)
	prefs := New()

	for _, subject := range subjects {
		if subject.Url == nil {
			tel.ReportDebug(report_generate, "no url, skipping", subject.Name)
			continue
		}

		form, err := source.SubjectForm(ctx, subject)
		if err != nil {
			if ctx.Err() != nil {
				return Preferences{}, ctx.Err()
			}
			tel.ReportWarning(report_generate, subject.Name, err)
			continue
		}

		entry := SubjectPreference{
			LastGenerated: clock.Now(),
			Zones:         map[string]ZonePreference{},
		}
		for _, zone := range form.Zones {
			labels := make([]string, 0, len(zone.Options))
			for _, opt := range zone.Options {
				labels = append(labels, opt.Label)
			}
			entry.Zones[zone.Title] = ZonePreference{
				DesiredLabel: Unset,
				Options:      labels,
			}
		}
		prefs.Subjects[subject.Name] = entry

		tel.ReportDebug(report_generate, subject.Name, len(entry.Zones))
	}

	if len(prefs.Subjects) == 0 && len(subjects) > 0 {
		tel.ReportWarning(report_generate, errors.New("no subject could be scraped"))
	}
	return prefs, nil
}
