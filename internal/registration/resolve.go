package registration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"turmasniper/internal/preferences"
	"turmasniper/internal/scrapers/inforestudante"
	"turmasniper/pkg/textutil"
)

const (
	report_engine_resolve = "engine.resolve"
)

var (
	ErrNoMatchingOption  = errors.New("no option matches the desired label")
	ErrNoSubmissionField = errors.New("matched option has no submission field")
	ErrPreferenceUnset   = errors.New("desired label was not chosen")
)

// Payload is one subject-zone registration attempt, it is submitted verbatim
// on every retry.
type Payload struct {
	Subject      inforestudante.Subject
	Zone         string
	TargetUrl    *url.URL
	Fields       map[string]string
	DesiredLabel string
	// Matched is the full label of the option the desired label matched.
	Matched string
	// Fallback is true when the matched row had no section input and the
	// generic trigger is submitted instead.
	Fallback bool
}

func (p Payload) String() string {
	return fmt.Sprintf("%s / %s / %s", p.Subject.Name, p.Zone, p.DesiredLabel)
}

// Drop is a subject-zone unit that will never be queued.
type Drop struct {
	Subject string
	Zone    string
	Err     error
}

type Resolution struct {
	Payloads []Payload
	Dropped  []Drop
}

// MatchOption returns the first option whose label contains `desired`.
func MatchOption(options []inforestudante.Option, desired string) (inforestudante.Option, bool) {
	for _, opt := range options {
		if strings.Contains(opt.Label, desired) {
			return opt, true
		}
	}
	return inforestudante.Option{}, false
}

// BuildPayload turns the desired label of a zone into a Payload, it fails if
// the label is unset, matches nothing or matches a row with no input.
func BuildPayload(subject inforestudante.Subject, form inforestudante.Form, zone inforestudante.Zone, desired string) (Payload, error) {
	if desired == "" || desired == preferences.Unset {
		return Payload{}, ErrPreferenceUnset
	}

	opt, ok := MatchOption(zone.Options, desired)
	if !ok {
		labels := make([]string, len(zone.Options))
		for i, o := range zone.Options {
			labels[i] = o.Label
		}
		closest, found := textutil.Closest(desired, labels)
		if found {
			return Payload{}, fmt.Errorf("%w: %q, did you mean %q?", ErrNoMatchingOption, desired, closest)
		}
		return Payload{}, fmt.Errorf("%w: %q", ErrNoMatchingOption, desired)
	}
	if opt.Field == nil {
		return Payload{}, fmt.Errorf("%w: %q (%s)", ErrNoSubmissionField, opt.Label, opt.Capacity)
	}

	return Payload{
		Subject:      subject,
		Zone:         zone.Title,
		TargetUrl:    form.Action,
		Fields:       map[string]string{opt.Field.Name: opt.Field.Value},
		DesiredLabel: desired,
		Matched:      opt.Label,
		Fallback:     opt.Fallback,
	}, nil
}

// Resolve fetches the live form of every subject that has a url and is in
// the preferences, and builds one Payload per relevant zone. Units that
// cannot be submitted are dropped and logged. Only an authentication failure
// or a cancelled context stops resolution.
func (e *Engine) Resolve(ctx context.Context, subjects []inforestudante.Subject, prefs preferences.Preferences) (Resolution, error) {
	var result Resolution
	drop := func(subject, zone string, err error) {
		e.tel.ReportWarning(report_engine_resolve, subject, zone, err)
		result.Dropped = append(result.Dropped, Drop{Subject: subject, Zone: zone, Err: err})
	}

	names := prefs.SubjectNames()
	for _, subject := range subjects {
		if subject.Url == nil {
			e.tel.ReportDebug(report_engine_resolve, "no url, skipping", subject.Name)
			continue
		}
		if _, ok := prefs.Subjects[subject.Name]; !ok {
			closest, found := textutil.Closest(subject.Name, names)
			if found {
				e.tel.ReportWarning(report_engine_resolve, "subject not in preferences", subject.Name, fmt.Sprintf("did you mean %q?", closest))
			} else {
				e.tel.ReportWarning(report_engine_resolve, "subject not in preferences", subject.Name)
			}
			continue
		}

		form, err := e.portal.SubjectForm(ctx, subject)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, inforestudante.ErrAuthFailure) {
				return result, err
			}
			drop(subject.Name, "", err)
			continue
		}

		for _, zone := range form.Zones {
			desired, ok := prefs.Desired(subject.Name, zone.Title)
			if !ok {
				drop(subject.Name, zone.Title, fmt.Errorf("%w: zone is missing from preferences, regenerate them", ErrPreferenceUnset))
				continue
			}
			payload, err := BuildPayload(subject, form, zone, desired)
			if err != nil {
				drop(subject.Name, zone.Title, err)
				continue
			}
			if payload.Fallback {
				e.tel.ReportWarning(report_engine_resolve, "no section input on the matched row, submitting the generic trigger", payload.String(), payload.Matched)
			}
			e.tel.ReportDebug(report_engine_resolve, payload.String(), payload.Matched, payload.Fields)
			result.Payloads = append(result.Payloads, payload)
		}
	}

	e.tel.ReportCount(report_engine_resolve, int64(len(result.Payloads)))
	return result, nil
}
