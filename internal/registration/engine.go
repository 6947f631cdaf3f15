// Package registration submits enrollment payloads and classifies what the
// portal did with them.
package registration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"turmasniper/internal/components/assert"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/scrapers/inforestudante"
)

const (
	report_engine_cycle    = "engine.cycle"
	report_engine_success  = "engine.success"
	report_engine_refresh  = "engine.refresh"
	report_engine_diagnose = "engine.diagnose"
)

type Outcome int

const (
	OUTCOME_SUCCESS Outcome = iota
	// OUTCOME_PENDING is a section that is full or not open yet.
	OUTCOME_PENDING
	// OUTCOME_UNEXPECTED is a redirect to a page the portal never sends
	// submissions to.
	OUTCOME_UNEXPECTED
	OUTCOME_TRANSPORT_ERROR
	// OUTCOME_ABANDONED is a unit that was unexpected too many times in a row.
	OUTCOME_ABANDONED
)

func (o Outcome) String() string {
	switch o {
	case OUTCOME_SUCCESS:
		return "success"
	case OUTCOME_PENDING:
		return "pending"
	case OUTCOME_UNEXPECTED:
		return "unexpected"
	case OUTCOME_TRANSPORT_ERROR:
		return "transport_error"
	case OUTCOME_ABANDONED:
		return "abandoned"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func ParseOutcome(text string) (Outcome, error) {
	for o := OUTCOME_SUCCESS; o <= OUTCOME_ABANDONED; o++ {
		if o.String() == text {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", text)
}

// Terminal reports if a unit with this outcome leaves the queue.
func (o Outcome) Terminal() bool {
	switch o {
	case OUTCOME_SUCCESS, OUTCOME_TRANSPORT_ERROR, OUTCOME_ABANDONED:
		return true
	}
	return false
}

// Portal is everything the engine needs from a portal session.
//
// note: this is implemented by *inforestudante.Client
type Portal interface {
	SubjectList(ctx context.Context) (inforestudante.Page, error)
	SubjectForm(ctx context.Context, subject inforestudante.Subject) (inforestudante.Form, error)
	Get(ctx context.Context, link string) (inforestudante.Page, error)
	Post(ctx context.Context, link string, form map[string]string) (inforestudante.Page, error)
	SubjectListUrl() *url.URL
	IsSubjectList(u *url.URL) bool
	IsAcknowledged(u *url.URL) bool
}

// SuccessWriter persists confirmed registrations.
type SuccessWriter interface {
	Append(subject, label string) error
}

// Notifier is told about every confirmed registration.
type Notifier interface {
	NotifySuccess(ctx context.Context, payload Payload) error
}

type EngineOptions struct {
	Success SuccessWriter
	// Notifier may be nil.
	Notifier Notifier
}

// Engine runs submission cycles on a single portal session, it is not safe
// for concurrent use.
type Engine struct {
	portal   Portal
	success  SuccessWriter
	notifier Notifier
	tel      telemetry.API
}

func NewEngine(portal Portal, opts EngineOptions, tel telemetry.API) *Engine {
	assert.NotNil(portal, "portal")
	assert.NotNil(opts.Success, "success writer")
	assert.NotNil(tel, "telemetry")

	return &Engine{
		portal:   portal,
		success:  opts.Success,
		notifier: opts.Notifier,
		tel:      telemetry.NewScopedAPI("registration", tel),
	}
}

// Result is what a single submission cycle ended with.
type Result struct {
	Outcome Outcome
	// Url is the final url of the submission, nil if it was never made.
	Url *url.URL
	// Current is the section the subject list shows for the subject when
	// the outcome is pending, empty if it could not be found.
	Current string
}

// Cycle navigates back to the subject, submits the payload and classifies
// the response. The returned error is only non-nil when the session cannot
// be recovered (authentication failed) or the context is done, every other
// failure is an outcome.
func (e *Engine) Cycle(ctx context.Context, payload Payload) (Result, error) {
	fail := func(err error) (Result, error) {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, inforestudante.ErrAuthFailure) {
			e.tel.ReportBroken(report_engine_cycle, payload.String(), err)
			return Result{}, err
		}
		e.tel.ReportWarning(report_engine_cycle, payload.String(), err)
		return Result{Outcome: OUTCOME_TRANSPORT_ERROR}, nil
	}

	list, err := e.portal.SubjectList(ctx)
	if err != nil {
		return fail(err)
	}

	link := payload.Subject.Url
	row, ok := inforestudante.FindSubjectRow(list, payload.Subject)
	if ok && row.Link != nil {
		link = row.Link
	} else {
		e.tel.ReportWarning(report_engine_cycle, "subject link not on subject list, using scraped url", payload.Subject.Name)
	}
	if link == nil {
		return fail(fmt.Errorf("subject %q has no url", payload.Subject.Name))
	}

	_, err = e.portal.Get(ctx, link.String())
	if err != nil {
		return fail(err)
	}

	e.tel.ReportDebug(report_engine_cycle, "sniping", payload.String(), payload.Fields)
	res, err := e.portal.Post(ctx, payload.TargetUrl.String(), payload.Fields)
	if err != nil {
		return fail(err)
	}

	switch {
	case e.portal.IsSubjectList(res.Url):
		return e.checkSubjectList(ctx, payload, res), nil
	case e.portal.IsAcknowledged(res.Url):
		e.tel.ReportDebug(report_engine_cycle, "submission acknowledged, not yet", payload.String())
		e.refresh(ctx, payload)
		return Result{Outcome: OUTCOME_PENDING, Url: res.Url}, nil
	default:
		e.tel.ReportBroken(
			report_engine_cycle,
			fmt.Errorf("should not have been redirected here"),
			payload.String(),
			res.Url.String(),
		)
		return Result{Outcome: OUTCOME_UNEXPECTED, Url: res.Url}, nil
	}
}

func (e *Engine) checkSubjectList(ctx context.Context, payload Payload, page inforestudante.Page) Result {
	row, ok := inforestudante.FindSubjectRow(page, payload.Subject)
	if ok && strings.Contains(row.Text, payload.DesiredLabel) {
		e.tel.ReportDebug(report_engine_success, "gotcha", payload.String())
		err := e.success.Append(payload.Subject.Name, payload.DesiredLabel)
		if err != nil {
			e.tel.ReportBroken(report_engine_success, fmt.Errorf("write success log: %w", err), payload.String())
		}
		if e.notifier != nil {
			err = e.notifier.NotifySuccess(ctx, payload)
			if err != nil {
				e.tel.ReportWarning(report_engine_success, fmt.Errorf("notify: %w", err), payload.String())
			}
		}
		return Result{Outcome: OUTCOME_SUCCESS, Url: page.Url}
	}

	current := ""
	if ok {
		current = CurrentAssignment(row, payload.DesiredLabel)
		e.tel.ReportDebug(report_engine_diagnose, payload.Subject.Name, row.Text)
	}
	if current != "" {
		e.tel.ReportDebug(report_engine_diagnose, "not yet, still in", current, payload.String())
	} else {
		e.tel.ReportDebug(report_engine_diagnose, "not yet, registrations may not be open", payload.String())
	}
	return Result{Outcome: OUTCOME_PENDING, Url: page.Url, Current: current}
}

// refresh resynchronizes the portal state after an acknowledged submission.
func (e *Engine) refresh(ctx context.Context, payload Payload) {
	_, err := e.portal.Get(ctx, e.portal.SubjectListUrl().String())
	if err != nil {
		e.tel.ReportWarning(report_engine_refresh, "subject list", err)
	}
	if payload.Subject.Url == nil {
		return
	}
	_, err = e.portal.Get(ctx, payload.Subject.Url.String())
	if err != nil {
		e.tel.ReportWarning(report_engine_refresh, payload.Subject.Name, err)
	}
}

// CurrentAssignment guesses the section the subject row currently shows: the
// first cell containing the desired label without its final character, ex.
// "T2" when "T1" is desired.
func CurrentAssignment(row inforestudante.SubjectRow, desired string) string {
	runes := []rune(desired)
	if len(runes) < 2 {
		return ""
	}
	prefix := string(runes[:len(runes)-1])
	for _, cell := range row.Cells {
		if strings.Contains(cell, prefix) {
			return cell
		}
	}
	return ""
}
