package registration

import (
	"context"
	"time"
	"turmasniper/internal/components/assert"
	"turmasniper/internal/components/chrono"
	"turmasniper/internal/components/telemetry"
)

const (
	report_queue_run  = "queue.run"
	report_queue_size = "queue.size"
)

const DefaultMaxUnexpected = 10

// Pacer is waited on after every cycle that did not end its unit.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer sleeps for the same delay every time.
type FixedPacer struct {
	Delay time.Duration
}

func (p FixedPacer) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Cycler runs a single submission cycle for a payload.
//
// note: this is implemented by *Engine
type Cycler interface {
	Cycle(ctx context.Context, payload Payload) (Result, error)
}

// Attempt is one finished cycle.
type Attempt struct {
	Subject string
	Zone    string
	Label   string
	Outcome Outcome
	Url     string
	At      time.Time
}

// Recorder keeps a history of attempts.
type Recorder interface {
	Record(ctx context.Context, attempt Attempt) error
}

type QueueOptions struct {
	// Pacer defaults to NoPacer.
	Pacer Pacer
	// MaxUnexpected is how many unexpected redirects a unit may receive
	// before it is abandoned, defaults to DefaultMaxUnexpected.
	MaxUnexpected int
	// Recorder may be nil.
	Recorder Recorder
	// Clock defaults to chrono.StandardImpl.
	Clock chrono.API
}

type Queue struct {
	cycler        Cycler
	pacer         Pacer
	maxUnexpected int
	recorder      Recorder
	clock         chrono.API
	tel           telemetry.API
}

func NewQueue(cycler Cycler, opts QueueOptions, tel telemetry.API) *Queue {
	assert.NotNil(cycler, "cycler")
	assert.NotNil(tel, "telemetry")

	if opts.Pacer == nil {
		opts.Pacer = NoPacer{}
	}
	if opts.MaxUnexpected <= 0 {
		opts.MaxUnexpected = DefaultMaxUnexpected
	}
	if opts.Clock == nil {
		opts.Clock = chrono.StandardImpl{}
	}

	return &Queue{
		cycler:        cycler,
		pacer:         opts.Pacer,
		maxUnexpected: opts.MaxUnexpected,
		recorder:      opts.Recorder,
		clock:         opts.Clock,
		tel:           telemetry.NewScopedAPI("registration", tel),
	}
}

// Report counts the outcome of every cycle of a run, Done holds the
// terminal outcome of every unit that left the queue.
type Report struct {
	Cycles   int
	Outcomes map[Outcome]int
	Done     map[string]Outcome
}

type unit struct {
	payload    Payload
	unexpected int
}

// Run drains the queue in FIFO order, units that did not reach a terminal
// outcome go back to the tail. It returns once the queue is empty, the
// context is done or a cycle fails with an error.
func (q *Queue) Run(ctx context.Context, payloads []Payload) (Report, error) {
	report := Report{
		Outcomes: map[Outcome]int{},
		Done:     map[string]Outcome{},
	}

	queue := make([]unit, len(payloads))
	for i, p := range payloads {
		queue[i] = unit{payload: p}
	}
	q.tel.ReportDebug(report_queue_run, "payloads ready", len(queue))

	for len(queue) > 0 {
		q.tel.ReportCount(report_queue_size, int64(len(queue)))

		head := queue[0]
		queue = queue[1:]

		result, err := q.cycler.Cycle(ctx, head.payload)
		if err != nil {
			return report, err
		}
		report.Cycles++

		outcome := result.Outcome
		if outcome == OUTCOME_UNEXPECTED {
			head.unexpected++
			if head.unexpected >= q.maxUnexpected {
				q.tel.ReportBroken(report_queue_run, "too many unexpected redirects, abandoning", head.payload.String(), head.unexpected)
				outcome = OUTCOME_ABANDONED
			}
		} else {
			head.unexpected = 0
		}
		report.Outcomes[outcome]++
		q.record(ctx, head.payload, outcome, result)

		if outcome.Terminal() {
			report.Done[head.payload.String()] = outcome
			q.tel.ReportDebug(report_queue_run, head.payload.String(), outcome.String())
			continue
		}

		queue = append(queue, head)
		err = q.pacer.Wait(ctx)
		if err != nil {
			return report, err
		}
	}

	q.tel.ReportCount(report_queue_size, 0)
	return report, nil
}

func (q *Queue) record(ctx context.Context, payload Payload, outcome Outcome, result Result) {
	if q.recorder == nil {
		return
	}
	attempt := Attempt{
		Subject: payload.Subject.Name,
		Zone:    payload.Zone,
		Label:   payload.DesiredLabel,
		Outcome: outcome,
		At:      q.clock.Now(),
	}
	if result.Url != nil {
		attempt.Url = result.Url.String()
	}
	err := q.recorder.Record(ctx, attempt)
	if err != nil {
		q.tel.ReportWarning(report_queue_run, "record attempt", err)
	}
}
