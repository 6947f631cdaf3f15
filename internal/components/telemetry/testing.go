package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

type ReportKind int

const (
	REPORT_BROKEN ReportKind = iota
	REPORT_WARNING
	REPORT_DEBUG
	REPORT_COUNT
)

// Report is a single call made to a TestAPI.
type Report struct {
	Kind   ReportKind
	Id     string
	Params []any
	Count  int64
}

// TestAPI records every report it receives and mirrors it to the test log.
type TestAPI struct {
	t       testing.TB
	mutex   *sync.Mutex
	reports *[]Report
}

func NewTestAPI(t testing.TB) TestAPI {
	return TestAPI{
		t:       t,
		mutex:   &sync.Mutex{},
		reports: &[]Report{},
	}
}

func (a TestAPI) record(r Report) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	*a.reports = append(*a.reports, r)
}

func (a TestAPI) ReportBroken(id string, params ...any) {
	a.t.Logf("BROKEN %s %v", id, params)
	a.record(Report{Kind: REPORT_BROKEN, Id: id, Params: params})
}

func (a TestAPI) ReportWarning(id string, params ...any) {
	a.t.Logf("WARN %s %v", id, params)
	a.record(Report{Kind: REPORT_WARNING, Id: id, Params: params})
}

func (a TestAPI) ReportDebug(msg string, params ...any) {
	a.t.Logf("DEBUG %s %v", msg, params)
	a.record(Report{Kind: REPORT_DEBUG, Id: msg, Params: params})
}

func (a TestAPI) ReportCount(id string, count int64) {
	a.t.Logf("COUNT %s %d", id, count)
	a.record(Report{Kind: REPORT_COUNT, Id: id, Count: count})
}

// Reports returns a copy of everything recorded so far.
func (a TestAPI) Reports() []Report {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	out := make([]Report, len(*a.reports))
	copy(out, *a.reports)
	return out
}

// Has returns true if a report of the given kind was made with an id that contains `id`.
func (a TestAPI) Has(kind ReportKind, id string) bool {
	for _, r := range a.Reports() {
		if r.Kind == kind && strings.Contains(r.Id, id) {
			return true
		}
	}
	return false
}

// Mentions returns true if any report of the given kind has a param whose
// printed form contains `text`.
func (a TestAPI) Mentions(kind ReportKind, text string) bool {
	for _, r := range a.Reports() {
		if r.Kind != kind {
			continue
		}
		for _, p := range r.Params {
			if strings.Contains(fmt.Sprint(p), text) {
				return true
			}
		}
	}
	return false
}
