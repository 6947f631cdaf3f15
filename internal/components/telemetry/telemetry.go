package telemetry

import (
	"fmt"
)

// API is where every component reports what went wrong (or right). Tests swap
// it for a TestAPI to assert that failures are actually reported.
//
// An `id` names the component that is affected, lowercase and dot separated,
// ex. `client.login`. What exactly failed inside the component goes in the
// params or in the wrapped error.
type API interface {
	// ReportBroken reports something the operator has to fix.
	ReportBroken(id string, params ...any)
	// ReportWarning reports something odd that the component recovered from.
	ReportWarning(id string, params ...any)
	// ReportDebug is only shown with verbose logging.
	ReportDebug(msg string, params ...any)
	// ReportCount reports the value of a counter at this point in time,
	// successive counts replace each other.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id (or debug message) with "namespace: ".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
