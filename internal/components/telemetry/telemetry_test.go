package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	inner := NewTestAPI(t)
	scoped := NewScopedAPI("registration", inner)

	scoped.ReportBroken("engine.cycle", errors.New("connection reset"))
	scoped.ReportWarning("engine.resolve", "Databases")
	scoped.ReportDebug("sniping", "Databases / Lecture / T1")
	scoped.ReportCount("queue.size", 3)

	reports := inner.Reports()
	require.Len(t, reports, 4)
	require.Equal(t, "registration: engine.cycle", reports[0].Id)
	require.Equal(t, "registration: engine.resolve", reports[1].Id)
	require.Equal(t, "registration: sniping", reports[2].Id)
	require.Equal(t, REPORT_COUNT, reports[3].Kind)
	require.Equal(t, int64(3), reports[3].Count)

	require.True(t, inner.Has(REPORT_BROKEN, "engine.cycle"))
	require.False(t, inner.Has(REPORT_WARNING, "engine.cycle"))
	require.True(t, inner.Mentions(REPORT_BROKEN, "connection reset"))
	require.True(t, inner.Mentions(REPORT_DEBUG, "T1"))
	require.False(t, inner.Mentions(REPORT_WARNING, "T1"))
}
