package registration

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/preferences"
	"turmasniper/internal/scrapers/inforestudante"
	"turmasniper/internal/scrapers/inforestudante/portaltest"

	"github.com/stretchr/testify/require"
)

const (
	testUsername = "uc2020123456@student.uc.pt"
	testPassword = "secret"
)

func databases() portaltest.Subject {
	return portaltest.Subject{
		Id:       "7",
		Number:   "01000007",
		Name:     "Databases",
		Semester: "1.º Semestre",
		Zones: []portaltest.Zone{
			{
				Title: "Lecture",
				Rows: []portaltest.Row{
					{Label: "T1 (20 seats)", Capacity: "20 seats", InputName: "turmaT", InputValue: "101"},
					{Label: "T2 (0 seats)", Capacity: "0 seats", InputName: "turmaT", InputValue: "102"},
				},
			},
		},
	}
}

func networks() portaltest.Subject {
	return portaltest.Subject{
		Id:       "8",
		Number:   "01000008",
		Name:     "Networks",
		Semester: "1.º Semestre",
		Zones: []portaltest.Zone{
			{
				Title: "Lecture",
				Rows: []portaltest.Row{
					{Label: "T1", Capacity: "3 seats", Generic: "h-T1"},
				},
			},
		},
	}
}

func desire(prefs preferences.Preferences, subject, zone, label string) {
	entry, ok := prefs.Subjects[subject]
	if !ok {
		entry = preferences.SubjectPreference{Zones: map[string]preferences.ZonePreference{}}
	}
	entry.Zones[zone] = preferences.ZonePreference{DesiredLabel: label}
	prefs.Subjects[subject] = entry
}

type recordingNotifier struct {
	mutex    sync.Mutex
	payloads []Payload
}

func (n *recordingNotifier) NotifySuccess(ctx context.Context, payload Payload) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

type harness struct {
	portal     *portaltest.Portal
	client     *inforestudante.Client
	engine     *Engine
	tel        telemetry.TestAPI
	successLog string
	notifier   *recordingNotifier
}

func setup(t testing.TB, subjects ...portaltest.Subject) harness {
	t.Helper()

	portal := portaltest.New(testUsername, testPassword, subjects...)
	t.Cleanup(portal.Close)

	tel := telemetry.NewTestAPI(t)
	client, err := inforestudante.NewClient(inforestudante.ClientOptions{
		BaseUrl:       portal.Url(),
		Credentials:   inforestudante.Credentials{Username: testUsername, Password: testPassword},
		RelevantZones: []string{"Lecture"},
		Timeout:       5 * time.Second,
	}, tel)
	if err != nil {
		t.Fatal(err)
	}

	successLog := filepath.Join(t.TempDir(), "success.log")
	notifier := &recordingNotifier{}
	engine := NewEngine(client, EngineOptions{
		Success:  &SuccessLog{Path: successLog},
		Notifier: notifier,
	}, tel)

	return harness{
		portal:     portal,
		client:     client,
		engine:     engine,
		tel:        tel,
		successLog: successLog,
		notifier:   notifier,
	}
}

func (h harness) resolve(t testing.TB, prefs preferences.Preferences) Resolution {
	t.Helper()
	ctx := context.Background()

	page, err := h.client.SubjectList(ctx)
	require.NoError(t, err)
	subjects, err := inforestudante.ExtractSubjects(page)
	require.NoError(t, err)

	resolution, err := h.engine.Resolve(ctx, subjects, prefs)
	require.NoError(t, err)
	return resolution
}

func TestCycleSuccess(t *testing.T) {
	h := setup(t, databases())
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T1"}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	payload := resolution.Payloads[0]
	require.Equal(t, "T1 (20 seats)", payload.Matched)
	require.Equal(t, map[string]string{"turmaT": "101"}, payload.Fields)
	require.True(t, h.client.IsAcknowledged(payload.TargetUrl))

	result, err := h.engine.Cycle(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)

	data, err := os.ReadFile(h.successLog)
	require.NoError(t, err)
	require.Equal(t, "Databases  -  T1\n", string(data))

	submissions := h.portal.Submissions()
	require.Len(t, submissions, 1)
	require.Equal(t, "7", submissions[0].SubjectId)
	require.Equal(t, url.Values{"turmaT": {"101"}}, submissions[0].Fields)

	require.Len(t, h.notifier.payloads, 1)
	require.Equal(t, "Databases", h.notifier.payloads[0].Subject.Name)
}

func mathematics(id, name string) portaltest.Subject {
	return portaltest.Subject{
		Id:       id,
		Number:   "010000" + id,
		Name:     name,
		Semester: "1.º Semestre",
		Zones: []portaltest.Zone{
			{
				Title: "Lecture",
				Rows: []portaltest.Row{
					{Label: "T1", Capacity: "10 seats", InputName: "turmaT", InputValue: "101"},
				},
			},
		},
	}
}

func TestCycleSubjectNamesSharingAPrefix(t *testing.T) {
	h := setup(t, mathematics("68", "Análise Matemática II"), mathematics("67", "Análise Matemática I"))
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T1"}
	})

	prefs := preferences.New()
	desire(prefs, "Análise Matemática I", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.NoError(t, err)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)

	submissions := h.portal.Submissions()
	require.Len(t, submissions, 1)
	require.Equal(t, "67", submissions[0].SubjectId)
	require.Equal(t, "T1", h.portal.Assigned("67"))
	require.Empty(t, h.portal.Assigned("68"))
}

func TestCycleDoesNotConfirmAgainstAnotherSubject(t *testing.T) {
	h := setup(t, mathematics("68", "Análise Matemática II"), mathematics("67", "Análise Matemática I"))
	h.portal.Update("68", func(s *portaltest.Subject) {
		s.Assigned = "T1"
	})
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST}
	})

	prefs := preferences.New()
	desire(prefs, "Análise Matemática I", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.NoError(t, err)
	require.Equal(t, OUTCOME_PENDING, result.Outcome)
	require.NoFileExists(t, h.successLog)
}

func TestCyclePending(t *testing.T) {
	h := setup(t, databases())
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T2"}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.NoError(t, err)
	require.Equal(t, OUTCOME_PENDING, result.Outcome)
	require.Equal(t, "T2", result.Current)

	require.NoFileExists(t, h.successLog)
	require.Empty(t, h.notifier.payloads)
}

func TestCycleAcknowledgedRefreshes(t *testing.T) {
	h := setup(t, databases())
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.ACKNOWLEDGE}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	listGets := h.portal.Count(http.MethodGet, "/nonio/inscturmas/listaInscricoes.do")
	subjectGets := h.portal.Count(http.MethodGet, "/nonio/inscturmas/inscrever.do")

	result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.NoError(t, err)
	require.Equal(t, OUTCOME_PENDING, result.Outcome)
	require.True(t, h.client.IsAcknowledged(result.Url))

	require.Equal(t, listGets+1, h.portal.Count(http.MethodGet, "/nonio/inscturmas/listaInscricoes.do"))
	// one to open the subject before submitting, one to refresh it
	require.Equal(t, subjectGets+2, h.portal.Count(http.MethodGet, "/nonio/inscturmas/inscrever.do"))
}

func TestCycleUnexpectedAndTransport(t *testing.T) {
	table := []struct {
		decision portaltest.Decision
		outcome  Outcome
	}{
		{decision: portaltest.Decision{Outcome: portaltest.REDIRECT_ELSEWHERE}, outcome: OUTCOME_UNEXPECTED},
		{decision: portaltest.Decision{Outcome: portaltest.FAIL}, outcome: OUTCOME_TRANSPORT_ERROR},
	}

	for _, row := range table {
		h := setup(t, databases())
		decision := row.decision
		h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
			return decision
		})

		prefs := preferences.New()
		desire(prefs, "Databases", "Lecture", "T1")
		resolution := h.resolve(t, prefs)
		require.Len(t, resolution.Payloads, 1)

		result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
		require.NoError(t, err)
		require.Equal(t, row.outcome, result.Outcome)
		require.NoFileExists(t, h.successLog)
	}
}

func TestCycleRecoversExpiredSession(t *testing.T) {
	h := setup(t, databases())
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T1"}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	h.portal.ExpireSessions()
	result, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.NoError(t, err)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)
	require.Equal(t, 2, h.portal.Count(http.MethodPost, "/nonio/security/login.do"))
}

func TestCycleAuthFailureIsFatal(t *testing.T) {
	h := setup(t, databases())

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 1)

	h.portal.SetPassword("changed")
	h.portal.ExpireSessions()

	_, err := h.engine.Cycle(context.Background(), resolution.Payloads[0])
	require.ErrorIs(t, err, inforestudante.ErrAuthFailure)
	require.Empty(t, h.portal.Submissions())
}

func TestQueueRunAgainstPortal(t *testing.T) {
	h := setup(t, databases(), networks())

	databaseAttempts := 0
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		if subject.Id == "8" {
			return portaltest.Decision{Outcome: portaltest.FAIL}
		}
		databaseAttempts++
		if databaseAttempts < 3 {
			return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T2"}
		}
		return portaltest.Decision{Outcome: portaltest.REDIRECT_LIST, Assign: "T1"}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	desire(prefs, "Networks", "Lecture", "T1")
	resolution := h.resolve(t, prefs)
	require.Len(t, resolution.Payloads, 2)
	// networks only has the generic input
	require.Equal(t, map[string]string{inforestudante.FallbackFieldName: "h-T1"}, resolution.Payloads[1].Fields)
	require.True(t, resolution.Payloads[1].Fallback)
	require.False(t, resolution.Payloads[0].Fallback)
	require.True(t, h.tel.Mentions(telemetry.REPORT_WARNING, "generic trigger"))

	recorder := &memoryRecorder{}
	queue := NewQueue(h.engine, QueueOptions{Recorder: recorder}, h.tel)
	report, err := queue.Run(context.Background(), resolution.Payloads)
	require.NoError(t, err)

	require.Equal(t, 4, report.Cycles)
	require.Equal(t, 2, report.Outcomes[OUTCOME_PENDING])
	require.Equal(t, 1, report.Outcomes[OUTCOME_SUCCESS])
	require.Equal(t, 1, report.Outcomes[OUTCOME_TRANSPORT_ERROR])
	require.Equal(t, OUTCOME_SUCCESS, report.Done[resolution.Payloads[0].String()])
	require.Equal(t, OUTCOME_TRANSPORT_ERROR, report.Done[resolution.Payloads[1].String()])

	var order []string
	for _, s := range h.portal.Submissions() {
		order = append(order, s.SubjectId)
	}
	require.Equal(t, []string{"7", "8", "7", "7"}, order)
	require.Len(t, recorder.attempts, 4)

	data, err := os.ReadFile(h.successLog)
	require.NoError(t, err)
	require.Equal(t, "Databases  -  T1\n", string(data))
}

func TestQueueAbandonsUnexpected(t *testing.T) {
	h := setup(t, databases())
	h.portal.SetOnSubmit(func(subject portaltest.Subject, fields url.Values) portaltest.Decision {
		return portaltest.Decision{Outcome: portaltest.REDIRECT_ELSEWHERE}
	})

	prefs := preferences.New()
	desire(prefs, "Databases", "Lecture", "T1")
	resolution := h.resolve(t, prefs)

	queue := NewQueue(h.engine, QueueOptions{MaxUnexpected: 3}, h.tel)
	report, err := queue.Run(context.Background(), resolution.Payloads)
	require.NoError(t, err)
	require.Equal(t, 3, report.Cycles)
	require.Equal(t, 2, report.Outcomes[OUTCOME_UNEXPECTED])
	require.Equal(t, 1, report.Outcomes[OUTCOME_ABANDONED])
	require.Len(t, h.portal.Submissions(), 3)
}
