package inforestudante

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"turmasniper/internal/components/telemetry"
	"turmasniper/internal/scrapers/inforestudante/portaltest"

	"github.com/stretchr/testify/require"
)

var testSubjects = []portaltest.Subject{
	{
		Id:       "213",
		Number:   "01000213",
		Name:     "Bases de Dados",
		Semester: "2.º Semestre",
		Zones: []portaltest.Zone{
			{
				Title: "Práticas-Laboratoriais",
				Rows: []portaltest.Row{
					{Label: "PL1", Capacity: "3 vagas", InputName: "turmaPL", InputValue: "9001", Generic: "h-PL1"},
					{Label: "PL2", Capacity: "0 vagas", Generic: "h-PL2"},
				},
			},
		},
	},
	{
		Id:     "301",
		Number: "01000301",
		Name:   "Projeto",
		NoLink: true,
	},
}

func setupClient(t testing.TB, portal *portaltest.Portal, password string) (*Client, telemetry.TestAPI) {
	t.Helper()
	tel := telemetry.NewTestAPI(t)
	client, err := NewClient(ClientOptions{
		BaseUrl:     portal.Url(),
		Credentials: Credentials{Username: "uc2020123456@student.uc.pt", Password: password},
	}, tel)
	if err != nil {
		t.Fatal(err)
	}
	return client, tel
}

func TestLogin(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, _ := setupClient(t, portal, "secret")
	err := client.Login(context.Background())
	require.NoError(t, err)
	require.Contains(t, client.SessionCookies(), "JSESSIONID")
	require.Equal(t, 1, portal.Count(http.MethodPost, "/nonio/security/login.do"))
}

func TestLoginBadCredentials(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, tel := setupClient(t, portal, "wrong")
	err := client.Login(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)

	var authErr *AuthFailure
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, "Utilizador ou palavra-passe inválidos.", authErr.Reason)
	require.True(t, tel.Has(telemetry.REPORT_WARNING, report_client_login))
}

func TestLoginTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL}, telemetry.NewTestAPI(t))
	require.NoError(t, err)

	err = client.Login(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, http.StatusServiceUnavailable, transportErr.Status)
}

func TestStartLogsInBeforeNavigating(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, tel := setupClient(t, portal, "secret")
	page, err := client.Start(context.Background())
	require.NoError(t, err)
	require.True(t, client.IsSubjectList(page.Url))
	require.Equal(t, 1, portal.Count(http.MethodPost, "/nonio/security/login.do"))
	require.Equal(t, "POST /nonio/security/login.do", portal.Requests()[1])
	// the session was already accepted, no relogin
	require.False(t, tel.Has(telemetry.REPORT_WARNING, report_client_subject_list))
	require.True(t, tel.Mentions(telemetry.REPORT_DEBUG, "JSESSIONID"))
}

func TestStartBadCredentials(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, _ := setupClient(t, portal, "wrong")
	_, err := client.Start(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)
	require.NotErrorIs(t, err, ErrNavFailure)
	require.Equal(t, 0, portal.Count(http.MethodGet, "/nonio/inscturmas/init.do"))
}

func TestSubjectListLogsInWhenSessionIsStale(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, tel := setupClient(t, portal, "secret")
	ctx := context.Background()

	page, err := client.SubjectList(ctx)
	require.NoError(t, err)
	require.True(t, client.IsSubjectList(page.Url))
	require.True(t, tel.Has(telemetry.REPORT_WARNING, report_client_subject_list))
	require.Equal(t, 1, portal.Count(http.MethodPost, "/nonio/security/login.do"))

	subjects, err := ExtractSubjects(page)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	require.Equal(t, "Bases de Dados", subjects[0].Name)
	require.NotNil(t, subjects[0].Url)
	require.Nil(t, subjects[1].Url)

	// an accepted session is reused
	_, err = client.SubjectList(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, portal.Count(http.MethodPost, "/nonio/security/login.do"))

	portal.ExpireSessions()
	_, err = client.SubjectList(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, portal.Count(http.MethodPost, "/nonio/security/login.do"))
}

func TestSubjectListAuthFailureIsNotNavFailure(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, _ := setupClient(t, portal, "wrong")
	_, err := client.SubjectList(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)
	require.NotErrorIs(t, err, ErrNavFailure)
}

func TestSubjectListNavFailure(t *testing.T) {
	var landingHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path_landing {
			landingHits.Add(1)
		}
		http.Error(w, "maintenance", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL}, telemetry.NewTestAPI(t))
	require.NoError(t, err)

	_, err = client.SubjectList(context.Background())
	require.ErrorIs(t, err, ErrNavFailure)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, int32(2), landingHits.Load())
}

func TestSubjectForm(t *testing.T) {
	portal := portaltest.New("uc2020123456@student.uc.pt", "secret", testSubjects...)
	defer portal.Close()

	client, _ := setupClient(t, portal, "secret")
	ctx := context.Background()

	page, err := client.SubjectList(ctx)
	require.NoError(t, err)
	subjects, err := ExtractSubjects(page)
	require.NoError(t, err)

	form, err := client.SubjectForm(ctx, subjects[0])
	require.NoError(t, err)
	require.True(t, client.IsAcknowledged(form.Action))
	require.Len(t, form.Zones, 1)
	require.Equal(t, "Práticas-Laboratoriais", form.Zones[0].Title)
	require.Equal(t, &FormField{Name: "turmaPL", Value: "9001"}, form.Zones[0].Options[0].Field)
	require.Equal(t, &FormField{Name: FallbackFieldName, Value: "h-PL2"}, form.Zones[0].Options[1].Field)

	_, err = client.SubjectForm(ctx, subjects[1])
	require.Error(t, err)
}

func TestOutcomeUrls(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseUrl: "https://inforestudante.uc.pt"}, telemetry.NewTestAPI(t))
	require.NoError(t, err)

	table := []struct {
		url          string
		subjectList  bool
		acknowledged bool
	}{
		{url: "https://inforestudante.uc.pt/nonio/inscturmas/listaInscricoes.do", subjectList: true},
		{url: "https://inforestudante.uc.pt/nonio/inscturmas/listaInscricoes.do?args=1", subjectList: true},
		{url: "https://inforestudante.uc.pt/nonio/inscturmas/inscrever.do?method=submeter", acknowledged: true},
		{url: "https://inforestudante.uc.pt/nonio/inscturmas/inscrever.do?method=prepare&id=1"},
		{url: "https://elsewhere.pt/nonio/inscturmas/listaInscricoes.do"},
		{url: "https://inforestudante.uc.pt/nonio/dashboard/dashboard.do"},
	}
	for _, row := range table {
		u, err := url.Parse(row.url)
		require.NoError(t, err)
		require.Equal(t, row.subjectList, client.IsSubjectList(u), row.url)
		require.Equal(t, row.acknowledged, client.IsAcknowledged(u), row.url)
	}
}
