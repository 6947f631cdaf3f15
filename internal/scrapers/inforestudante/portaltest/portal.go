// Package portaltest provides an in-memory enrollment portal for tests, it
// serves the same page structure and redirects as the real one.
package portaltest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	path_login        = "/nonio/security/login.do"
	path_dashboard    = "/nonio/dashboard/dashboard.do"
	path_landing      = "/nonio/inscturmas/init.do"
	path_subject_list = "/nonio/inscturmas/listaInscricoes.do"
	path_enroll       = "/nonio/inscturmas/inscrever.do"

	session_cookie = "JSESSIONID"
)

type Row struct {
	Label    string
	Capacity string
	// InputName and InputValue describe the section input, an empty name
	// leaves it out.
	InputName  string
	InputValue string
	// Generic is the value of the row's schedule visibility input, empty
	// leaves it out.
	Generic string
}

type Zone struct {
	Title string
	Rows  []Row
	// Notice replaces the results table when not empty.
	Notice string
}

type Subject struct {
	Id       string
	Number   string
	Name     string
	Semester string
	// Assigned is the section shown on the subject list row.
	Assigned string
	// NoLink leaves the enrollment link out of the subject list row.
	NoLink bool
	Zones  []Zone
}

type Outcome int

const (
	// REDIRECT_LIST processes the submission and redirects to the subject list.
	REDIRECT_LIST Outcome = iota
	// ACKNOWLEDGE keeps the browser on the submission url.
	ACKNOWLEDGE
	// REDIRECT_ELSEWHERE redirects to the dashboard.
	REDIRECT_ELSEWHERE
	// FAIL answers with a 500.
	FAIL
)

// Decision is how the portal answers a submission.
type Decision struct {
	Outcome Outcome
	// Assign replaces the subject's assigned section on REDIRECT_LIST when not empty.
	Assign string
}

type Submission struct {
	SubjectId string
	Fields    url.Values
}

type Portal struct {
	Server *httptest.Server

	mutex       sync.Mutex
	username    string
	password    string
	onSubmit    func(subject Subject, fields url.Values) Decision
	subjects    []*Subject
	sessions    map[string]bool
	current     map[string]string
	counter     int
	requests    []string
	submissions []Submission
}

func New(username, password string, subjects ...Subject) *Portal {
	p := &Portal{
		username: username,
		password: password,
		sessions: map[string]bool{},
		current:  map[string]string{},
	}
	for _, s := range subjects {
		copied := s
		p.subjects = append(p.subjects, &copied)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path_login, p.handleLogin)
	mux.HandleFunc(path_dashboard, p.handleDashboard)
	mux.HandleFunc(path_landing, p.requireSession(p.handleLanding))
	mux.HandleFunc(path_subject_list, p.requireSession(p.handleSubjectList))
	mux.HandleFunc(path_enroll, p.requireSession(p.handleEnroll))

	p.Server = httptest.NewServer(p.logRequests(mux))
	return p
}

func (p *Portal) Url() string {
	return p.Server.URL
}

func (p *Portal) Close() {
	p.Server.Close()
}

// SetOnSubmit decides the answer to every following submission, the default
// assigns nothing and redirects to the subject list. `fn` is called with the
// portal locked.
func (p *Portal) SetOnSubmit(fn func(subject Subject, fields url.Values) Decision) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.onSubmit = fn
}

// SetPassword changes the password accepted by following logins.
func (p *Portal) SetPassword(password string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.password = password
}

// ExpireSessions logs every client out.
func (p *Portal) ExpireSessions() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sessions = map[string]bool{}
}

// Requests returns every request made so far as "METHOD path".
func (p *Portal) Requests() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.requests...)
}

// Count returns how many requests were made with the given method and path.
func (p *Portal) Count(method, path string) int {
	n := 0
	for _, r := range p.Requests() {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

func (p *Portal) Submissions() []Submission {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Submission(nil), p.submissions...)
}

// Assigned returns the assigned section of the subject with the given id.
func (p *Portal) Assigned(id string) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s := p.find(id)
	if s == nil {
		return ""
	}
	return s.Assigned
}

// Update modifies a subject in place, ex. to change its zones between scans.
func (p *Portal) Update(id string, fn func(s *Subject)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s := p.find(id)
	if s != nil {
		fn(s)
	}
}

func (p *Portal) find(id string) *Subject {
	for _, s := range p.subjects {
		if s.Id == id {
			return s
		}
	}
	return nil
}

func (p *Portal) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mutex.Lock()
		p.requests = append(p.requests, r.Method+" "+r.URL.Path)
		p.mutex.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (p *Portal) session(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(session_cookie)
	if err != nil {
		return "", false
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return cookie.Value, p.sessions[cookie.Value]
}

func (p *Portal) requireSession(next func(w http.ResponseWriter, r *http.Request, session string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := p.session(r)
		if !ok {
			http.Redirect(w, r, path_login, http.StatusFound)
			return
		}
		next(w, r, session)
	}
}

func writePage(w http.ResponseWriter, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body>%s</body></html>", body)
}

const loginForm = `<form id="loginFormBean" action="/nonio/security/login.do?method=submeter" method="post">
<input name="username"><input name="password" type="password"></form>`

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		p.mutex.Lock()
		p.counter++
		id := "s" + strconv.Itoa(p.counter)
		p.sessions[id] = false
		p.mutex.Unlock()

		http.SetCookie(w, &http.Cookie{Name: session_cookie, Value: id, Path: "/"})
		writePage(w, loginForm)
		return
	}

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cookie, err := r.Cookie(session_cookie)
	if err != nil {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}
	p.mutex.Lock()
	accepted := r.PostForm.Get("username") == p.username && r.PostForm.Get("password") == p.password
	p.mutex.Unlock()
	if !accepted {
		writePage(w, `<div id="div_erros_preenchimento_formulario"><div><ul>
<li>Utilizador ou palavra-passe inválidos.</li></ul></div></div>`+loginForm)
		return
	}

	p.mutex.Lock()
	p.sessions[cookie.Value] = true
	p.mutex.Unlock()
	http.Redirect(w, r, path_dashboard, http.StatusFound)
}

func (p *Portal) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writePage(w, `<div class="dashboard">painel</div>`)
}

func (p *Portal) handleLanding(w http.ResponseWriter, r *http.Request, _ string) {
	writePage(w, `<div id="link_0"><a href="listaInscricoes.do?args=5189681149284684">Licenciatura</a></div>`)
}

func (p *Portal) handleSubjectList(w http.ResponseWriter, r *http.Request, _ string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var rows strings.Builder
	for _, s := range p.subjects {
		link := ""
		if !s.NoLink {
			link = fmt.Sprintf(`<a href="inscrever.do?method=prepare&amp;id=%s">Inscrições</a>`, url.QueryEscape(s.Id))
		}
		fmt.Fprintf(
			&rows,
			`<tr><td>%s</td><td class="contentLeft"><span>%s&nbsp;*</span></td><td>%s</td><td>%s</td><td>01-02-2021 13:00</td><td>01-02-2021 23:59</td><td>%s</td></tr>`,
			html.EscapeString(s.Number),
			html.EscapeString(s.Name),
			html.EscapeString(s.Semester),
			html.EscapeString(s.Assigned),
			link,
		)
	}
	writePage(w, fmt.Sprintf(
		`<form id="listaInscricoesFormBean" action="/nonio/inscturmas/listaInscricoes.do"><table class="displaytable"><thead><tr><th>Código</th></tr></thead><tbody>%s</tbody></table></form>`,
		rows.String(),
	))
}

func renderZone(z Zone) string {
	var out strings.Builder
	fmt.Fprintf(&out, `<div class="zone"><div class="subtitle">%s</div><div class="zonecontent">`, html.EscapeString(z.Title))
	if z.Notice != "" {
		out.WriteString(html.EscapeString(z.Notice))
		out.WriteString(`</div></div>`)
		return out.String()
	}
	out.WriteString(`<table class="displaytable"><tr><th>Turma</th><th>Horário</th><th>Vagas</th><th>Docente</th><th></th></tr>`)
	for _, row := range z.Rows {
		inputs := ""
		if row.Generic != "" {
			inputs += fmt.Sprintf(`<input type="checkbox" name="visibilidade" value="%s">`, html.EscapeString(row.Generic))
		}
		if row.InputName != "" {
			inputs += fmt.Sprintf(`<input type="radio" name="%s" value="%s">`, html.EscapeString(row.InputName), html.EscapeString(row.InputValue))
		}
		fmt.Fprintf(
			&out,
			`<tr><td>%s</td><td>-</td><td>%s</td><td>-</td><td>%s</td></tr>`,
			html.EscapeString(row.Label),
			html.EscapeString(row.Capacity),
			inputs,
		)
	}
	out.WriteString(`</table></div></div>`)
	return out.String()
}

func (p *Portal) handleEnroll(w http.ResponseWriter, r *http.Request, session string) {
	switch r.URL.Query().Get("method") {
	case "prepare":
		p.mutex.Lock()
		s := p.find(r.URL.Query().Get("id"))
		if s == nil {
			p.mutex.Unlock()
			http.NotFound(w, r)
			return
		}
		p.current[session] = s.Id
		var zones strings.Builder
		for _, z := range s.Zones {
			zones.WriteString(renderZone(z))
		}
		p.mutex.Unlock()

		writePage(w, fmt.Sprintf(
			`<form id="inscreverFormBean" action="/nonio/inscturmas/inscrever.do?method=submeter" method="post"><input type="hidden" name="org.apache.struts.taglib.html.CANCEL" value="x">%s</form>`,
			zones.String(),
		))
	case "submeter":
		if r.Method != http.MethodPost {
			writePage(w, `<div>Pedido recebido.</div>`)
			return
		}
		err := r.ParseForm()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mutex.Lock()
		s := p.find(p.current[session])
		if s == nil {
			p.mutex.Unlock()
			http.Error(w, "no subject selected", http.StatusBadRequest)
			return
		}
		p.submissions = append(p.submissions, Submission{SubjectId: s.Id, Fields: r.PostForm})
		decision := Decision{Outcome: REDIRECT_LIST}
		if p.onSubmit != nil {
			decision = p.onSubmit(*s, r.PostForm)
		}
		if decision.Outcome == REDIRECT_LIST && decision.Assign != "" {
			s.Assigned = decision.Assign
		}
		p.mutex.Unlock()

		switch decision.Outcome {
		case REDIRECT_LIST:
			http.Redirect(w, r, path_subject_list, http.StatusFound)
		case ACKNOWLEDGE:
			writePage(w, `<div>Pedido recebido.</div>`)
		case REDIRECT_ELSEWHERE:
			http.Redirect(w, r, path_dashboard, http.StatusFound)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	default:
		http.NotFound(w, r)
	}
}
