// client.go contains the http session used to talk to the portal, pages are always
// fetched through it so that the cookie jar is the single source of login state.

package inforestudante

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
	"turmasniper/internal/components/assert"
	"turmasniper/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	path_login         = "/nonio/security/login.do"
	path_landing       = "/nonio/inscturmas/init.do"
	path_subject_list  = "/nonio/inscturmas/listaInscricoes.do"
	path_acknowledged  = "/nonio/inscturmas/inscrever.do"
	query_acknowledged = "submeter"
)

const (
	report_client_fetch = "client.fetch"
)

// DefaultRelevantZones are the zone titles that hold class sections a student
// picks, anything else on an enrollment form is informational.
var DefaultRelevantZones = []string{
	"Teórico-Prática",
	"Teórico-Práticas",
	"Práticas-Laboratoriais",
	"Práticas e Laboratórios",
}

type Credentials struct {
	Username string
	Password string
}

type ClientOptions struct {
	BaseUrl     string
	Credentials Credentials
	// RelevantZones defaults to DefaultRelevantZones.
	RelevantZones []string
	// RateLimit is the maximum requests per second, 0 means unlimited.
	RateLimit float64
	// Timeout defaults to 30 seconds.
	Timeout time.Duration
	// HttpDump receives every http exchange if not nil.
	HttpDump telemetry.MessageOutput
}

// Client is an authenticated (or soon to be) session on the portal. It is not
// safe for concurrent use, logins mutate the cookie jar in place.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	credentials   Credentials
	relevantZones []string
	tel           telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(opts.BaseUrl, "base url")

	tel = telemetry.NewScopedAPI("inforestudante", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(10),
		resty.DomainCheckRedirectPolicy(baseUrl.Hostname()),
	)
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	httpClient.SetTimeout(timeout)

	if opts.RateLimit > 0 {
		// max burst of 1 keeps submissions evenly spaced
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, opts.HttpDump)

	relevant := opts.RelevantZones
	if len(relevant) == 0 {
		relevant = DefaultRelevantZones
	}

	return &Client{
		BaseUrl:       baseUrl,
		Http:          httpClient,
		credentials:   opts.Credentials,
		relevantZones: relevant,
		tel:           tel,
	}, nil
}

// Page is a fetched and parsed html document.
type Page struct {
	// Url is the final url of the response after redirects.
	Url    *url.URL
	Status int
	Doc    *goquery.Document
}

func (c *Client) endpoint(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		return c.BaseUrl
	}
	return c.BaseUrl.ResolveReference(ref)
}

// SubjectListUrl is the url the portal redirects to after a processed submission.
func (c *Client) SubjectListUrl() *url.URL {
	return c.endpoint(path_subject_list)
}

func sameEndpoint(a, b *url.URL) bool {
	return a.Host == b.Host && a.Path == b.Path
}

// IsSubjectList reports if `u` points at the subject list, query args are ignored.
func (c *Client) IsSubjectList(u *url.URL) bool {
	return sameEndpoint(u, c.endpoint(path_subject_list))
}

// IsAcknowledged reports if `u` is the intermediate page shown when a
// submission was received but not processed.
func (c *Client) IsAcknowledged(u *url.URL) bool {
	return sameEndpoint(u, c.endpoint(path_acknowledged)) &&
		u.Query().Get("method") == query_acknowledged
}

func (c *Client) RelevantZones() []string {
	return c.relevantZones
}

// Get fetches a page, `link` can be absolute or relative to the base url.
func (c *Client) Get(ctx context.Context, link string) (Page, error) {
	return c.do(ctx, http.MethodGet, link, nil)
}

// Post submits `form` url-encoded, a nil form posts an empty body.
func (c *Client) Post(ctx context.Context, link string, form map[string]string) (Page, error) {
	if form == nil {
		form = map[string]string{}
	}
	return c.do(ctx, http.MethodPost, link, form)
}

func (c *Client) do(ctx context.Context, method, link string, form map[string]string) (Page, error) {
	req := c.Http.R().SetContext(ctx)
	if form != nil {
		req.SetFormData(form)
	}

	res, err := req.Execute(method, link)
	if err != nil {
		terr := &TransportError{Method: method, Url: link, Err: err}
		c.tel.ReportBroken(report_client_fetch, terr)
		return Page{}, terr
	}
	if !res.IsSuccess() {
		terr := &TransportError{Method: method, Url: link, Status: res.StatusCode()}
		c.tel.ReportWarning(report_client_fetch, terr)
		return Page{Status: res.StatusCode()}, terr
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("parse: %w", err), link)
		return Page{}, err
	}

	finalUrl := c.endpoint(link)
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL
	}

	return Page{
		Url:    finalUrl,
		Status: res.StatusCode(),
		Doc:    doc,
	}, nil
}
