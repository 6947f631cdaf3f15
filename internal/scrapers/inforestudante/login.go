package inforestudante

import (
	"context"
	"fmt"
	"net/url"
	"turmasniper/pkg/htmlutil"
)

const (
	report_client_login = "client.login"
)

// Login performs the two step login handshake and leaves the session cookie
// in the client's jar. It does not retry, callers decide whether to.
func (c *Client) Login(ctx context.Context) error {
	loginError := func(err error) error {
		return fmt.Errorf("inforestudante: login: %w", err)
	}

	page, err := c.Get(ctx, path_login)
	if err != nil {
		c.tel.ReportBroken(
			report_client_login,
			fmt.Errorf("login page request: %w", err),
		)
		return loginError(err)
	}

	if len(c.Http.GetClient().Jar.Cookies(page.Url)) == 0 {
		c.tel.ReportWarning(
			report_client_login,
			fmt.Errorf("login page did not set a session cookie"),
			page.Url.String(),
		)
	}

	form := page.Doc.Find("#loginFormBean").First()
	if form.Length() == 0 {
		err := fmt.Errorf("%w: #loginFormBean", ErrFormNotFound)
		c.tel.ReportBroken(report_client_login, err, page.Url.String())
		return loginError(err)
	}
	action := page.Url
	if href, ok := form.Attr("action"); ok {
		action, err = htmlutil.ResolveLink(page.Url, href)
		if err != nil {
			c.tel.ReportBroken(
				report_client_login,
				fmt.Errorf("parse login action: %w", err),
				href,
			)
			return loginError(err)
		}
	}

	c.tel.ReportDebug(report_client_login, c.credentials.Username, action.String())

	page, err = c.Post(ctx, action.String(), map[string]string{
		"username": c.credentials.Username,
		"password": c.credentials.Password,
	})
	if err != nil {
		c.tel.ReportBroken(
			report_client_login,
			fmt.Errorf("login request: %w", err),
		)
		return loginError(err)
	}

	err = checkLoginResponse(page)
	if err != nil {
		c.tel.ReportWarning(report_client_login, err, c.credentials.Username)
		return loginError(err)
	}
	c.tel.ReportDebug(report_client_login, "logged in", c.credentials.Username, c.SessionCookies())
	return nil
}

func checkLoginResponse(page Page) error {
	errorsDiv := page.Doc.Find("#div_erros_preenchimento_formulario")
	if errorsDiv.Length() == 0 {
		return nil
	}
	reason := htmlutil.CleanText(errorsDiv.Find("li").First())
	if reason == "" {
		reason = htmlutil.CleanText(errorsDiv)
	}
	return &AuthFailure{Reason: reason}
}

// SessionCookies returns the cookies the client currently holds for the portal.
func (c *Client) SessionCookies() []string {
	var out []string
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return nil
	}
	for _, cookie := range jar.Cookies(&url.URL{Scheme: c.BaseUrl.Scheme, Host: c.BaseUrl.Host, Path: "/"}) {
		out = append(out, cookie.Name)
	}
	return out
}
