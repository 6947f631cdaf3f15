package inforestudante

import (
	"context"
	"errors"
	"fmt"
	"turmasniper/pkg/htmlutil"
)

const (
	report_client_subject_list = "client.subject-list"
)

// getTwice retries a request once if it fails.
func (c *Client) getTwice(ctx context.Context, link string) (Page, error) {
	page, err := c.Get(ctx, link)
	if err == nil {
		return page, nil
	}
	if ctx.Err() != nil {
		return Page{}, err
	}
	c.tel.ReportWarning(report_client_subject_list, fmt.Errorf("retrying: %w", err), link)
	return c.Get(ctx, link)
}

func (c *Client) postTwice(ctx context.Context, link string) (Page, error) {
	page, err := c.Post(ctx, link, nil)
	if err == nil {
		return page, nil
	}
	if ctx.Err() != nil {
		return Page{}, err
	}
	c.tel.ReportWarning(report_client_subject_list, fmt.Errorf("retrying: %w", err), link)
	return c.Post(ctx, link, nil)
}

// Start logs in and then walks to the subject list. Bad credentials fail with
// an AuthFailure before any enrollment page is requested.
func (c *Client) Start(ctx context.Context) (Page, error) {
	err := c.Login(ctx)
	if err != nil {
		return Page{}, err
	}
	return c.SubjectList(ctx)
}

// SubjectList walks from the enrollment landing page to the list of subjects.
//
// If the portal does not accept the session (the landing page redirects
// elsewhere), the client logs in again once. A second rejection is an
// AuthFailure, any fetch failing twice is an ErrNavFailure.
func (c *Client) SubjectList(ctx context.Context) (Page, error) {
	navError := func(err error) error {
		if errors.Is(err, ErrAuthFailure) {
			return fmt.Errorf("inforestudante: subject list: %w", err)
		}
		return fmt.Errorf("inforestudante: subject list: %w: %w", ErrNavFailure, err)
	}

	landing, err := c.getTwice(ctx, path_landing)
	if err != nil {
		c.tel.ReportBroken(report_client_subject_list, err, path_landing)
		return Page{}, navError(err)
	}

	if !sameEndpoint(landing.Url, c.endpoint(path_landing)) {
		c.tel.ReportWarning(
			report_client_subject_list,
			fmt.Errorf("session not accepted, logging in again"),
			landing.Url.String(),
		)
		err = c.Login(ctx)
		if err != nil {
			return Page{}, navError(err)
		}
		landing, err = c.getTwice(ctx, path_landing)
		if err != nil {
			c.tel.ReportBroken(report_client_subject_list, err, path_landing)
			return Page{}, navError(err)
		}
		if !sameEndpoint(landing.Url, c.endpoint(path_landing)) {
			err := &AuthFailure{Reason: fmt.Sprintf("session rejected twice, landed on %s", landing.Url)}
			c.tel.ReportBroken(report_client_subject_list, err)
			return Page{}, navError(err)
		}
	}

	anchors := htmlutil.GetAnchors(landing.Url, landing.Doc.Find("#link_0 a").First())
	if len(anchors) == 0 {
		err := fmt.Errorf("could not find #link_0 on landing page")
		c.tel.ReportBroken(report_client_subject_list, err, landing.Url.String())
		return Page{}, navError(err)
	}
	link := anchors[0].Url

	list, err := c.postTwice(ctx, link.String())
	if err != nil {
		c.tel.ReportBroken(report_client_subject_list, err, link.String())
		return Page{}, navError(err)
	}
	return list, nil
}
