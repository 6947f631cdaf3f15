package inforestudante

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"turmasniper/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_client_subject_form = "client.subject-form"
)

// FallbackFieldName is the submit button of a form row whose section is
// closed for direct enrollment.
const FallbackFieldName = "inscrever"

var formIds = []string{"listaInscricoesFormBean", "inscreverFormBean"}

var irrelevantInputs = []string{
	"visibilidade",
	"org.apache.struts.taglib.html.CANCEL",
}

type FormField struct {
	Name  string
	Value string
}

// Option is one class section row of a zone.
type Option struct {
	// Label is the whitespace-collapsed text of the first cell.
	Label string
	// Capacity is the free text of the remaining seats cell, only for logging.
	Capacity string
	// Field is nil when the row has no input at all.
	Field *FormField
	// Fallback is true when Field is the FallbackFieldName trigger built from
	// the row's generic input instead of a section input.
	Fallback bool
}

// Zone is a titled group of options, ex. the practical classes of a subject.
type Zone struct {
	Title   string
	Options []Option
}

// Form is the enrollment form of a subject.
type Form struct {
	Id     string
	Action *url.URL
	Zones  []Zone
}

func optionFromRow(row *goquery.Selection) (Option, bool) {
	cells := row.Find("td")
	if cells.Length() == 0 {
		return Option{}, false
	}

	opt := Option{Label: htmlutil.CleanText(cells.First())}
	if cells.Length() >= 3 {
		opt.Capacity = htmlutil.CleanText(cells.Eq(cells.Length() - 3))
	}

	inputs := row.Find("input")
	inputs.EachWithBreak(func(_ int, input *goquery.Selection) bool {
		name, ok := input.Attr("name")
		if !ok || name == "" || slices.Contains(irrelevantInputs, name) {
			return true
		}
		opt.Field = &FormField{Name: name, Value: input.AttrOr("value", "")}
		return false
	})
	if opt.Field == nil && inputs.Length() > 0 {
		opt.Field = &FormField{
			Name:  FallbackFieldName,
			Value: inputs.First().AttrOr("value", ""),
		}
		opt.Fallback = true
	}

	return opt, true
}

// ExtractZone parses a single `.zone` container. Zones whose title is not in
// `relevant` fail with ErrIrrelevantZone, zones without a results table fail
// with a *ZoneTableError carrying the zone's text.
func ExtractZone(zone *goquery.Selection, relevant []string) (Zone, error) {
	title := htmlutil.CleanText(zone.Find(".subtitle").First())
	if !slices.Contains(relevant, title) {
		return Zone{Title: title}, fmt.Errorf("%w: %q", ErrIrrelevantZone, title)
	}

	table := zone.Find(".displaytable").First()
	if table.Length() == 0 {
		return Zone{Title: title}, &ZoneTableError{
			Title:  title,
			Notice: htmlutil.CleanText(zone.Find(".zonecontent")),
		}
	}

	result := Zone{Title: title}
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		opt, ok := optionFromRow(row)
		if ok {
			result.Options = append(result.Options, opt)
		}
	})
	return result, nil
}

// ExtractForm locates the enrollment form of a subject page and parses its
// relevant zones. `onSkip` is called for every zone that was left out and
// may be nil.
func ExtractForm(page Page, relevant []string, onSkip func(err error)) (Form, error) {
	var form *goquery.Selection
	var id string
	for _, candidate := range formIds {
		sel := page.Doc.Find("#" + candidate).First()
		if sel.Length() > 0 {
			form = sel
			id = candidate
			break
		}
	}
	if form == nil {
		return Form{}, fmt.Errorf("%w: tried %v", ErrFormNotFound, formIds)
	}

	result := Form{Id: id, Action: page.Url}
	if href, ok := form.Attr("action"); ok {
		action, err := htmlutil.ResolveLink(page.Url, href)
		if err != nil {
			return Form{}, fmt.Errorf("parse form action %q: %w", href, err)
		}
		result.Action = action
	}

	form.Find(".zone").Each(func(_ int, sel *goquery.Selection) {
		zone, err := ExtractZone(sel, relevant)
		if err != nil {
			if onSkip != nil {
				onSkip(err)
			}
			return
		}
		result.Zones = append(result.Zones, zone)
	})

	return result, nil
}

// SubjectForm fetches and parses the enrollment form of a subject.
func (c *Client) SubjectForm(ctx context.Context, subject Subject) (Form, error) {
	if subject.Url == nil {
		return Form{}, fmt.Errorf("subject %q has no url", subject.Name)
	}

	page, err := c.Get(ctx, subject.Url.String())
	if err != nil {
		return Form{}, fmt.Errorf("inforestudante: subject form: %w", err)
	}

	form, err := ExtractForm(page, c.relevantZones, func(err error) {
		var tableErr *ZoneTableError
		switch {
		case errors.As(err, &tableErr):
			c.tel.ReportWarning(report_client_subject_form, subject.Name, tableErr.Title, tableErr.Notice)
		default:
			c.tel.ReportDebug(report_client_subject_form, subject.Name, err)
		}
	})
	if err != nil {
		c.tel.ReportBroken(report_client_subject_form, err, subject.Name, page.Url.String())
		return Form{}, fmt.Errorf("inforestudante: subject form: %w", err)
	}

	for _, zone := range form.Zones {
		c.tel.ReportDebug(report_client_subject_form, subject.Name, zone.Title, len(zone.Options))
		for _, opt := range zone.Options {
			c.tel.ReportDebug(report_client_subject_form, opt.Label, opt.Capacity)
		}
	}

	return form, nil
}
