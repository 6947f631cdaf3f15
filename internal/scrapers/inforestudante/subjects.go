package inforestudante

import (
	"fmt"
	"net/url"
	"strings"
	"turmasniper/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Subject is one row of the subject list. Fields are empty when their cell
// was missing, that is a legitimate value and not a parse failure.
type Subject struct {
	Number   string
	Name     string
	Semester string
	Href     string
	// Url is nil when the row had no detail link, such subjects are never
	// scraped or registered.
	Url *url.URL
}

func (s Subject) String() string {
	link := "<no url>"
	if s.Url != nil {
		link = s.Url.String()
	}
	return fmt.Sprintf("%s %s %s %s", s.Semester, s.Number, s.Name, link)
}

func subjectRows(doc *goquery.Document) (*goquery.Selection, error) {
	form := doc.Find("#listaInscricoesFormBean").First()
	if form.Length() == 0 {
		return nil, fmt.Errorf("%w: #listaInscricoesFormBean", ErrFormNotFound)
	}
	return form.Find(".displaytable tbody tr"), nil
}

func subjectName(cell *goquery.Selection) string {
	name := cell.Find("span").First()
	if name.Length() == 0 {
		name = cell
	}
	text := htmlutil.CleanText(name)
	before, _, _ := strings.Cut(text, "*")
	return strings.TrimSpace(before)
}

func subjectFromRow(base *url.URL, row *goquery.Selection) Subject {
	cells := row.ChildrenFiltered("td, th")

	s := Subject{
		Number:   htmlutil.CleanText(cells.Eq(0)),
		Name:     subjectName(cells.Eq(1)),
		Semester: htmlutil.CleanText(cells.Eq(2)),
	}
	href, ok := cells.Eq(6).Find("a").First().Attr("href")
	if !ok {
		return s
	}
	s.Href = href
	link, err := htmlutil.ResolveLink(base, href)
	if err == nil {
		s.Url = link
	}
	return s
}

// ExtractSubjects parses the subject list table, every row yields a Subject.
func ExtractSubjects(page Page) ([]Subject, error) {
	rows, err := subjectRows(page.Doc)
	if err != nil {
		return nil, err
	}
	subjects := make([]Subject, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		subjects = append(subjects, subjectFromRow(page.Url, row))
	})
	return subjects, nil
}

// SubjectRow is the current state of a subject on the subject list.
type SubjectRow struct {
	Cells []string
	Text  string
	// Link is the enrollment link of the row, nil if there is none.
	Link *url.URL
}

// FindSubjectRow finds the row of `subject` on the subject list. A row whose
// name is exactly the subject's wins, then a row with the same enrollment
// href, and only then the first row that merely mentions the name.
func FindSubjectRow(page Page, subject Subject) (SubjectRow, bool) {
	var row *goquery.Selection
	rows, err := subjectRows(page.Doc)
	if err == nil {
		rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			if subjectName(tr.ChildrenFiltered("td, th").Eq(1)) == subject.Name {
				row = tr
				return false
			}
			return true
		})
		if row == nil && subject.Href != "" {
			rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
				if href, ok := tr.Find("a").First().Attr("href"); ok && href == subject.Href {
					row = tr
					return false
				}
				return true
			})
		}
	}
	if row == nil {
		page.Doc.Find("td.contentLeft").EachWithBreak(func(_ int, td *goquery.Selection) bool {
			if strings.Contains(htmlutil.CleanText(td), subject.Name) {
				row = td.Parent()
				return false
			}
			return true
		})
	}
	if row == nil {
		return SubjectRow{}, false
	}

	result := SubjectRow{Text: htmlutil.CleanText(row)}
	row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		result.Cells = append(result.Cells, htmlutil.CleanText(cell))
	})
	anchors := htmlutil.GetAnchors(page.Url, row.Find("a"))
	if len(anchors) > 0 {
		result.Link = anchors[0].Url
	}
	return result, true
}
