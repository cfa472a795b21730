// scraper/listing_table.go
package scraper

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/normalize"
)

// TableOptions describes one listing page layout.
type TableOptions struct {
	Source string
	// Selector picks the listing table. Defaults to the first table with a header row.
	Selector string
	// Columns maps header text (case-insensitive) to a field name. Unmapped headers go
	// through normalize.CanonicalName.
	Columns map[string]string
	// Defaults are set on every record unless the row has its own value, e.g.
	// {"foreclosure_status": "auction"} for a sheriff sale list.
	Defaults map[string]any
	// LinkField receives the absolute URL of the first link in a row.
	LinkField string
	// BaseURL resolves relative links and becomes each record's SourceURL.
	BaseURL string
	// ObservedAt overrides the page's own "as of" date.
	ObservedAt time.Time
}

var whitespace = regexp.MustCompile(`\s+`)

// cellText flattens a cell to one line of text; <br> separates words.
func cellText(s *goquery.Selection) string {
	s.Find("br").ReplaceWithHtml(" ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s.Text(), " "))
}

// ParseListingTable extracts one record per body row of an HTML listing table, typically a
// foreclosure auction or HUD listing page saved to disk.
func ParseListingTable(r io.Reader, opts TableOptions) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	table := doc.Find("table:has(th)").First()
	if opts.Selector != "" {
		table = doc.Find(opts.Selector).First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("listing table not found (selector %q)", opts.Selector)
	}

	var base *url.URL
	if opts.BaseURL != "" {
		base, err = url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
	}

	observedAt := opts.ObservedAt
	if observedAt.IsZero() {
		if asOf, ok := ListingAsOf(doc.Text()); ok {
			observedAt = asOf
		}
	}

	var header []string
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		ths := tr.Find("th")
		if ths.Length() == 0 {
			return true
		}
		ths.Each(func(_ int, th *goquery.Selection) {
			header = append(header, columnName(cellText(th), opts.Columns))
		})
		return false
	})
	if len(header) == 0 {
		return nil, fmt.Errorf("listing table has no header row")
	}

	var records []models.RawRecord
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		fields := make(map[string]any, len(header)+len(opts.Defaults))
		for k, v := range opts.Defaults {
			fields[k] = v
		}
		cells.Each(func(i int, td *goquery.Selection) {
			if i >= len(header) || header[i] == "" {
				return
			}
			if text := cellText(td); text != "" {
				fields[header[i]] = text
			}
		})
		if opts.LinkField != "" {
			if href, ok := tr.Find("a[href]").First().Attr("href"); ok {
				fields[opts.LinkField] = resolveLink(base, href)
			}
		}
		records = append(records, models.RawRecord{
			Source:     opts.Source,
			SourceURL:  opts.BaseURL,
			ObservedAt: observedAt,
			Fields:     fields,
		})
	})
	return records, nil
}

func columnName(text string, columns map[string]string) string {
	for k, v := range columns {
		if strings.EqualFold(strings.TrimSpace(k), text) {
			return v
		}
	}
	return normalize.CanonicalName(text)
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || base == nil {
		return strings.TrimSpace(href)
	}
	return base.ResolveReference(ref).String()
}
