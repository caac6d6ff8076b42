package feed

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"paperfeed/internal/domain"
	"paperfeed/internal/ports"
)

// Selectors for the alert HTML embedded in each feed entry: one anchor per
// bundled paper, one green author line per anchor.
const (
	titleLinkSelector = "a.gse_alrt_title"
	authorSelector    = `div[style="color:#006621;line-height:18px"]`
)

// Settings describes one source/target feed pairing.
type Settings struct {
	Source    string
	Target    string
	Online    bool
	Appending bool
}

// Feed owns the records of a single notification feed: the records already
// present in the target file and the newly parsed incomplete ones awaiting
// content completion.
type Feed struct {
	Settings

	Existing   []*domain.Paper
	Incomplete []*domain.Paper

	logger *slog.Logger
}

// New parses a raw feed document. In appending mode the target file is
// reloaded first so links already confirmed in an earlier run never become
// incomplete records again.
func New(settings Settings, raw string, logger *slog.Logger) (*Feed, error) {
	f := &Feed{Settings: settings, logger: logger}

	if settings.Appending {
		existing, err := loadExisting(settings.Target)
		if err != nil {
			return nil, err
		}
		f.Existing = existing
	}

	incomplete, err := f.parse(raw)
	if err != nil {
		return nil, err
	}
	f.Incomplete = incomplete

	return f, nil
}

// Papers returns all records of the feed in insertion order, existing first.
func (f *Feed) Papers() []*domain.Paper {
	papers := make([]*domain.Paper, 0, len(f.Existing)+len(f.Incomplete))
	papers = append(papers, f.Existing...)
	papers = append(papers, f.Incomplete...)
	return papers
}

// IDs returns the identities of all records, existing and incomplete.
func (f *Feed) IDs() []string {
	papers := f.Papers()
	ids := make([]string, len(papers))
	for i, paper := range papers {
		ids[i] = paper.ID()
	}
	return ids
}

// parse extracts the bundled papers of every feed entry. Each entry's content
// is embedded alert HTML listing one or more paper links with a parallel list
// of author lines.
func (f *Feed) parse(raw string) ([]*domain.Paper, error) {
	parsed, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.Source, err)
	}

	existingURLs := make(map[string]bool, len(f.Existing))
	for _, paper := range f.Existing {
		existingURLs[paper.URL] = true
	}

	var papers []*domain.Paper
	for _, item := range parsed.Items {
		bundle, err := parseEntryContent(item.Content)
		if err != nil {
			return nil, fmt.Errorf("parse entry content of %s: %w", f.Source, err)
		}

		for _, entry := range bundle {
			if existingURLs[entry.URL] {
				continue
			}
			papers = append(papers, entry)
		}
	}

	f.debug("parsed feed", "source", f.Source, "existing", len(f.Existing), "new", len(papers))
	return papers, nil
}

// parseEntryContent pulls the bundled papers out of one entry's embedded HTML.
func parseEntryContent(content string) ([]*domain.Paper, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	links := doc.Find(titleLinkSelector)
	authorLines := doc.Find(authorSelector)

	var papers []*domain.Paper
	links.Each(func(i int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		resolved := resolveLink(href)

		papers = append(papers, &domain.Paper{
			Title:        strings.TrimSpace(link.Text()),
			Authors:      parseAuthors(authorLines.Eq(i).Text()),
			URL:          resolved,
			SourceDomain: publisherDomain(resolved),
		})
	})
	return papers, nil
}

// parseAuthors splits an author line like "A Author, B Author - Venue, 2024"
// into trimmed author names.
func parseAuthors(line string) []string {
	names, _, _ := strings.Cut(line, "-")

	var authors []string
	for _, name := range strings.Split(names, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			authors = append(authors, trimmed)
		}
	}
	return authors
}

// resolveLink unwraps the notification redirect, which carries the real
// article location in its url query parameter; plain links pass through.
func resolveLink(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := parsed.Query().Get("url"); target != "" {
		return target
	}
	return raw
}

// publisherDomain reduces the link host to its last two labels, the key the
// strategy registry is indexed by.
func publisherDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	labels := strings.Split(parsed.Hostname(), ".")
	if len(labels) < 2 {
		return parsed.Hostname()
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// loadExisting reloads a previously written target feed into fully populated
// records. A target that does not exist yet simply yields none.
func loadExisting(path string) ([]*domain.Paper, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read target feed %s: %w", path, err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse target feed %s: %w", path, err)
	}

	papers := make([]*domain.Paper, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		authors := make([]string, 0, len(item.Authors))
		for _, author := range item.Authors {
			authors = append(authors, author.Name)
		}
		papers = append(papers, &domain.Paper{
			Title:    item.Title,
			Authors:  authors,
			Abstract: strings.TrimSpace(item.Description),
			URL:      item.GUID,
		})
	}
	return papers, nil
}

// DropSeen walks the incomplete records against a shared seen map: a record
// whose identity was already kept earlier (in this feed or, with a shared
// map, in an earlier feed of the pass) is dropped; the first occurrence is
// kept and marked. The updated map is returned for the next feed to consume.
// A nil map starts a fresh within-feed pass over this feed's own identities.
func (f *Feed) DropSeen(status map[string]bool) map[string]bool {
	if status == nil {
		status = make(map[string]bool, len(f.Existing)+len(f.Incomplete))
		for _, id := range f.IDs() {
			status[id] = false
		}
	}

	kept := f.Incomplete[:0]
	for _, paper := range f.Incomplete {
		if status[paper.ID()] {
			f.debug("dropped duplicate record", "url", paper.URL, "feed", f.Source)
			continue
		}
		status[paper.ID()] = true
		kept = append(kept, paper)
	}
	f.Incomplete = kept

	return status
}

// Save writes all records of the feed through the given exporter.
func (f *Feed) Save(exporter ports.Exporter) error {
	if err := exporter.Export(f.Papers()); err != nil {
		return fmt.Errorf("save feed %s: %w", f.Target, err)
	}
	return nil
}

func (f *Feed) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
