// Package export writes final record lists to flat files. The Atom exporter
// produces the same entry shape the feed loader reads back, closing the
// incremental-append loop.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"paperfeed/internal/domain"
	"paperfeed/internal/ports"
)

// Format names accepted by New.
const (
	FormatAtom = "atom"
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// New selects an exporter by format name; the extension is appended to the
// target when missing.
func New(format, target string) (ports.Exporter, error) {
	switch strings.ToLower(format) {
	case FormatAtom:
		return NewAtom(target), nil
	case FormatCSV:
		return NewCSV(target), nil
	case FormatJSON:
		return NewJSON(target), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Atom writes an Atom feed document with a fixed XML declaration and
// namespace.
type Atom struct {
	target string
}

var _ ports.Exporter = (*Atom)(nil)

// NewAtom wires an Atom exporter for the target path.
func NewAtom(target string) *Atom {
	return &Atom{target: withExtension(target, ".xml")}
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// Export renders every record as one entry element and writes the document.
func (a *Atom) Export(papers []*domain.Paper) error {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom">` + "\n")
	for _, paper := range papers {
		writeEntry(&b, paper)
	}
	b.WriteString("</feed>\n")

	if err := os.WriteFile(a.target, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write atom feed %s: %w", a.target, err)
	}
	return nil
}

func writeEntry(b *strings.Builder, paper *domain.Paper) {
	escapedURL := xmlEscaper.Replace(paper.URL)

	b.WriteString("<entry>")
	fmt.Fprintf(b, "<id>%s</id>", escapedURL)
	fmt.Fprintf(b, "<title>%s</title>", xmlEscaper.Replace(paper.Title))
	fmt.Fprintf(b, "<summary>%s</summary>", xmlEscaper.Replace(strings.TrimSpace(paper.Abstract)))
	for _, author := range paper.Authors {
		fmt.Fprintf(b, "<author><name>%s</name></author>", xmlEscaper.Replace(author))
	}
	fmt.Fprintf(b, `<link href="%s" rel="alternate" type="text/html"/>`, escapedURL)
	fmt.Fprintf(b, `<link title="pdf" href="%s" rel="related" type="application/pdf"/>`, escapedURL)
	b.WriteString("</entry>\n")
}

// CSV writes one row per record with the exported field columns.
type CSV struct {
	target string
}

var _ ports.Exporter = (*CSV)(nil)

// NewCSV wires a CSV exporter for the target path.
func NewCSV(target string) *CSV {
	return &CSV{target: withExtension(target, ".csv")}
}

// Export writes a header row followed by all records.
func (c *CSV) Export(papers []*domain.Paper) error {
	file, err := os.Create(c.target)
	if err != nil {
		return fmt.Errorf("create csv file %s: %w", c.target, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"title", "authors", "abstract", "url"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, paper := range papers {
		row := []string{paper.Title, strings.Join(paper.Authors, "; "), paper.Abstract, paper.URL}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", paper.URL, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv file %s: %w", c.target, err)
	}
	return nil
}

// JSON writes the record list as an indented JSON array.
type JSON struct {
	target string
}

var _ ports.Exporter = (*JSON)(nil)

// NewJSON wires a JSON exporter for the target path.
func NewJSON(target string) *JSON {
	return &JSON{target: withExtension(target, ".json")}
}

type jsonPaper struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Abstract string   `json:"abstract"`
	URL      string   `json:"url"`
}

// Export marshals all records and writes the file.
func (j *JSON) Export(papers []*domain.Paper) error {
	records := make([]jsonPaper, len(papers))
	for i, paper := range papers {
		records[i] = jsonPaper{
			Title:    paper.Title,
			Authors:  paper.Authors,
			Abstract: paper.Abstract,
			URL:      paper.URL,
		}
	}

	raw, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if err := os.WriteFile(j.target, raw, 0o644); err != nil {
		return fmt.Errorf("write json file %s: %w", j.target, err)
	}
	return nil
}

func withExtension(target, ext string) string {
	if strings.HasSuffix(target, ext) {
		return target
	}
	return target + ext
}
