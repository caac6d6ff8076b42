package handler

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"paperfeed/internal/completion"
	"paperfeed/internal/domain"
)

const (
	arxivAPIURL = "https://export.arxiv.org/api/query"
	// good trade-off between response size and request count
	arxivMaxRequestSize = 100
)

// ArxivStrategy completes records via the arXiv export API. The API accepts
// many ids per call and preserves request order, so no identifiers are needed
// for re-association.
type ArxivStrategy struct {
	apiURL    string
	chunkSize int
}

var _ completion.Strategy = (*ArxivStrategy)(nil)

// NewArxivStrategy builds the strategy; arXiv needs no credential.
func NewArxivStrategy() *ArxivStrategy {
	return &ArxivStrategy{apiURL: arxivAPIURL, chunkSize: arxivMaxRequestSize}
}

// BuildRequests groups the arXiv ids of all records into chunked id_list
// queries, one request per chunk.
func (s *ArxivStrategy) BuildRequests(papers []*domain.Paper) (completion.Batch, error) {
	ids := make([]string, len(papers))
	for i, paper := range papers {
		segments := strings.Split(paper.URL, "/")
		ids[i] = segments[len(segments)-1]
	}

	var batch completion.Batch
	for _, chunk := range chunked(ids, s.chunkSize) {
		query := url.Values{}
		query.Set("id_list", strings.Join(chunk, ","))
		query.Set("max_results", strconv.Itoa(s.chunkSize))
		batch = append(batch, completion.BatchRequest{
			URL:    fmt.Sprintf("%s?%s", s.apiURL, query.Encode()),
			Papers: len(chunk),
		})
	}
	return batch, nil
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Authors []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// Extract decodes the Atom response; entries arrive in request order.
func (s *ArxivStrategy) Extract(body string, _ []string) ([]domain.FieldData, error) {
	var feed arxivFeed
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, fmt.Errorf("decode arxiv response: %w", err)
	}

	fieldData := make([]domain.FieldData, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		authors := make([]string, len(entry.Authors))
		for i, author := range entry.Authors {
			authors[i] = normalizeSpace(author.Name)
		}
		fieldData = append(fieldData, domain.FieldData{
			Title:    normalizeSpace(entry.Title),
			Abstract: normalizeSpace(entry.Summary),
			Authors:  authors,
		})
	}
	return fieldData, nil
}
