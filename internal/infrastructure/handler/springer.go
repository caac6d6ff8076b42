package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"paperfeed/internal/completion"
	"paperfeed/internal/domain"
)

const (
	springerAPIURL = "https://api.springernature.com/meta/v2/json"
	// fixed cap of the free API tier
	springerMaxRecords = 25
	// any valid DOI works as a probe target
	springerProbeDOI = "10.1038/227680a0"
	// Nature articles all live under the same DOI prefix
	natureDOIPrefix = "10.1038"
)

// springerWebExtract pulls one record's fields out of a scraped article page;
// Springer and Nature pages carry different meta tags.
type springerWebExtract func(doc *goquery.Document) domain.FieldData

// SpringerStrategy serves springer.com and nature.com records through the
// shared Springer Nature metadata API. The API returns an unordered record
// collection keyed by DOI, so each request carries its DOI list and the
// response is re-sorted against it; DOIs missing from the response become
// empty placeholders at their original position.
type SpringerStrategy struct {
	apiURL     string
	apiKey     string
	useAPI     bool
	chunkSize  int
	doiPrefix  string
	header     map[string]string
	webExtract springerWebExtract
}

var _ completion.Strategy = (*SpringerStrategy)(nil)

// NewSpringerStrategy builds the springer.com strategy. An absent key selects
// the scrape transport; a present but invalid key is a configuration error.
func NewSpringerStrategy(ctx context.Context, deps Deps) (*SpringerStrategy, error) {
	return newSpringerStrategy(ctx, deps, springerAPIURL, "")
}

// NewNatureStrategy builds the nature.com strategy on the same API; only the
// DOI derivation and the scrape-page meta tags differ.
func NewNatureStrategy(ctx context.Context, deps Deps) (*SpringerStrategy, error) {
	strategy, err := newSpringerStrategy(ctx, deps, springerAPIURL, natureDOIPrefix)
	if err != nil {
		return nil, err
	}
	strategy.webExtract = natureWebExtract
	return strategy, nil
}

func newSpringerStrategy(ctx context.Context, deps Deps, apiURL, doiPrefix string) (*SpringerStrategy, error) {
	strategy := &SpringerStrategy{
		apiURL:     apiURL,
		apiKey:     deps.key("springer_api_key"),
		chunkSize:  springerMaxRecords,
		doiPrefix:  doiPrefix,
		header:     deps.Header,
		webExtract: springerPageExtract,
	}

	if strategy.apiKey != "" {
		query := url.Values{}
		query.Set("q", "doi:"+springerProbeDOI)
		query.Set("api_key", strategy.apiKey)
		valid, err := validateKey(ctx, deps.Prober, fmt.Sprintf("%s?%s", apiURL, query.Encode()), "springer/nature")
		if err != nil {
			return nil, err
		}
		strategy.useAPI = valid
	}
	return strategy, nil
}

// BuildRequests groups DOIs into chunked boolean queries when the API is
// available; otherwise it requests every article page individually.
func (s *SpringerStrategy) BuildRequests(papers []*domain.Paper) (completion.Batch, error) {
	if !s.useAPI {
		return scrapeBatch(papers, s.header), nil
	}

	dois := make([]string, len(papers))
	for i, paper := range papers {
		dois[i] = s.doiFromURL(paper.URL)
	}

	var batch completion.Batch
	for _, chunk := range chunked(dois, s.chunkSize) {
		terms := make([]string, len(chunk))
		for i, doi := range chunk {
			terms[i] = "doi:" + doi
		}
		query := url.Values{}
		query.Set("q", fmt.Sprintf("(%s)", strings.Join(terms, " OR ")))
		query.Set("api_key", s.apiKey)
		query.Set("p", strconv.Itoa(s.chunkSize))
		batch = append(batch, completion.BatchRequest{
			URL:         fmt.Sprintf("%s?%s", s.apiURL, query.Encode()),
			Identifiers: chunk,
			Papers:      len(chunk),
		})
	}
	return batch, nil
}

var pdfSuffix = regexp.MustCompile(`\.pdf$`)

// doiFromURL rebuilds the DOI from the last URL segments. Paging fragments
// and the ".pdf" suffix of free articles are not part of the DOI.
func (s *SpringerStrategy) doiFromURL(articleURL string) string {
	segments := strings.Split(articleURL, "/")
	suffix := segments[len(segments)-1]
	suffix, _, _ = strings.Cut(suffix, "#")
	suffix = pdfSuffix.ReplaceAllString(suffix, "")

	prefix := s.doiPrefix
	if prefix == "" && len(segments) >= 2 {
		prefix = segments[len(segments)-2]
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}

type springerResponse struct {
	Records []springerRecord `json:"records"`
}

type springerRecord struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	DOI      string `json:"doi"`
	Creators []struct {
		Creator string `json:"creator"`
	} `json:"creators"`
}

// Extract re-sorts the unordered API records into identifier order and pads
// missing DOIs with placeholders; scrape responses are single-article pages.
func (s *SpringerStrategy) Extract(body string, identifiers []string) ([]domain.FieldData, error) {
	if !s.useAPI {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse springer page: %w", err)
		}
		return []domain.FieldData{s.webExtract(doc)}, nil
	}

	var response springerResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return nil, fmt.Errorf("decode springer response: %w", err)
	}

	byDOI := make(map[string]springerRecord, len(response.Records))
	for _, record := range response.Records {
		byDOI[record.DOI] = record
	}

	fieldData := make([]domain.FieldData, len(identifiers))
	for i, doi := range identifiers {
		record, ok := byDOI[doi]
		if !ok {
			// keep the placeholder so positions stay aligned
			continue
		}
		authors := make([]string, len(record.Creators))
		for j, creator := range record.Creators {
			authors[j] = normalizeSpace(creator.Creator)
		}
		fieldData[i] = domain.FieldData{
			Title:    normalizeSpace(record.Title),
			Abstract: normalizeSpace(record.Abstract),
			Authors:  authors,
		}
	}
	return fieldData, nil
}

// springerPageExtract reads the article metadata from a Springer page. Book
// pages usually come from faulty redirect links and yield no data.
func springerPageExtract(doc *goquery.Document) domain.FieldData {
	pageURL, _ := doc.Find(`meta[property="og:url"]`).Attr("content")
	if strings.Contains(pageURL, "book") {
		return domain.FieldData{}
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	abstract, _ := doc.Find(`meta[property="og:description"]`).Attr("content")
	var authors []string
	doc.Find(`meta[name="citation_author"]`).Each(func(_ int, sel *goquery.Selection) {
		if name, ok := sel.Attr("content"); ok {
			authors = append(authors, name)
		}
	})

	return domain.FieldData{
		Title:    normalizeSpace(title),
		Abstract: normalizeSpace(abstract),
		Authors:  normalizeAll(authors),
	}
}

func natureWebExtract(doc *goquery.Document) domain.FieldData {
	title, _ := doc.Find(`meta[name="dc.title"]`).Attr("content")
	abstract, _ := doc.Find(`meta[name="description"]`).Attr("content")
	var authors []string
	doc.Find(`meta[name="citation_author"]`).Each(func(_ int, sel *goquery.Selection) {
		if name, ok := sel.Attr("content"); ok {
			authors = append(authors, name)
		}
	})

	return domain.FieldData{
		Title:    normalizeSpace(title),
		Abstract: normalizeSpace(abstract),
		Authors:  normalizeAll(authors),
	}
}

// scrapeBatch issues one page request per record; page order trivially
// matches record order so no identifiers are carried.
func scrapeBatch(papers []*domain.Paper, header map[string]string) completion.Batch {
	batch := make(completion.Batch, len(papers))
	for i, paper := range papers {
		batch[i] = completion.BatchRequest{URL: paper.URL, Header: header, Papers: 1}
	}
	return batch
}
