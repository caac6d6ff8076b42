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
	ieeeAPIURL = "https://ieeexploreapi.ieee.org/api/v1/search/articles"
	ieeeWebURL = "https://ieeexplore.ieee.org/document"
	// fixed cap of the search API
	ieeeMaxRecords = 200
)

var (
	digitRuns = regexp.MustCompile(`\d+`)
	styleTags = regexp.MustCompile(`<[^>]+>`)
)

// IEEEStrategy serves ieee.org records. The search API accepts many article
// numbers per call but returns them unordered, so each request carries its
// article-number list for re-association.
type IEEEStrategy struct {
	apiURL    string
	webURL    string
	apiKey    string
	useAPI    bool
	chunkSize int
	header    map[string]string
	force     bool
}

var _ completion.Strategy = (*IEEEStrategy)(nil)

// NewIEEEStrategy builds the ieee.org strategy. An absent key selects the
// scrape transport; a present but invalid key is a configuration error.
func NewIEEEStrategy(ctx context.Context, deps Deps) (*IEEEStrategy, error) {
	strategy := &IEEEStrategy{
		apiURL:    ieeeAPIURL,
		webURL:    ieeeWebURL,
		apiKey:    deps.key("ieee_api_key"),
		chunkSize: ieeeMaxRecords,
		header:    deps.Header,
		force:     deps.Force,
	}

	if strategy.apiKey != "" {
		valid, err := validateKey(ctx, deps.Prober, fmt.Sprintf("%s?apikey=%s", strategy.apiURL, strategy.apiKey), "ieee")
		if err != nil {
			return nil, err
		}
		strategy.useAPI = valid
	}
	return strategy, nil
}

// BuildRequests groups article numbers into chunked boolean queries when the
// API is available; otherwise it requests each document page individually.
func (s *IEEEStrategy) BuildRequests(papers []*domain.Paper) (completion.Batch, error) {
	numbers := make([]string, len(papers))
	for i, paper := range papers {
		number, err := articleNumberFromURL(paper.URL)
		if err != nil {
			return nil, err
		}
		numbers[i] = number
	}

	if !s.useAPI {
		batch := make(completion.Batch, len(papers))
		for i, number := range numbers {
			batch[i] = completion.BatchRequest{
				URL:    fmt.Sprintf("%s/%s", s.webURL, number),
				Header: s.header,
				Papers: 1,
			}
		}
		return batch, nil
	}

	var batch completion.Batch
	for _, chunk := range chunked(numbers, s.chunkSize) {
		query := url.Values{}
		query.Set("apikey", s.apiKey)
		query.Set("article_number", strings.Join(chunk, " OR "))
		query.Set("max_records", strconv.Itoa(s.chunkSize))
		batch = append(batch, completion.BatchRequest{
			URL:         fmt.Sprintf("%s?%s", s.apiURL, query.Encode()),
			Identifiers: chunk,
			Papers:      len(chunk),
		})
	}
	return batch, nil
}

// articleNumberFromURL extracts the last digit run of the document URL.
func articleNumberFromURL(articleURL string) (string, error) {
	runs := digitRuns.FindAllString(articleURL, -1)
	if len(runs) == 0 {
		return "", fmt.Errorf("no article number in url %s", articleURL)
	}
	return runs[len(runs)-1], nil
}

type ieeeResponse struct {
	Articles []ieeeArticle `json:"articles"`
}

type ieeeArticle struct {
	Number string `json:"article_number"`
	Title  string `json:"title"`
	// old publications sometimes carry no abstract
	Abstract string `json:"abstract"`
	Authors  struct {
		Authors []struct {
			FullName string `json:"full_name"`
		} `json:"authors"`
	} `json:"authors"`
}

// Extract re-sorts the unordered API articles into identifier order and pads
// missing article numbers with placeholders; scrape responses are single
// document pages.
func (s *IEEEStrategy) Extract(body string, identifiers []string) ([]domain.FieldData, error) {
	if !s.useAPI {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse ieee page: %w", err)
		}
		return s.pageExtract(doc)
	}

	var response ieeeResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return nil, fmt.Errorf("decode ieee response: %w", err)
	}

	byNumber := make(map[string]ieeeArticle, len(response.Articles))
	for _, article := range response.Articles {
		byNumber[article.Number] = article
	}

	fieldData := make([]domain.FieldData, len(identifiers))
	for i, number := range identifiers {
		article, ok := byNumber[number]
		if !ok {
			continue
		}
		authors := make([]string, len(article.Authors.Authors))
		for j, author := range article.Authors.Authors {
			authors[j] = normalizeSpace(author.FullName)
		}
		fieldData[i] = domain.FieldData{
			Title:    normalizeSpace(article.Title),
			Abstract: normalizeSpace(article.Abstract),
			Authors:  authors,
		}
	}
	return fieldData, nil
}

// pageExtract reads the document metadata from an IEEE Xplore page. A
// "Request Rejected" page title is the rate-limit sentinel.
func (s *IEEEStrategy) pageExtract(doc *goquery.Document) ([]domain.FieldData, error) {
	if strings.TrimSpace(doc.Find("title").First().Text()) == "Request Rejected" {
		if s.force {
			return []domain.FieldData{{}}, nil
		}
		return nil, fmt.Errorf("%w: ieee blocked the page request; "+
			"lower the completion request limit if this keeps happening", ErrRejected)
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	title = styleTags.ReplaceAllString(title, "")
	abstract, _ := doc.Find(`meta[property="og:description"]`).Attr("content")

	var authors []string
	if raw, ok := doc.Find(`meta[name="parsely-author"]`).Attr("content"); ok {
		for _, name := range strings.Split(raw, ";") {
			authors = append(authors, normalizeSpace(name))
		}
	}

	return []domain.FieldData{{
		Title:    normalizeSpace(title),
		Abstract: normalizeSpace(abstract),
		Authors:  authors,
	}}, nil
}
