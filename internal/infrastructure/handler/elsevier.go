package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"paperfeed/internal/completion"
	"paperfeed/internal/domain"
)

const (
	elsevierAPIURL = "https://api.elsevier.com/content/article/pii"
	// any valid PII works as a probe target
	elsevierProbePII = "016926079501640F"
)

var piiPattern = regexp.MustCompile(`pii/(.*)`)

// ElsevierStrategy serves sciencedirect.com records. The article API takes
// one PII per call, so every request covers exactly one record and the
// response order is trivially preserved.
type ElsevierStrategy struct {
	apiURL string
	apiKey string
	useAPI bool
	header map[string]string
	force  bool
}

var _ completion.Strategy = (*ElsevierStrategy)(nil)

// NewElsevierStrategy builds the sciencedirect.com strategy. An absent key
// selects the scrape transport; a present but invalid key is a configuration
// error.
func NewElsevierStrategy(ctx context.Context, deps Deps) (*ElsevierStrategy, error) {
	strategy := &ElsevierStrategy{
		apiURL: elsevierAPIURL,
		apiKey: deps.key("elsevier_api_key"),
		header: deps.Header,
		force:  deps.Force,
	}

	if strategy.apiKey != "" {
		probeURL := fmt.Sprintf("%s/%s?apiKey=%s", strategy.apiURL, elsevierProbePII, strategy.apiKey)
		valid, err := validateKey(ctx, deps.Prober, probeURL, "elsevier")
		if err != nil {
			return nil, err
		}
		strategy.useAPI = valid
	}
	return strategy, nil
}

// BuildRequests issues one API request per PII, or one page request per
// record when scraping.
func (s *ElsevierStrategy) BuildRequests(papers []*domain.Paper) (completion.Batch, error) {
	if !s.useAPI {
		return scrapeBatch(papers, s.header), nil
	}

	batch := make(completion.Batch, len(papers))
	for i, paper := range papers {
		pii, err := piiFromURL(paper.URL)
		if err != nil {
			return nil, err
		}
		batch[i] = completion.BatchRequest{
			URL:    fmt.Sprintf("%s/%s?apiKey=%s", s.apiURL, pii, s.apiKey),
			Header: map[string]string{"Accept": "application/json"},
			Papers: 1,
		}
	}
	return batch, nil
}

func piiFromURL(articleURL string) (string, error) {
	match := piiPattern.FindStringSubmatch(articleURL)
	if match == nil {
		return "", fmt.Errorf("no pii in url %s", articleURL)
	}
	return match[1], nil
}

type elsevierResponse struct {
	ErrorResponse json.RawMessage `json:"error-response"`
	Retrieval     struct {
		CoreData struct {
			Title       string `json:"dc:title"`
			Description string `json:"dc:description"`
			Creators    []struct {
				Name string `json:"$"`
			} `json:"dc:creator"`
		} `json:"coredata"`
	} `json:"full-text-retrieval-response"`
}

// Extract decodes one article. An error-response member means the API
// rejected the request, usually after too many calls; that aborts the pass
// unless force mode turns it into a placeholder.
func (s *ElsevierStrategy) Extract(body string, _ []string) ([]domain.FieldData, error) {
	if !s.useAPI {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse sciencedirect page: %w", err)
		}
		return []domain.FieldData{elsevierPageExtract(doc)}, nil
	}

	var response elsevierResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return nil, fmt.Errorf("decode elsevier response: %w", err)
	}

	if len(response.ErrorResponse) > 0 {
		if s.force {
			return []domain.FieldData{{}}, nil
		}
		return nil, fmt.Errorf("%w: elsevier api refused the article request; "+
			"lower the completion request limit if this keeps happening", ErrRejected)
	}

	core := response.Retrieval.CoreData
	authors := make([]string, len(core.Creators))
	for i, creator := range core.Creators {
		authors[i] = normalizeSpace(creator.Name)
	}
	return []domain.FieldData{{
		Title:    normalizeSpace(core.Title),
		Abstract: normalizeSpace(core.Description),
		Authors:  authors,
	}}, nil
}

func elsevierPageExtract(doc *goquery.Document) domain.FieldData {
	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")

	var abstract string
	doc.Find("h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.TrimSpace(sel.Text()) == "Abstract" {
			abstract = sel.Next().Text()
			return false
		}
		return true
	})

	var authors []string
	names := doc.Find("span.given-name")
	surnames := doc.Find("span.text.surname")
	count := min(names.Length(), surnames.Length())
	for i := 0; i < count; i++ {
		authors = append(authors, fmt.Sprintf("%s %s", names.Eq(i).Text(), surnames.Eq(i).Text()))
	}

	return domain.FieldData{
		Title:    normalizeSpace(title),
		Abstract: normalizeSpace(abstract),
		Authors:  normalizeAll(authors),
	}
}
