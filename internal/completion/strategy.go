package completion

import (
	"paperfeed/internal/domain"
	"paperfeed/internal/infrastructure/fetch"
)

// BatchRequest is one request descriptor produced by a strategy for a chunk of
// records. Identifiers carries the natural keys needed to re-associate an
// unordered multi-record response with its input records; it is nil when the
// upstream API preserves request order. Papers is the number of records the
// request covers, so an unavailable response can be padded with the right
// number of placeholders.
type BatchRequest struct {
	URL         string
	Header      map[string]string
	Identifiers []string
	Papers      int
}

// Batch is the ordered list of request descriptors for one publisher group.
type Batch []BatchRequest

// Requests converts the batch to fetcher input.
func (b Batch) Requests() []fetch.Request {
	requests := make([]fetch.Request, len(b))
	for i, req := range b {
		requests[i] = fetch.Request{URL: req.URL, Header: req.Header}
	}
	return requests
}

// Papers returns the total number of records covered by the batch.
func (b Batch) Papers() int {
	total := 0
	for _, req := range b {
		total += req.Papers
	}
	return total
}

// Strategy captures the per-publisher rules for turning incomplete records
// into batched requests and turning fetched response bodies back into ordered
// field data. One Extract call yields exactly one FieldData per record covered
// by the request, in identifier order.
type Strategy interface {
	BuildRequests(papers []*domain.Paper) (Batch, error)
	Extract(body string, identifiers []string) ([]domain.FieldData, error)
}

// Registry keeps the mapping from publisher domains to their strategies.
// Domains without a registered strategy pass through completion unchanged.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register adds or replaces the strategy for a publisher domain.
func (r *Registry) Register(domainKey string, strategy Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[domainKey] = strategy
}

// Resolve returns the strategy for a domain, or false when none is registered.
func (r *Registry) Resolve(domainKey string) (Strategy, bool) {
	strategy, ok := r.strategies[domainKey]
	return strategy, ok
}
