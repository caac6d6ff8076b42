package ports

import (
	"context"

	"paperfeed/internal/domain"
	"paperfeed/internal/infrastructure/fetch"
)

// ContentFetcher runs a batch of requests and returns one result per request
// in input order.
type ContentFetcher interface {
	FetchAll(ctx context.Context, requests []fetch.Request) []fetch.Result
}

// Exporter writes a final record list to a target file in one concrete format.
type Exporter interface {
	Export(papers []*domain.Paper) error
}

// Decision is the outcome of resolving an ambiguous title match.
type Decision int

const (
	// Accept merges the fetched data despite the mismatch.
	Accept Decision = iota
	// Reject skips the merge and keeps the pre-fetch record.
	Reject
	// Abort terminates the whole completion pass.
	Abort
)

// MatchResolver decides what to do when a fetched title does not match the
// record it was associated with. The CLI injects an interactive prompt; tests
// inject a fixed policy so they never depend on real input.
type MatchResolver interface {
	Resolve(existingTitle, fetchedTitle, url string) (Decision, error)
}

// ResolverFunc adapts a plain function to the MatchResolver interface.
type ResolverFunc func(existingTitle, fetchedTitle, url string) (Decision, error)

// Resolve implements MatchResolver.
func (f ResolverFunc) Resolve(existingTitle, fetchedTitle, url string) (Decision, error) {
	return f(existingTitle, fetchedTitle, url)
}
