package completion

import (
	"context"
	"fmt"
	"log/slog"

	"paperfeed/internal/domain"
	"paperfeed/internal/infrastructure/fetch"
	"paperfeed/internal/ports"
)

// coord addresses one record inside the two-dimensional feed layout.
type coord struct {
	feed  int
	paper int
}

// group collects the records of one publisher domain together with their flat
// positions in the concatenated record sequence.
type group struct {
	domain   string
	strategy Strategy
	papers   []*domain.Paper
	flat     []int
	batch    Batch
}

// Completor orchestrates strategies across all records of all feeds: group by
// publisher, build batched requests, fan them through the fetcher, regroup the
// responses, extract field data and merge it back into the originating
// records.
type Completor struct {
	registry *Registry
	fetcher  ports.ContentFetcher
	resolver ports.MatchResolver
	logger   *slog.Logger
}

// NewCompletor wires the strategy registry, the completion-capped fetcher and
// the injected match resolver.
func NewCompletor(registry *Registry, fetcher ports.ContentFetcher, resolver ports.MatchResolver, logger *slog.Logger) *Completor {
	return &Completor{
		registry: registry,
		fetcher:  fetcher,
		resolver: resolver,
		logger:   logger,
	}
}

// Complete enriches every record of every feed in place. Records whose domain
// has no registered strategy pass through untouched. A publisher rejection
// without force mode, or an aborted match resolution, terminates the whole
// pass with an error before anything else is merged.
func (c *Completor) Complete(ctx context.Context, paperLists [][]*domain.Paper) error {
	flatToCoord, groups := c.groupByDomain(paperLists)
	if len(groups) == 0 {
		c.debug("no records with a registered strategy, nothing to complete")
		return nil
	}

	requests, boundaries, err := c.buildRequests(groups)
	if err != nil {
		return err
	}

	c.debug("requesting publisher content", "requests", len(requests), "publishers", len(groups))
	results := c.fetcher.FetchAll(ctx, requests)

	for i, grp := range groups {
		// exact inverse of the concatenation in buildRequests
		grpResults := results[boundaries[i]:boundaries[i+1]]

		fieldData, err := c.extractGroup(grp, grpResults)
		if err != nil {
			return err
		}

		if err := c.mergeGroup(paperLists, flatToCoord, grp, fieldData); err != nil {
			return err
		}
	}

	return nil
}

// groupByDomain flattens all records across all feeds into one ordered
// sequence and partitions it by publisher domain in first-seen order,
// remembering the flat position of every record.
func (c *Completor) groupByDomain(paperLists [][]*domain.Paper) ([]coord, []*group) {
	var flatToCoord []coord
	var groups []*group
	byDomain := map[string]*group{}

	flat := 0
	for feedIdx, papers := range paperLists {
		for paperIdx, paper := range papers {
			flatToCoord = append(flatToCoord, coord{feed: feedIdx, paper: paperIdx})

			strategy, ok := c.registry.Resolve(paper.SourceDomain)
			if !ok {
				flat++
				continue
			}

			grp, exists := byDomain[paper.SourceDomain]
			if !exists {
				grp = &group{domain: paper.SourceDomain, strategy: strategy}
				byDomain[paper.SourceDomain] = grp
				groups = append(groups, grp)
			}
			grp.papers = append(grp.papers, paper)
			grp.flat = append(grp.flat, flat)
			flat++
		}
	}

	return flatToCoord, groups
}

// buildRequests asks each group's strategy for its batch and concatenates all
// batches into one global request list, recording the group boundaries so the
// flat response list can be regrouped afterwards. boundaries has one more
// entry than groups; group i owns responses [boundaries[i], boundaries[i+1]).
func (c *Completor) buildRequests(groups []*group) ([]fetch.Request, []int, error) {
	var requests []fetch.Request
	boundaries := make([]int, 0, len(groups)+1)
	boundaries = append(boundaries, 0)

	for _, grp := range groups {
		batch, err := grp.strategy.BuildRequests(grp.papers)
		if err != nil {
			return nil, nil, fmt.Errorf("build requests for %s: %w", grp.domain, err)
		}
		if got, want := batch.Papers(), len(grp.papers); got != want {
			return nil, nil, fmt.Errorf("strategy for %s covers %d records in its batch, expected %d", grp.domain, got, want)
		}
		grp.batch = batch
		requests = append(requests, batch.Requests()...)
		boundaries = append(boundaries, len(requests))
	}

	return requests, boundaries, nil
}

// extractGroup turns the raw responses of one publisher group back into one
// field-data record per input record. Unavailable responses are padded with
// empty placeholders so the 1:1 correspondence with the record list survives.
func (c *Completor) extractGroup(grp *group, results []fetch.Result) ([]domain.FieldData, error) {
	fieldData := make([]domain.FieldData, 0, len(grp.papers))

	for i, result := range results {
		req := grp.batch[i]
		if result.Unavailable() {
			c.warn("publisher response unavailable", "domain", grp.domain, "url", req.URL, "error", result.Err)
			fieldData = append(fieldData, make([]domain.FieldData, req.Papers)...)
			continue
		}

		chunk, err := grp.strategy.Extract(result.Body, req.Identifiers)
		if err != nil {
			return nil, fmt.Errorf("extract %s response: %w", grp.domain, err)
		}
		if len(chunk) != req.Papers {
			return nil, fmt.Errorf("%s response yielded %d records, request covered %d", grp.domain, len(chunk), req.Papers)
		}
		fieldData = append(fieldData, chunk...)
	}

	if len(fieldData) != len(grp.papers) {
		return nil, fmt.Errorf("%s extraction yielded %d records for %d inputs", grp.domain, len(fieldData), len(grp.papers))
	}
	return fieldData, nil
}

// mergeGroup re-expands a group's field data to the original (feed, record)
// coordinates and merges it in place. Empty field data means "not
// retrievable" and leaves the record unchanged.
func (c *Completor) mergeGroup(paperLists [][]*domain.Paper, flatToCoord []coord, grp *group, fieldData []domain.FieldData) error {
	for i, data := range fieldData {
		if data.Empty() {
			continue
		}

		pos := flatToCoord[grp.flat[i]]
		paper := paperLists[pos.feed][pos.paper]

		ok, err := c.validateMatch(paper, data)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		paper.Apply(data)
	}
	return nil
}

func (c *Completor) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Completor) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
