package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"paperfeed/internal/domain"
	"paperfeed/internal/infrastructure/fetch"
	"paperfeed/internal/ports"
)

// Completor enriches the incomplete records of all feeds in place.
type Completor interface {
	Complete(ctx context.Context, paperLists [][]*domain.Paper) error
}

// ExporterFactory builds the exporter used to persist one feed target.
type ExporterFactory func(target string) ports.Exporter

// ListOptions wires a List.
type ListOptions struct {
	Feeds           []Settings
	DedupWithinFeed bool
	DedupAcrossFeed bool
	Fetcher         ports.ContentFetcher
	Completor       Completor
	Exporter        ExporterFactory
	Logger          *slog.Logger
}

// List coordinates all configured feeds: loading, duplicate suppression, one
// shared completion pass and persistence.
type List struct {
	settings    []Settings
	feeds       []*Feed
	dedupWithin bool
	dedupAcross bool
	fetcher     ports.ContentFetcher
	completor   Completor
	exporter    ExporterFactory
	logger      *slog.Logger
}

// NewList validates the dedup mode and prepares an empty list; Load fills it.
func NewList(opts ListOptions) *List {
	l := &List{
		dedupWithin: opts.DedupWithinFeed,
		dedupAcross: opts.DedupAcrossFeed,
		fetcher:     opts.Fetcher,
		completor:   opts.Completor,
		exporter:    opts.Exporter,
		logger:      opts.Logger,
		settings:    opts.Feeds,
	}
	if l.dedupWithin && l.dedupAcross {
		l.warn("duplicate removal within and across feeds requested, keeping across-feeds removal")
		l.dedupWithin = false
	}
	return l
}

// Load fetches every online feed document through the sync-capped fetcher,
// reads the offline ones from disk, and parses all of them in configured
// order. A feed whose document cannot be obtained aborts the run.
func (l *List) Load(ctx context.Context) error {
	contents := make([]string, len(l.settings))

	var requests []fetch.Request
	var online []int
	for i, settings := range l.settings {
		if !settings.Online {
			raw, err := os.ReadFile(settings.Source)
			if err != nil {
				return fmt.Errorf("read feed file %s: %w", settings.Source, err)
			}
			contents[i] = string(raw)
			continue
		}

		if err := validateFeedURL(settings.Source); err != nil {
			return err
		}
		requests = append(requests, fetch.Request{URL: settings.Source})
		online = append(online, i)
	}

	results := l.fetcher.FetchAll(ctx, requests)
	for i, result := range results {
		if result.Unavailable() {
			return fmt.Errorf("load feed %s: %w", l.settings[online[i]].Source, result.Err)
		}
		contents[online[i]] = result.Body
	}

	l.feeds = make([]*Feed, len(l.settings))
	for i, settings := range l.settings {
		f, err := New(settings, contents[i], l.logger)
		if err != nil {
			return err
		}
		l.feeds[i] = f
	}
	return nil
}

// Run performs the dedup pass over all feeds and then one completion pass
// over their combined incomplete records, so publisher batches can span
// feeds. Nothing is persisted here; Save runs only after Run succeeded.
func (l *List) Run(ctx context.Context) error {
	l.dedup()

	paperLists := make([][]*domain.Paper, len(l.feeds))
	for i, f := range l.feeds {
		paperLists[i] = f.Incomplete
	}

	if err := l.completor.Complete(ctx, paperLists); err != nil {
		return err
	}

	for _, f := range l.feeds {
		l.info("feed updated", "target", f.Target, "new_papers", len(f.Incomplete))
	}
	return nil
}

// Save persists every feed through the exporter factory.
func (l *List) Save() error {
	for _, f := range l.feeds {
		if err := f.Save(l.exporter(f.Target)); err != nil {
			return err
		}
	}
	return nil
}

// Feeds exposes the loaded feeds.
func (l *List) Feeds() []*Feed {
	return l.feeds
}

// dedup runs the configured duplicate-suppression mode. Across-feeds threads
// one shared seen map through every feed in order, so a record kept in an
// earlier feed is dropped from all later ones; within-feed gives every feed
// its own identity set.
func (l *List) dedup() {
	switch {
	case l.dedupAcross:
		status := map[string]bool{}
		for _, f := range l.feeds {
			for _, id := range f.IDs() {
				status[id] = false
			}
		}
		for _, f := range l.feeds {
			status = f.DropSeen(status)
		}
	case l.dedupWithin:
		for _, f := range l.feeds {
			f.DropSeen(nil)
		}
	}
}

func validateFeedURL(source string) error {
	parsed, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("%s is no valid url: %w", source, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s is no valid url: unsupported scheme %q", source, parsed.Scheme)
	}
	return nil
}

func (l *List) info(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Info(msg, args...)
	}
}

func (l *List) warn(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, args...)
	}
}
