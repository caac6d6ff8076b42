package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"paperfeed/internal/completion"
	"paperfeed/internal/config"
	"paperfeed/internal/credentials"
	"paperfeed/internal/feed"
	"paperfeed/internal/infrastructure/export"
	"paperfeed/internal/infrastructure/fetch"
	"paperfeed/internal/infrastructure/handler"
	"paperfeed/internal/ports"
)

// Application wires config into fetchers, strategies and the feed list for a
// single aggregation pass.
type Application struct {
	list   *feed.List
	logger *slog.Logger
}

// New builds a runnable application instance. Keyed publisher strategies
// probe their credentials here, so an invalid configured API key fails fast.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Application, error) {
	creds, err := credentials.Load(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	header := map[string]string{"User-Agent": cfg.HTTP.UserAgent}

	syncFetcher, err := newFetcher(cfg, cfg.HTTP.SyncLimit, header, logger.With("component", "fetcher.sync"))
	if err != nil {
		return nil, err
	}
	// downstream publisher APIs are rate limited, hence the smaller cap
	completionFetcher, err := newFetcher(cfg, cfg.HTTP.CompletionLimit, header, logger.With("component", "fetcher.completion"))
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(ctx, handler.Deps{
		Credentials: creds,
		Prober:      completionFetcher,
		Header:      header,
		Force:       cfg.Force,
	})
	if err != nil {
		return nil, err
	}

	resolver := NewConsoleResolver(os.Stdin, os.Stdout)
	completor := completion.NewCompletor(registry, completionFetcher, resolver, logger.With("component", "completor"))

	settings := make([]feed.Settings, len(cfg.Feeds))
	for i, fc := range cfg.Feeds {
		settings[i] = feed.Settings{
			Source:    fc.Source,
			Target:    fc.Target,
			Online:    *fc.Online,
			Appending: *fc.Appending,
		}
	}

	list := feed.NewList(feed.ListOptions{
		Feeds:           settings,
		DedupWithinFeed: cfg.Dedup.WithinFeed,
		DedupAcrossFeed: cfg.Dedup.AcrossFeeds,
		Fetcher:         syncFetcher,
		Completor:       completor,
		Exporter:        func(target string) ports.Exporter { return export.NewAtom(target) },
		Logger:          logger.With("component", "feed"),
	})

	return &Application{list: list, logger: logger}, nil
}

// Run executes one full pass: load all feeds, dedup and complete, then
// persist. Feeds are only written after the whole pass succeeded, so a
// mid-pass failure never loses already-confirmed records.
func (a *Application) Run(ctx context.Context) error {
	if err := a.list.Load(ctx); err != nil {
		return fmt.Errorf("load feeds: %w", err)
	}
	if err := a.list.Run(ctx); err != nil {
		return fmt.Errorf("complete feeds: %w", err)
	}
	if err := a.list.Save(); err != nil {
		return fmt.Errorf("save feeds: %w", err)
	}
	return nil
}

func newFetcher(cfg config.Config, limit int, header map[string]string, logger *slog.Logger) (*fetch.Fetcher, error) {
	return fetch.New(fetch.Config{
		Limit:              limit,
		Proxy:              cfg.HTTP.Proxy,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify(),
		DefaultHeader:      header,
	}, logger)
}

func buildRegistry(ctx context.Context, deps handler.Deps) (*completion.Registry, error) {
	registry := completion.NewRegistry()
	registry.Register("arxiv.org", handler.NewArxivStrategy())

	ieee, err := handler.NewIEEEStrategy(ctx, deps)
	if err != nil {
		return nil, err
	}
	registry.Register("ieee.org", ieee)

	elsevier, err := handler.NewElsevierStrategy(ctx, deps)
	if err != nil {
		return nil, err
	}
	registry.Register("sciencedirect.com", elsevier)

	springer, err := handler.NewSpringerStrategy(ctx, deps)
	if err != nil {
		return nil, err
	}
	registry.Register("springer.com", springer)

	nature, err := handler.NewNatureStrategy(ctx, deps)
	if err != nil {
		return nil, err
	}
	registry.Register("nature.com", nature)

	return registry, nil
}
