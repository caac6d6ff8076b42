package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperfeed/internal/domain"
	"paperfeed/internal/infrastructure/export"
	"paperfeed/internal/infrastructure/fetch"
	"paperfeed/internal/ports"
)

type stubFetcher struct {
	bodies map[string]string
}

func (s *stubFetcher) FetchAll(_ context.Context, requests []fetch.Request) []fetch.Result {
	results := make([]fetch.Result, len(requests))
	for i, req := range requests {
		body, ok := s.bodies[req.URL]
		if !ok {
			results[i] = fetch.Result{Err: fmt.Errorf("no canned body for %s", req.URL)}
			continue
		}
		results[i] = fetch.Result{Body: body}
	}
	return results
}

// fillCompletor fills every incomplete record with a derived abstract,
// standing in for the publisher completion pass.
type fillCompletor struct {
	lists [][]*domain.Paper
}

func (c *fillCompletor) Complete(_ context.Context, paperLists [][]*domain.Paper) error {
	c.lists = paperLists
	for _, papers := range paperLists {
		for _, paper := range papers {
			paper.Abstract = "about " + paper.Title
		}
	}
	return nil
}

func alertWith(entries ...string) string {
	content := ""
	for _, entry := range entries {
		content += entry
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>tag:alerts,2024:1</id>
    <title>new results</title>
    <content type="html">` + content + `</content>
  </entry>
</feed>`
}

func alertEntry(title, href, authors string) string {
	return fmt.Sprintf(`&lt;h3&gt;&lt;a class="gse_alrt_title" href="%s"&gt;%s&lt;/a&gt;&lt;/h3&gt;
&lt;div style="color:#006621;line-height:18px"&gt;%s - Venue, 2024&lt;/div&gt;
`, href, title, authors)
}

func writeFeedFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func atomFactory(target string) ports.Exporter {
	return export.NewAtom(target)
}

func TestListCrossFeedDedup(t *testing.T) {
	dir := t.TempDir()

	shared := alertEntry("Shared Paper", "https://arxiv.org/abs/2401.00001", "A Author")
	sourceOne := writeFeedFile(t, dir, "one.xml", alertWith(
		alertEntry("Only In One", "https://arxiv.org/abs/2401.00002", "B Author"),
		shared,
	))
	sourceTwo := writeFeedFile(t, dir, "two.xml", alertWith(
		shared,
		alertEntry("Only In Two", "https://arxiv.org/abs/2401.00003", "C Author"),
	))

	completor := &fillCompletor{}
	list := NewList(ListOptions{
		Feeds: []Settings{
			{Source: sourceOne, Target: filepath.Join(dir, "out-one.xml")},
			{Source: sourceTwo, Target: filepath.Join(dir, "out-two.xml")},
		},
		DedupAcrossFeed: true,
		Fetcher:         &stubFetcher{},
		Completor:       completor,
		Exporter:        atomFactory,
	})

	ctx := context.Background()
	require.NoError(t, list.Load(ctx))
	require.NoError(t, list.Run(ctx))

	feeds := list.Feeds()
	require.Len(t, feeds, 2)
	require.Len(t, feeds[0].Incomplete, 2, "the earlier feed keeps the shared record")
	require.Len(t, feeds[1].Incomplete, 1, "the later feed drops it")
	assert.Equal(t, "Only In Two", feeds[1].Incomplete[0].Title)

	// the completion pass sees the deduplicated lists, one per feed
	require.Len(t, completor.lists, 2)
	assert.Equal(t, "about Shared Paper", feeds[0].Incomplete[1].Abstract)
}

func TestListBothDedupModesPreferAcross(t *testing.T) {
	list := NewList(ListOptions{DedupWithinFeed: true, DedupAcrossFeed: true})
	assert.False(t, list.dedupWithin)
	assert.True(t, list.dedupAcross)
}

func TestListOnlineLoad(t *testing.T) {
	dir := t.TempDir()
	source := "https://alerts.example.org/feed"

	list := NewList(ListOptions{
		Feeds: []Settings{{Source: source, Target: filepath.Join(dir, "out.xml"), Online: true}},
		Fetcher: &stubFetcher{bodies: map[string]string{
			source: alertWith(alertEntry("Online Paper", "https://arxiv.org/abs/2401.00004", "D Author")),
		}},
		Completor: &fillCompletor{},
		Exporter:  atomFactory,
	})

	require.NoError(t, list.Load(context.Background()))
	require.Len(t, list.Feeds()[0].Incomplete, 1)
	assert.Equal(t, "Online Paper", list.Feeds()[0].Incomplete[0].Title)
}

func TestListOnlineLoadFailureAborts(t *testing.T) {
	list := NewList(ListOptions{
		Feeds:   []Settings{{Source: "https://alerts.example.org/feed", Online: true}},
		Fetcher: &stubFetcher{},
	})
	require.Error(t, list.Load(context.Background()))
}

func TestListRejectsNonHTTPSource(t *testing.T) {
	list := NewList(ListOptions{
		Feeds:   []Settings{{Source: "ftp://alerts.example.org/feed", Online: true}},
		Fetcher: &stubFetcher{},
	})
	err := list.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid url")
}

func TestListAppendingRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	source := writeFeedFile(t, dir, "alerts.xml", alertWith(
		alertEntry("Stable Paper", "https://arxiv.org/abs/2401.00005", "E Author"),
	))
	target := filepath.Join(dir, "out.xml")

	newList := func() *List {
		return NewList(ListOptions{
			Feeds:     []Settings{{Source: source, Target: target, Appending: true}},
			Fetcher:   &stubFetcher{},
			Completor: &fillCompletor{},
			Exporter:  atomFactory,
		})
	}

	ctx := context.Background()

	first := newList()
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.Run(ctx))
	require.NoError(t, first.Save())
	require.Len(t, first.Feeds()[0].Incomplete, 1)

	// the same alerts again: everything is already in the target
	second := newList()
	require.NoError(t, second.Load(ctx))
	require.NoError(t, second.Run(ctx))
	require.NoError(t, second.Save())

	assert.Empty(t, second.Feeds()[0].Incomplete)
	require.Len(t, second.Feeds()[0].Existing, 1)
	existing := second.Feeds()[0].Existing[0]
	assert.Equal(t, "Stable Paper", existing.Title)
	assert.Equal(t, "about Stable Paper", existing.Abstract, "completed fields survive the round trip")
	assert.Equal(t, []string{"E Author"}, existing.Authors)
	assert.Equal(t, "https://arxiv.org/abs/2401.00005", existing.URL)
}
