package completion

import (
	"fmt"
	"regexp"
	"strings"

	"paperfeed/internal/domain"
	"paperfeed/internal/ports"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// validateMatch guards against a batched request silently mis-associating
// field data with the wrong record. Titles are compared after stripping all
// non-alphanumeric characters; a substring relation in either direction
// accepts the match (publishers often extend or truncate subtitles). Anything
// else escalates to the injected resolver and is never guessed silently.
func (c *Completor) validateMatch(paper *domain.Paper, data domain.FieldData) (bool, error) {
	oldTitle := normalizeTitle(paper.Title)
	newTitle := normalizeTitle(data.Title)

	if strings.Contains(oldTitle, newTitle) || strings.Contains(newTitle, oldTitle) {
		return true, nil
	}

	decision, err := c.resolver.Resolve(paper.Title, data.Title, paper.URL)
	if err != nil {
		return false, fmt.Errorf("resolve title mismatch for %s: %w", paper.URL, err)
	}

	switch decision {
	case ports.Accept:
		c.warn("accepted manually confirmed title mismatch",
			"existing", paper.Title, "fetched", data.Title, "url", paper.URL)
		return true, nil
	case ports.Reject:
		c.warn("record not updated, fetched title rejected",
			"existing", paper.Title, "fetched", data.Title, "url", paper.URL)
		return false, nil
	default:
		return false, fmt.Errorf("titles %q and %q do not match for %s", paper.Title, data.Title, paper.URL)
	}
}

func normalizeTitle(title string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(title, ""))
}
