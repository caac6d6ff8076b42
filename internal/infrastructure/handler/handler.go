// Package handler contains the per-publisher request strategies used by the
// content completor. Keyed publishers (IEEE, Elsevier, Springer, Nature) offer
// two transports behind the same strategy interface: a metered API selected
// when a valid credential is configured, and a plain page-scrape fallback
// otherwise. The transport is decided once at construction and fixed for the
// strategy's lifetime.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrRejected marks a publisher-side rejection (rate limiting, blocked
// request). It is fatal unless force mode downgrades it to a per-record
// placeholder.
var ErrRejected = errors.New("publisher rejected the request")

// Prober issues a single GET and reports the status code; used to validate
// API keys eagerly at strategy construction.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// Credentials supplies named API keys; an empty string means the key is
// absent and the scrape transport should be used.
type Credentials interface {
	Key(name string) string
}

// Deps bundles everything a strategy constructor needs.
type Deps struct {
	Credentials Credentials
	Prober      Prober
	// Header is applied to scrape-transport requests (user agent etc.).
	Header map[string]string
	// Force converts publisher rejections into empty field data instead of
	// aborting the pass.
	Force bool
}

func (d Deps) key(name string) string {
	if d.Credentials == nil {
		return ""
	}
	return d.Credentials.Key(name)
}

// validateKey probes the publisher API with the configured key. A 200 means
// the key is usable; 401/403 mean the key is present but invalid, which is a
// hard configuration error; any other status disables the API transport.
func validateKey(ctx context.Context, prober Prober, probeURL, publisher string) (bool, error) {
	status, err := prober.Probe(ctx, probeURL)
	if err != nil {
		return false, fmt.Errorf("probe %s api: %w", publisher, err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, fmt.Errorf("the %s api key is invalid", publisher)
	default:
		return false, nil
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// normalizeSpace collapses every whitespace run into a single space and trims
// the ends.
func normalizeSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func normalizeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = normalizeSpace(v)
	}
	return out
}

// chunked splits items into consecutive groups of at most size elements.
func chunked(items []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
