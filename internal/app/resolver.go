package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"paperfeed/internal/ports"
)

// ConsoleResolver resolves ambiguous title matches by asking the operator on
// the terminal. It is the interactive counterpart of the fixed policies tests
// inject.
type ConsoleResolver struct {
	in  *bufio.Scanner
	out io.Writer
}

var _ ports.MatchResolver = (*ConsoleResolver)(nil)

// NewConsoleResolver reads answers from in and writes prompts to out.
func NewConsoleResolver(in io.Reader, out io.Writer) *ConsoleResolver {
	return &ConsoleResolver{in: bufio.NewScanner(in), out: out}
}

// Resolve prompts until the operator answers yes (merge anyway), no (skip the
// record) or cancel (abort the pass).
func (r *ConsoleResolver) Resolve(existingTitle, fetchedTitle, url string) (ports.Decision, error) {
	fmt.Fprintf(r.out,
		"\nThe feed title and the fetched title do not seem to match.\n"+
			"  feed title:    %s\n"+
			"  fetched title: %s\n"+
			"Please check at %s whether they refer to the same paper (they might just be\n"+
			"different versions). Answer 'yes' to merge them, 'no' to ignore the fetched\n"+
			"content, or 'cancel' to stop and investigate.\n> ",
		existingTitle, fetchedTitle, url)

	for r.in.Scan() {
		switch strings.ToLower(strings.TrimSpace(r.in.Text())) {
		case "yes":
			return ports.Accept, nil
		case "no":
			return ports.Reject, nil
		case "cancel":
			return ports.Abort, nil
		default:
			fmt.Fprint(r.out, "Invalid input. Please type 'yes', 'no', or 'cancel'.\n> ")
		}
	}

	if err := r.in.Err(); err != nil {
		return ports.Abort, fmt.Errorf("read resolver input: %w", err)
	}
	return ports.Abort, fmt.Errorf("resolver input closed")
}
