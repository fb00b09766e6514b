// Package generator wraps the external text-generation service that turns
// plain tasks into flavored quest narratives. Generation failure is always
// soft: callers substitute FallbackNarrative and move on, it is never
// surfaced to the user as an error.
package generator

import (
	"context"
	"strings"
)

// FallbackNarrative is used whenever the generator fails or is disabled.
const FallbackNarrative = "No quest generated."

// Generator produces flavored quest text. One attempt per call, no retry.
type Generator interface {
	// GenerateDaily invents a daily quest for the given flavor and class.
	GenerateDaily(ctx context.Context, flavor, class string) (string, error)
	// Flavorize rewrites a raw user task as a quest narrative.
	Flavorize(ctx context.Context, task, flavor, class string) (string, error)
}

// SplitNarrative splits a generated narrative into its title line and
// description. The generator is prompted to separate them with a blank line;
// when it does not, the first sentence becomes the title.
func SplitNarrative(full string) (title, desc string) {
	parts := strings.SplitN(full, "\n\n", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	sentences := strings.SplitN(full, ". ", 2)
	if len(sentences) == 2 {
		return strings.TrimSpace(sentences[0]) + ".", strings.TrimSpace(sentences[1])
	}
	return strings.TrimSpace(full), ""
}
