package classify

import (
	"context"
	"errors"

	"boqmatch/internal/catalog"
)

// ErrNoSections is returned by a classifier that could not name any section.
var ErrNoSections = errors.New("classifier returned no sections")

// Classifier picks candidate sections for normalized text, best first.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, snap *catalog.Snapshot, text string) ([]string, error)
}

// restrict keeps the sections snap knows, in order, without duplicates, up to limit.
func restrict(snap *catalog.Snapshot, sections []string, limit int) []string {
	known := make(map[string]struct{}, len(snap.Sections()))
	for _, section := range snap.Sections() {
		known[section] = struct{}{}
	}
	out := make([]string, 0, len(sections))
	seen := make(map[string]struct{}, len(sections))
	for _, section := range sections {
		if _, ok := known[section]; !ok {
			continue
		}
		if _, dup := seen[section]; dup {
			continue
		}
		seen[section] = struct{}{}
		out = append(out, section)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
