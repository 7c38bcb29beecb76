// Package pipeline models the admin-editable status graph: each status has a
// position and an explicit set of statuses it may move to.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"intakeline/internal/domain"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NormalizeKey lower-cases and trims a status key and checks its shape.
func NormalizeKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if !keyPattern.MatchString(k) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidStatusKey, key)
	}
	return k, nil
}

// Normalize cleans a full status set. Keys and edges are lower-cased and
// trimmed; self edges, edges to unknown keys and duplicates are dropped. The
// result is ordered by position, then key.
func Normalize(defs []domain.StatusDefinition) ([]domain.StatusDefinition, error) {
	out := make([]domain.StatusDefinition, 0, len(defs))
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		key, err := NormalizeKey(d.Key)
		if err != nil {
			return nil, err
		}
		if known[key] {
			return nil, fmt.Errorf("%w: duplicate status %q", domain.ErrInvalidStatusKey, key)
		}
		known[key] = true
		d.Key = key
		d.Label = strings.TrimSpace(d.Label)
		if d.Label == "" {
			d.Label = key
		}
		out = append(out, d)
	}
	for i := range out {
		seen := map[string]bool{}
		next := make([]string, 0, len(out[i].AllowedNext))
		for _, raw := range out[i].AllowedNext {
			k := strings.ToLower(strings.TrimSpace(raw))
			if k == "" || k == out[i].Key || !known[k] || seen[k] {
				continue
			}
			seen[k] = true
			next = append(next, k)
		}
		out[i].AllowedNext = next
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Pipeline is an immutable, normalized status graph.
type Pipeline struct {
	order    []domain.StatusDefinition
	byKey    map[string]domain.StatusDefinition
	edgesFor map[string]map[string]bool
}

// New normalizes defs and builds a pipeline from them.
func New(defs []domain.StatusDefinition) (*Pipeline, error) {
	norm, err := Normalize(defs)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		order:    norm,
		byKey:    make(map[string]domain.StatusDefinition, len(norm)),
		edgesFor: make(map[string]map[string]bool, len(norm)),
	}
	for _, d := range norm {
		p.byKey[d.Key] = d
		edges := make(map[string]bool, len(d.AllowedNext))
		for _, n := range d.AllowedNext {
			edges[n] = true
		}
		p.edgesFor[d.Key] = edges
	}
	return p, nil
}

// Statuses returns every status, active or not, in position order.
func (p *Pipeline) Statuses() []domain.StatusDefinition {
	out := make([]domain.StatusDefinition, len(p.order))
	copy(out, p.order)
	return out
}

// Status looks a status up by key.
func (p *Pipeline) Status(key string) (domain.StatusDefinition, bool) {
	d, ok := p.byKey[strings.ToLower(strings.TrimSpace(key))]
	return d, ok
}

// AllowedTransitions lists the active statuses reachable from fromKey in
// position order. An unknown fromKey has no transitions.
func (p *Pipeline) AllowedTransitions(fromKey string) []domain.StatusDefinition {
	from := strings.ToLower(strings.TrimSpace(fromKey))
	edges, ok := p.edgesFor[from]
	if !ok {
		return []domain.StatusDefinition{}
	}
	out := []domain.StatusDefinition{}
	for _, d := range p.order {
		if d.Key == from || !d.Active || !edges[d.Key] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// IsLegalTransition reports whether a request may move from one status to
// another.
func (p *Pipeline) IsLegalTransition(fromKey, toKey string) bool {
	from := strings.ToLower(strings.TrimSpace(fromKey))
	to := strings.ToLower(strings.TrimSpace(toKey))
	if from == to {
		return false
	}
	target, ok := p.byKey[to]
	if !ok || !target.Active {
		return false
	}
	return p.edgesFor[from][to]
}

// Merge upserts def into defs by key and returns the normalized set. Used by
// admin writes so that every write re-applies normalization.
func Merge(defs []domain.StatusDefinition, def domain.StatusDefinition) ([]domain.StatusDefinition, error) {
	key, err := NormalizeKey(def.Key)
	if err != nil {
		return nil, err
	}
	def.Key = key
	merged := make([]domain.StatusDefinition, 0, len(defs)+1)
	replaced := false
	for _, d := range defs {
		if strings.ToLower(strings.TrimSpace(d.Key)) == key {
			merged = append(merged, def)
			replaced = true
			continue
		}
		merged = append(merged, d)
	}
	if !replaced {
		merged = append(merged, def)
	}
	return Normalize(merged)
}

// DefaultStatuses is the bootstrap pipeline used when nothing is configured.
func DefaultStatuses() []domain.StatusDefinition {
	return []domain.StatusDefinition{
		{Key: "backlog", Label: "Backlog", Position: 10, AllowedNext: []string{"prioritized", "cancelled"}, Active: true},
		{Key: "prioritized", Label: "Prioritized", Position: 20, AllowedNext: []string{"in_progress", "backlog", "cancelled"}, Active: true},
		{Key: "in_progress", Label: "In progress", Position: 30, AllowedNext: []string{"qa_review", "done", "prioritized", "cancelled"}, Active: true},
		{Key: "qa_review", Label: "QA review", Position: 40, AllowedNext: []string{"done", "in_progress"}, Active: true},
		{Key: "done", Label: "Done", Position: 50, AllowedNext: []string{"backlog"}, Active: true},
		{Key: "cancelled", Label: "Cancelled", Position: 60, AllowedNext: []string{"backlog"}, Active: true},
	}
}
