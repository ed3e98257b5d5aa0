// Package resolver turns a layered selector description into concrete
// candidates: primary selectors enumerate, mandatory selectors filter,
// assistive selectors rank and an ordinal picks one.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "resolver:resolver"

// Position is the visual placement used by position ordinals.
type Position struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// Candidate is one object the resolver can select, with every value a
// selector may read.
type Candidate struct {
	Address          rtid.RTID
	Properties       map[string]any
	Attributes       map[string]string
	Text             string
	Functions        map[string]func() any
	DeclarationIndex int
	CreatedAt        time.Time
	Position         Position
}

func (c *Candidate) lookup(sel message.Selector) (any, bool) {
	switch sel.Type {
	case "", message.SelectorProperty:
		v, ok := c.Properties[sel.Name]
		return v, ok
	case message.SelectorAttribute:
		v, ok := c.Attributes[sel.Name]
		return v, ok
	case message.SelectorText:
		return c.Text, true
	case message.SelectorFunction:
		fn, ok := c.Functions[sel.Name]
		if !ok || fn == nil {
			return nil, false
		}
		return fn(), true
	default:
		return nil, false
	}
}

// ListFunc enumerates candidates for the primary selectors. It may return a
// superset; the resolver applies the primary selectors again.
type ListFunc func(ctx context.Context, primary []message.Selector) ([]Candidate, error)

// ExactFunc is an optional fast path that answers some descriptions directly,
// such as the last-focused window. ok=false falls through to full resolution.
type ExactFunc func(ctx context.Context, q *message.QueryInfo) (c Candidate, ok bool, err error)

// Resolver resolves QueryInfo against the candidates of one entity kind.
type Resolver struct {
	List  ListFunc
	Exact ExactFunc
}

// Scored is a candidate with the number of assistive selectors it satisfied.
type Scored struct {
	Candidate
	Score int
}

// Consumed reports which parts of a description were applied.
type Consumed struct {
	QueryInfo message.QueryInfo `json:"queryInfo"`
	// Exact is set when the ExactFunc fast path answered.
	Exact bool `json:"exact"`
	// PrimaryOnly is set when nothing beyond primary selectors was given.
	PrimaryOnly bool `json:"primaryOnly"`
}

// Result is the outcome of a resolution.
type Result struct {
	// Matches are the selected candidates.
	Matches []Candidate
	// Ranked holds every candidate that passed the mandatory filter, best
	// assistive score first.
	Ranked   []Scored
	Consumed Consumed
}

// Addresses returns the addresses of the matches.
func (r *Result) Addresses() []rtid.RTID {
	out := make([]rtid.RTID, 0, len(r.Matches))
	for _, c := range r.Matches {
		out = append(out, c.Address)
	}
	return out
}

// Resolve runs the selection algorithm.
func (r *Resolver) Resolve(ctx context.Context, q *message.QueryInfo) (*Result, error) {
	if q == nil {
		q = &message.QueryInfo{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	primary, err := compileAll(q.Primary)
	if err != nil {
		return nil, err
	}
	mandatory, err := compileAll(q.Mandatory)
	if err != nil {
		return nil, err
	}
	assistive, err := compileAll(q.Assistive)
	if err != nil {
		return nil, err
	}

	if r.Exact != nil {
		c, ok, err := r.Exact(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%s - exact lookup: %w", logPrefix, err)
		}
		if ok {
			return &Result{
				Matches:  []Candidate{c},
				Ranked:   []Scored{{Candidate: c}},
				Consumed: Consumed{QueryInfo: *q, Exact: true},
			}, nil
		}
	}

	if r.List == nil {
		return nil, fmt.Errorf("%s - resolver has no candidate source", logPrefix)
	}
	listed, err := r.List(ctx, q.Primary)
	if err != nil {
		return nil, fmt.Errorf("%s - listing candidates: %w", logPrefix, err)
	}

	candidates := make([]Candidate, 0, len(listed))
	for i := range listed {
		if matchesAll(primary, &listed[i]) {
			candidates = append(candidates, listed[i])
		}
	}
	consumed := Consumed{QueryInfo: message.QueryInfo{Primary: q.Primary}}

	if q.IsPrimaryOnly() {
		consumed.PrimaryOnly = true
		return &Result{Matches: candidates, Ranked: unscored(candidates), Consumed: consumed}, nil
	}

	if len(mandatory) > 0 {
		kept := candidates[:0:0]
		for i := range candidates {
			if matchesAll(mandatory, &candidates[i]) {
				kept = append(kept, candidates[i])
			}
		}
		candidates = kept
		consumed.QueryInfo.Mandatory = q.Mandatory
	}

	ranked := unscored(candidates)
	matches := candidates
	if len(candidates) > 1 && len(assistive) > 0 {
		for i := range ranked {
			ranked[i].Score = score(assistive, &ranked[i].Candidate)
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		best := ranked[0].Score
		matches = nil
		for _, s := range ranked {
			if s.Score != best {
				break
			}
			matches = append(matches, s.Candidate)
		}
		consumed.QueryInfo.Assistive = q.Assistive
	}

	if len(matches) > 1 && q.Ordinal != nil {
		matches = pickOrdinal(matches, *q.Ordinal)
		o := *q.Ordinal
		consumed.QueryInfo.Ordinal = &o
	}

	slog.Debug(fmt.Sprintf("%s - %d listed, %d ranked, %d matched", logPrefix, len(listed), len(ranked), len(matches)))
	return &Result{Matches: matches, Ranked: ranked, Consumed: consumed}, nil
}

func unscored(cs []Candidate) []Scored {
	out := make([]Scored, len(cs))
	for i, c := range cs {
		out[i] = Scored{Candidate: c}
	}
	return out
}

// pickOrdinal orders candidates by the ordinal kind and returns the one at
// the index, or nothing when the index is out of range.
func pickOrdinal(cs []Candidate, o message.Ordinal) []Candidate {
	sorted := append([]Candidate(nil), cs...)
	var less func(a, b *Candidate) bool
	switch o.Kind {
	case message.OrdinalCreation:
		less = func(a, b *Candidate) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case message.OrdinalPosition:
		less = func(a, b *Candidate) bool {
			if a.Position.Top != b.Position.Top {
				return a.Position.Top < b.Position.Top
			}
			return a.Position.Left < b.Position.Left
		}
	default:
		less = func(a, b *Candidate) bool { return a.DeclarationIndex < b.DeclarationIndex }
	}
	sort.SliceStable(sorted, func(i, j int) bool { return less(&sorted[i], &sorted[j]) })

	if o.Index < 0 || o.Index >= len(sorted) {
		return nil
	}
	return []Candidate{sorted[o.Index]}
}

// One returns the single match, or NO_MATCH / AMBIGUOUS_MATCH.
func One(r *Result) (Candidate, error) {
	switch len(r.Matches) {
	case 0:
		return Candidate{}, message.NewError(message.CodeNoMatch, "no object matched")
	case 1:
		return r.Matches[0], nil
	default:
		return Candidate{}, message.NewError(message.CodeAmbiguousMatch, "%d objects matched", len(r.Matches))
	}
}
