package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

func tab(id int, url string, active bool) Candidate {
	return Candidate{
		Address:          rtid.Tab(id),
		Properties:       map[string]any{"url": url, "active": active, "index": float64(id)},
		DeclarationIndex: id,
		CreatedAt:        time.Unix(int64(100-id), 0),
	}
}

func staticList(cs ...Candidate) ListFunc {
	return func(context.Context, []message.Selector) ([]Candidate, error) {
		return cs, nil
	}
}

func TestResolve_ActiveTabScenario(t *testing.T) {
	r := &Resolver{List: staticList(
		tab(1, "https://example.com/a", false),
		tab(2, "https://other.org", true),
		tab(3, "https://example.com/b", true),
	)}

	res, err := r.Resolve(context.Background(), &message.QueryInfo{
		Primary:   []message.Selector{{Name: "url", Value: `example\.com`, Match: message.MatchRegex}},
		Assistive: []message.Selector{{Name: "active", Value: true}},
		Ordinal:   &message.Ordinal{Index: 0},
	})
	require.NoError(t, err)

	one, err := One(res)
	require.NoError(t, err)
	assert.True(t, one.Address.Equal(rtid.Tab(3)))
	assert.Len(t, res.Ranked, 2)
	assert.Equal(t, 1, res.Ranked[0].Score)
	assert.Nil(t, res.Consumed.QueryInfo.Ordinal, "ordinal is skipped once one candidate remains")
	assert.NotEmpty(t, res.Consumed.QueryInfo.Assistive)
}

func TestResolve_MandatoryOnlyNarrows(t *testing.T) {
	all := []Candidate{
		tab(1, "https://example.com/a", false),
		tab(2, "https://example.com/b", true),
		tab(3, "https://other.org", true),
	}
	r := &Resolver{List: staticList(all...)}

	selectors := [][]message.Selector{
		{{Name: "url", Value: "example", Match: message.MatchIncludes}},
		{{Name: "url", Value: "https://", Match: message.MatchStartsWith}},
		{{Name: "url", Value: ".org", Match: message.MatchEndsWith}},
		{{Name: "active", Value: true}},
		{{Name: "missing", Match: message.MatchHasNot}},
		{{Name: "url", Match: message.MatchHas}, {Name: "url", Value: "*example.com*", Match: message.MatchGlob}},
	}
	for _, mandatory := range selectors {
		res, err := r.Resolve(context.Background(), &message.QueryInfo{Mandatory: mandatory})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Matches), len(all))
		for _, m := range res.Matches {
			assert.Contains(t, addresses(all), m.Address.String())
		}
	}
}

func TestResolve_AssistiveRanksWithoutDropping(t *testing.T) {
	r := &Resolver{List: staticList(
		tab(1, "a", false),
		tab(2, "b", true),
		tab(3, "c", true),
	)}

	res, err := r.Resolve(context.Background(), &message.QueryInfo{
		Assistive: []message.Selector{{Name: "active", Value: true}, {Name: "url", Value: "c"}},
	})
	require.NoError(t, err)

	require.Len(t, res.Ranked, 3)
	assert.Equal(t, []int{2, 1, 0}, []int{res.Ranked[0].Score, res.Ranked[1].Score, res.Ranked[2].Score})
	assert.True(t, res.Ranked[0].Address.Equal(rtid.Tab(3)))
	require.Len(t, res.Matches, 1)
}

func TestResolve_TiesRemain(t *testing.T) {
	r := &Resolver{List: staticList(tab(1, "a", true), tab(2, "b", true), tab(3, "c", false))}
	res, err := r.Resolve(context.Background(), &message.QueryInfo{
		Assistive: []message.Selector{{Name: "active", Value: true}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)

	_, err = One(res)
	assert.True(t, errors.Is(err, message.ErrAmbiguousMatch))
}

func TestResolve_Ordinal(t *testing.T) {
	cs := []Candidate{tab(1, "a", false), tab(2, "b", false), tab(3, "c", false)}
	cs[0].Position = Position{Top: 50}
	cs[1].Position = Position{Top: 10, Left: 5}
	cs[2].Position = Position{Top: 10, Left: 1}
	r := &Resolver{List: staticList(cs...)}

	tests := []struct {
		name    string
		ordinal message.Ordinal
		want    []rtid.RTID
	}{
		{"declaration", message.Ordinal{Kind: message.OrdinalDeclaration, Index: 1}, []rtid.RTID{rtid.Tab(2)}},
		{"creation", message.Ordinal{Kind: message.OrdinalCreation, Index: 0}, []rtid.RTID{rtid.Tab(3)}},
		{"position", message.Ordinal{Kind: message.OrdinalPosition, Index: 0}, []rtid.RTID{rtid.Tab(3)}},
		{"out of range", message.Ordinal{Index: 7}, []rtid.RTID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.ordinal
			res, err := r.Resolve(context.Background(), &message.QueryInfo{
				Mandatory: []message.Selector{{Name: "url", Match: message.MatchHas}},
				Ordinal:   &o,
			})
			require.NoError(t, err, "out-of-range ordinals are no match, not an error")
			assert.Equal(t, tt.want, res.Addresses())
		})
	}
}

func TestResolve_PrimaryOnlyFastPath(t *testing.T) {
	r := &Resolver{List: staticList(tab(1, "https://a", false), tab(2, "http://b", false))}

	res, err := r.Resolve(context.Background(), &message.QueryInfo{})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
	assert.True(t, res.Consumed.PrimaryOnly)

	res, err = r.Resolve(context.Background(), &message.QueryInfo{
		Primary: []message.Selector{{Name: "url", Value: "https", Match: message.MatchStartsWith}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1, "primary selectors also filter a coarse listing")
}

func TestResolve_ExactFastPath(t *testing.T) {
	focused := tab(9, "https://focused", true)
	listed := false
	r := &Resolver{
		List: func(context.Context, []message.Selector) ([]Candidate, error) {
			listed = true
			return nil, nil
		},
		Exact: func(_ context.Context, q *message.QueryInfo) (Candidate, bool, error) {
			if q.Ordinal != nil && q.Ordinal.Index == 0 && len(q.Primary) == 0 {
				return focused, true, nil
			}
			return Candidate{}, false, nil
		},
	}

	res, err := r.Resolve(context.Background(), &message.QueryInfo{Ordinal: &message.Ordinal{Index: 0}})
	require.NoError(t, err)
	assert.True(t, res.Consumed.Exact)
	assert.False(t, listed)
	assert.Equal(t, []rtid.RTID{rtid.Tab(9)}, res.Addresses())
}

func TestResolve_SelectorSources(t *testing.T) {
	c := Candidate{
		Address:    rtid.Frame(1, 0).WithObject(4),
		Attributes: map[string]string{"id": "submit"},
		Text:       "Send form",
		Functions:  map[string]func() any{"visible": func() any { return true }},
	}
	r := &Resolver{List: staticList(c)}

	tests := []struct {
		name string
		sel  message.Selector
		want int
	}{
		{"attribute", message.Selector{Name: "id", Value: "submit", Type: message.SelectorAttribute}, 1},
		{"text", message.Selector{Name: "text", Value: "Send", Type: message.SelectorText, Match: message.MatchStartsWith}, 1},
		{"function", message.Selector{Name: "visible", Value: true, Type: message.SelectorFunction}, 1},
		{"missing function", message.Selector{Name: "enabled", Type: message.SelectorFunction, Match: message.MatchHas}, 0},
		{"attribute has not", message.Selector{Name: "disabled", Type: message.SelectorAttribute, Match: message.MatchHasNot}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), &message.QueryInfo{Mandatory: []message.Selector{tt.sel}})
			require.NoError(t, err)
			assert.Len(t, res.Matches, tt.want)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	r := &Resolver{List: staticList()}
	_, err := r.Resolve(context.Background(), &message.QueryInfo{
		Mandatory: []message.Selector{{Name: "url", Value: "(", Match: message.MatchRegex}},
	})
	assert.ErrorIs(t, err, message.ErrInvalidArguments)

	_, err = r.Resolve(context.Background(), &message.QueryInfo{
		Mandatory: []message.Selector{{Name: "url", Value: "x", Match: "like"}},
	})
	assert.ErrorIs(t, err, message.ErrInvalidArguments)

	_, err = (&Resolver{}).Resolve(context.Background(), &message.QueryInfo{})
	assert.Error(t, err)

	boom := errors.New("enumeration failed")
	_, err = (&Resolver{List: func(context.Context, []message.Selector) ([]Candidate, error) { return nil, boom }}).
		Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestEqualValues(t *testing.T) {
	assert.True(t, equalValues(3, float64(3)))
	assert.True(t, equalValues("3", "3"))
	assert.False(t, equalValues(true, "true"))
	assert.True(t, includes([]string{"a", "b"}, "b"))
	assert.True(t, includes([]any{float64(1), "x"}, 1))
}

func addresses(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Address.String())
	}
	return out
}
