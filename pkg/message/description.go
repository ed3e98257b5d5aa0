package message

import (
	"fmt"

	"github.com/morezero/rtbus/pkg/rtid"
)

// SelectorType says where a selector reads its value from.
type SelectorType string

const (
	SelectorProperty  SelectorType = "property"
	SelectorAttribute SelectorType = "attribute"
	SelectorText      SelectorType = "text"
	SelectorFunction  SelectorType = "function"
)

// MatchRule is how a selector value is compared to the candidate value.
type MatchRule string

const (
	MatchExact      MatchRule = "exact"
	MatchIncludes   MatchRule = "includes"
	MatchStartsWith MatchRule = "startsWith"
	MatchEndsWith   MatchRule = "endsWith"
	MatchRegex      MatchRule = "regex"
	MatchGlob       MatchRule = "glob"
	MatchHas        MatchRule = "has"
	MatchHasNot     MatchRule = "hasNot"
)

// Selector is one declarative predicate over a candidate object.
type Selector struct {
	Name  string       `json:"name" yaml:"name"`
	Value any          `json:"value,omitempty" yaml:"value,omitempty"`
	Type  SelectorType `json:"type,omitempty" yaml:"type,omitempty"`
	Match MatchRule    `json:"match,omitempty" yaml:"match,omitempty"`
}

// OrdinalKind orders candidates for ordinal selection.
type OrdinalKind string

const (
	OrdinalDeclaration OrdinalKind = "declaration"
	OrdinalCreation    OrdinalKind = "creation"
	OrdinalPosition    OrdinalKind = "position"
)

// Ordinal picks the index-th candidate in the given order.
type Ordinal struct {
	Kind  OrdinalKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Index int         `json:"index" yaml:"index"`
}

// QueryInfo is the layered selector description resolved by pkg/resolver.
type QueryInfo struct {
	Primary   []Selector `json:"primary,omitempty" yaml:"primary,omitempty"`
	Mandatory []Selector `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	Assistive []Selector `json:"assistive,omitempty" yaml:"assistive,omitempty"`
	Ordinal   *Ordinal   `json:"ordinal,omitempty" yaml:"ordinal,omitempty"`
}

// IsPrimaryOnly reports whether nothing beyond primary selectors is present.
func (q *QueryInfo) IsPrimaryOnly() bool {
	return len(q.Mandatory) == 0 && len(q.Assistive) == 0 && q.Ordinal == nil
}

// Validate checks selector shape.
func (q *QueryInfo) Validate() error {
	groups := [][]Selector{q.Primary, q.Mandatory, q.Assistive}
	for _, g := range groups {
		for _, s := range g {
			if s.Name == "" {
				return NewError(CodeInvalidArguments, "selector without name")
			}
			switch s.Match {
			case "", MatchExact, MatchIncludes, MatchStartsWith, MatchEndsWith,
				MatchRegex, MatchGlob, MatchHas, MatchHasNot:
			default:
				return NewError(CodeInvalidArguments, "unknown match rule %q", s.Match)
			}
		}
	}
	if q.Ordinal != nil && q.Ordinal.Index < 0 {
		return NewError(CodeInvalidArguments, "ordinal index %d is negative", q.Ordinal.Index)
	}
	return nil
}

// TargetDescription names target objects either directly or by query, scoped
// under an optional parent.
type TargetDescription struct {
	Objects   []rtid.RTID `json:"objects,omitempty"`
	QueryInfo *QueryInfo  `json:"queryInfo,omitempty"`
	Parent    *rtid.RTID  `json:"parent,omitempty"`
}

// Validate checks that exactly one of Objects and QueryInfo is used.
func (d *TargetDescription) Validate() error {
	if d == nil {
		return NewError(CodeInvalidArguments, "missing target description")
	}
	if len(d.Objects) > 0 && d.QueryInfo != nil {
		return NewError(CodeInvalidArguments, "target description has both objects and queryInfo")
	}
	if len(d.Objects) == 0 && d.QueryInfo == nil {
		return NewError(CodeInvalidArguments, "target description is empty")
	}
	if d.QueryInfo != nil {
		return d.QueryInfo.Validate()
	}
	return nil
}

func (s Selector) String() string {
	match := s.Match
	if match == "" {
		match = MatchExact
	}
	return fmt.Sprintf("%s %s %v", s.Name, match, s.Value)
}
