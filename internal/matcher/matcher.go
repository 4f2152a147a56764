// Package matcher defines the window-matching rule evaluator's contract.
// The rule language itself (parsing predicates like `class_g = 'foo'`) is
// an external collaborator; this package only names the
// interface the core consults and a no-op implementation for sessions
// started without a rule file.
package matcher

// Subject is the read-only view of a window the rule evaluator may
// inspect. It intentionally exposes only the properties rules are
// documented to match on, not the full window record.
type Subject struct {
	Class         string
	ClassGeneral  string
	Instance      string
	Role          string
	Name          string
	WinType       string
	ID            uint32
	Leader        uint32
	HasAlpha      bool
	Focused       bool
	Fullscreen    bool
	OverrideRedir bool
}

// Value is the result of evaluating a value-producing rule (an opacity
// rule, a force-shadow rule); Matched is false when no rule in the list
// applied.
type Value struct {
	Matched bool
	Float   float64
	Bool    bool
}

// Evaluator is the opaque `matches(window, rule_list) -> bool | value`
// collaborator.
type Evaluator interface {
	MatchBool(list string, s Subject) bool
	MatchValue(list string, s Subject) Value
}

// Noop evaluates every rule list as "no match," the default when a
// session has no rule configuration loaded.
type Noop struct{}

func (Noop) MatchBool(list string, s Subject) bool    { return false }
func (Noop) MatchValue(list string, s Subject) Value { return Value{} }

var _ Evaluator = Noop{}
