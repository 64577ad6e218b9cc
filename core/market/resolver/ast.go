// Package resolver implements the LDAP-style constraint filter grammar of
// spec.md §4.2: parsing and three-valued evaluation against a property set,
// with a reduction rule that lets a peer resume evaluation once properties
// it was missing become known.
package resolver

import (
	"fmt"
	"strings"

	"nhbchain/core/market/props"
)

// PropertyRef names a single property, optionally scoped to an aspect, that
// an evaluation outcome depended on.
type PropertyRef struct {
	Name   string
	Aspect string
}

func (r PropertyRef) String() string {
	if r.Aspect == "" {
		return r.Name
	}
	return fmt.Sprintf("%s[%s]", r.Name, r.Aspect)
}

// Op enumerates the comparison operators of spec.md §4.2.
type Op uint8

const (
	OpEqual Op = iota
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// OutcomeKind enumerates the trichotomy of spec.md §4.2: True, False, or
// Undefined.
type OutcomeKind uint8

const (
	OutcomeTrue OutcomeKind = iota
	OutcomeFalse
	OutcomeUndefined
)

// Outcome is the three-valued result of evaluating an Expr against a
// props.Set. False and Undefined carry the property references that drove
// the result; only Undefined carries a residual expression, per spec.md
// §4.2.
type Outcome struct {
	Kind     OutcomeKind
	Refs     []PropertyRef
	Residual Expr
}

// IsTrue reports whether the outcome definitely holds.
func (o Outcome) IsTrue() bool { return o.Kind == OutcomeTrue }

// IsFalse reports whether the outcome definitely fails.
func (o Outcome) IsFalse() bool { return o.Kind == OutcomeFalse }

// IsUndefined reports whether the outcome depends on missing properties.
func (o Outcome) IsUndefined() bool { return o.Kind == OutcomeUndefined }

func trueOutcome() Outcome { return Outcome{Kind: OutcomeTrue} }

func falseOutcome(refs []PropertyRef) Outcome {
	return Outcome{Kind: OutcomeFalse, Refs: refs}
}

func undefinedOutcome(refs []PropertyRef, residual Expr) Outcome {
	return Outcome{Kind: OutcomeUndefined, Refs: refs, Residual: residual}
}

// Expr is a parsed constraint filter expression node.
type Expr interface {
	// Resolve evaluates the expression against set, returning the
	// three-valued outcome of spec.md §4.2.
	Resolve(set *props.Set) (Outcome, error)
	// String renders the expression back to its canonical LDAP-style filter
	// text, used to transport residual expressions on the wire.
	String() string
}

type emptyExpr struct{}

func (emptyExpr) Resolve(*props.Set) (Outcome, error) { return trueOutcome(), nil }
func (emptyExpr) String() string                      { return "()" }

type presentExpr struct{ Ref PropertyRef }

func (e presentExpr) Resolve(set *props.Set) (Outcome, error) {
	entry, ok := lookup(set, e.Ref)
	if !ok {
		return undefinedOutcome([]PropertyRef{e.Ref}, e), nil
	}
	if e.Ref.Aspect != "" {
		if _, ok := entry.Aspects[e.Ref.Aspect]; !ok {
			return undefinedOutcome([]PropertyRef{e.Ref}, e), nil
		}
	}
	return trueOutcome(), nil
}

func (e presentExpr) String() string {
	return fmt.Sprintf("(%s=*)", e.Ref)
}

type compareExpr struct {
	Ref     PropertyRef
	Op      Op
	Literal string
}

func (e compareExpr) Resolve(set *props.Set) (Outcome, error) {
	entryVal, ok, dynamic := lookupValue(set, e.Ref)
	if !ok || dynamic {
		return undefinedOutcome([]PropertyRef{e.Ref}, e), nil
	}
	if e.Ref.Aspect != "" {
		ok, err := compareAspectStrings(entryVal, e.Ref.Aspect, e.Op, e.Literal)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return trueOutcome(), nil
		}
		return falseOutcome([]PropertyRef{e.Ref}), nil
	}

	target, err := props.ParseLiteral(e.Literal)
	if err != nil {
		return Outcome{}, err
	}

	var holds bool
	switch e.Op {
	case OpEqual:
		holds, err = entryVal.Value.Equal(target)
	default:
		var cmp int
		cmp, err = entryVal.Value.Compare(target)
		if err == nil {
			switch e.Op {
			case OpLess:
				holds = cmp < 0
			case OpLessEqual:
				holds = cmp <= 0
			case OpGreater:
				holds = cmp > 0
			case OpGreaterEqual:
				holds = cmp >= 0
			}
		}
	}
	if err != nil {
		return Outcome{}, err
	}
	if holds {
		return trueOutcome(), nil
	}
	return falseOutcome([]PropertyRef{e.Ref}), nil
}

func (e compareExpr) String() string {
	return fmt.Sprintf("(%s%s%s)", e.Ref, e.Op, e.Literal)
}

type notExpr struct{ Inner Expr }

func (e notExpr) Resolve(set *props.Set) (Outcome, error) {
	inner, err := e.Inner.Resolve(set)
	if err != nil {
		return Outcome{}, err
	}
	switch inner.Kind {
	case OutcomeTrue:
		return falseOutcome(nil), nil
	case OutcomeFalse:
		return trueOutcome(), nil
	default:
		return undefinedOutcome(inner.Refs, notExpr{Inner: inner.Residual}), nil
	}
}

func (e notExpr) String() string {
	return fmt.Sprintf("(!%s)", e.Inner)
}

type andExpr struct{ Children []Expr }

func (e andExpr) Resolve(set *props.Set) (Outcome, error) {
	var pendingRefs []PropertyRef
	var pendingResiduals []Expr
	for _, child := range e.Children {
		out, err := child.Resolve(set)
		if err != nil {
			return Outcome{}, err
		}
		switch out.Kind {
		case OutcomeFalse:
			return falseOutcome(out.Refs), nil
		case OutcomeUndefined:
			pendingRefs = append(pendingRefs, out.Refs...)
			pendingResiduals = append(pendingResiduals, out.Residual)
		}
	}
	if len(pendingResiduals) == 0 {
		return trueOutcome(), nil
	}
	if len(pendingResiduals) == 1 {
		return undefinedOutcome(pendingRefs, pendingResiduals[0]), nil
	}
	return undefinedOutcome(pendingRefs, andExpr{Children: pendingResiduals}), nil
}

func (e andExpr) String() string {
	return wrapChildren("&", e.Children)
}

type orExpr struct{ Children []Expr }

func (e orExpr) Resolve(set *props.Set) (Outcome, error) {
	var pendingRefs []PropertyRef
	var pendingResiduals []Expr
	var falseRefs []PropertyRef
	for _, child := range e.Children {
		out, err := child.Resolve(set)
		if err != nil {
			return Outcome{}, err
		}
		switch out.Kind {
		case OutcomeTrue:
			return trueOutcome(), nil
		case OutcomeUndefined:
			pendingRefs = append(pendingRefs, out.Refs...)
			pendingResiduals = append(pendingResiduals, out.Residual)
		case OutcomeFalse:
			falseRefs = append(falseRefs, out.Refs...)
		}
	}
	if len(pendingResiduals) == 0 {
		return falseOutcome(falseRefs), nil
	}
	if len(pendingResiduals) == 1 {
		return undefinedOutcome(pendingRefs, pendingResiduals[0]), nil
	}
	return undefinedOutcome(pendingRefs, orExpr{Children: pendingResiduals}), nil
}

func (e orExpr) String() string {
	return wrapChildren("|", e.Children)
}

func wrapChildren(op string, children []Expr) string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(op)
	for _, c := range children {
		b.WriteString(c.String())
	}
	b.WriteByte(')')
	return b.String()
}

func lookup(set *props.Set, ref PropertyRef) (props.Entry, bool) {
	return set.Lookup(ref.Name)
}

// lookupValue returns the entry's value, whether the property is present at
// all, and whether it is a dynamic (unresolved) marker.
func lookupValue(set *props.Set, ref PropertyRef) (props.Entry, bool, bool) {
	e, ok := set.Lookup(ref.Name)
	if !ok {
		return props.Entry{}, false, false
	}
	return e, true, e.Dynamic
}

// compareAspectStrings evaluates an operator against a property's aspect
// value, which is always an opaque string (aspects carry no type tag).
// Equality supports the trailing-* wildcard; ordering operators are not
// meaningful for aspect strings and report an error.
func compareAspectStrings(entry props.Entry, aspect string, op Op, literal string) (bool, error) {
	actual, ok := entry.Aspects[aspect]
	if !ok {
		return false, nil
	}
	trimmed := strings.Trim(literal, `"`)
	if op != OpEqual {
		return false, fmt.Errorf("resolver: ordering operators are not supported on aspect %q", aspect)
	}
	if prefix, wildcard := strings.CutSuffix(trimmed, "*"); wildcard {
		return strings.HasPrefix(actual, prefix), nil
	}
	return actual == trimmed, nil
}
