// Package match implements ordered first-match rule evaluation over packet
// attributes. The same engine drives both pool selection and reply template
// selection.
package match

import (
	"fmt"
	"regexp"

	"github.com/marmos91/radiusd/pkg/packet"
)

// Predicate is a set of attribute/pattern pairs that must all match.
type Predicate struct {
	pairs []pair
}

type pair struct {
	attr    string
	pattern *regexp.Regexp
}

// Group binds a target name to the predicates that select it. An empty
// predicate list is a catch-all.
type Group struct {
	Target     string
	Predicates []Predicate
}

// Engine evaluates an ordered list of rule groups.
type Engine struct {
	groups []Group
}

// RuleSpec is one rule group as it appears in configuration: a single-key
// map from target name to a list of {attribute: regex} predicates.
type RuleSpec map[string][]map[string]string

// NewEngine compiles an ordered rule list. A group with zero or more than
// one target key, or an invalid regex, is a configuration error.
func NewEngine(rules []RuleSpec) (*Engine, error) {
	groups := make([]Group, 0, len(rules))
	for i, rule := range rules {
		if len(rule) != 1 {
			return nil, fmt.Errorf("rule group %d: expected exactly one target key, got %d", i, len(rule))
		}

		var g Group
		for target, preds := range rule {
			g.Target = target
			for _, pred := range preds {
				var p Predicate
				for attr, expr := range pred {
					re, err := regexp.Compile(expr)
					if err != nil {
						return nil, fmt.Errorf("rule group %d (%s): attribute %s: invalid regex %q: %w",
							i, target, attr, expr, err)
					}
					p.pairs = append(p.pairs, pair{attr: attr, pattern: re})
				}
				g.Predicates = append(g.Predicates, p)
			}
		}
		groups = append(groups, g)
	}
	return &Engine{groups: groups}, nil
}

// Select returns the target of the first group whose predicates match the
// request, or fallback when none does.
//
// A group with no predicates matches unconditionally. Within a group the
// predicates are ORed; within a predicate the attribute/pattern pairs are
// ANDed. A pair matches when the request carries the attribute and its first
// value contains a match for the pattern (unanchored).
func (e *Engine) Select(req packet.Request, fallback string) string {
	for _, g := range e.groups {
		if len(g.Predicates) == 0 {
			return g.Target
		}
		for _, pred := range g.Predicates {
			if pred.matches(req) {
				return g.Target
			}
		}
	}
	return fallback
}

func (p Predicate) matches(req packet.Request) bool {
	for _, pr := range p.pairs {
		value, ok := packet.FirstString(req, pr.attr)
		if !ok {
			return false
		}
		if !pr.pattern.MatchString(value) {
			return false
		}
	}
	return true
}
