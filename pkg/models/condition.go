// Package models provides condition expression evaluation for workflow steps.
package models

import (
	"fmt"
	"strings"
	"unicode"
)

// Condition is a parsed step gate. The grammar is deliberately small:
//
//	expr := and ( '||' and )*
//	and  := term ( '&&' term )*
//	term := IDENT ('==' | '!=') 'literal'
//
// '&&' binds tighter than '||'. A term referencing a variable that is not
// present in the context evaluates to false; evaluation never fails. Richer
// grammars (numeric comparisons, parentheses) are an extension point, not
// supported here.
type Condition struct {
	expression string
	groups     [][]conditionTerm // OR of AND-groups
}

type conditionTerm struct {
	variable string
	literal  string
	negated  bool
}

// ParseCondition parses expr. An empty expression parses to a condition that
// is always true.
func ParseCondition(expr string) (*Condition, error) {
	cond := &Condition{expression: expr}

	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return cond, nil
	}

	for _, group := range strings.Split(trimmed, "||") {
		var terms []conditionTerm

		for _, raw := range strings.Split(group, "&&") {
			term, err := parseTerm(raw)
			if err != nil {
				return nil, err
			}

			terms = append(terms, term)
		}

		cond.groups = append(cond.groups, terms)
	}

	return cond, nil
}

func parseTerm(raw string) (conditionTerm, error) {
	raw = strings.TrimSpace(raw)

	var (
		operator string
		negated  bool
	)

	switch {
	case strings.Contains(raw, "!="):
		operator, negated = "!=", true
	case strings.Contains(raw, "=="):
		operator = "=="
	default:
		return conditionTerm{}, &ValidationError{
			Field:   "condition_expression",
			Message: fmt.Sprintf("term %q has no == or != operator", raw),
		}
	}

	parts := strings.SplitN(raw, operator, 2)

	variable := strings.TrimSpace(parts[0])
	if variable == "" || !validIdentifier(variable) {
		return conditionTerm{}, &ValidationError{
			Field:   "condition_expression",
			Message: fmt.Sprintf("term %q has no valid variable name", raw),
		}
	}

	literal := strings.TrimSpace(parts[1])
	if len(literal) < 2 || (literal[0] != '\'' && literal[0] != '"') || literal[len(literal)-1] != literal[0] {
		return conditionTerm{}, &ValidationError{
			Field:   "condition_expression",
			Message: fmt.Sprintf("term %q compares against an unquoted literal", raw),
		}
	}

	return conditionTerm{
		variable: variable,
		literal:  literal[1 : len(literal)-1],
		negated:  negated,
	}, nil
}

func validIdentifier(name string) bool {
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}

		if i > 0 && unicode.IsDigit(r) {
			continue
		}

		return false
	}

	return true
}

// Evaluate resolves the condition against the merged context view. A lookup
// miss makes the enclosing term false rather than raising.
func (c *Condition) Evaluate(lookup func(name string) (string, bool)) bool {
	if len(c.groups) == 0 {
		return true
	}

	for _, terms := range c.groups {
		satisfied := true

		for _, term := range terms {
			value, ok := lookup(term.variable)
			if !ok {
				satisfied = false

				break
			}

			matches := value == term.literal
			if term.negated {
				matches = !matches
			}

			if !matches {
				satisfied = false

				break
			}
		}

		if satisfied {
			return true
		}
	}

	return false
}

// String returns the original expression text.
func (c *Condition) String() string {
	return c.expression
}
