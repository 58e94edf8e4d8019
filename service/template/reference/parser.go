// Package reference parses output reference expressions embedded in node
// input values. A reference has the form ${identifier.field}; an input value
// may mix literal text with any number of references.
package reference

import (
	"strings"

	"github.com/viant/parsly"
)

// Reference points at an output field of an upstream node occurrence.
type Reference struct {
	// Identifier is the graph vertex id of the producing node.
	Identifier string
	// Field names the output field, possibly a dotted path.
	Field string
	// Raw is the full matched expression including the ${} wrapper.
	Raw string
}

// Parse extracts every ${identifier.field} reference in the input. Text that
// merely resembles a reference but does not parse is left as literal.
func Parse(input string) []*Reference {
	cursor := parsly.NewCursor("", []byte(input), 0)
	var refs []*Reference
	for cursor.Pos < cursor.InputSize {
		matched := cursor.MatchOne(refStartToken)
		if matched.Code != refStartToken.Code {
			cursor.Pos++
			continue
		}
		start := cursor.Pos - 2
		ref, ok := parseReference(cursor)
		if !ok {
			continue
		}
		ref.Raw = input[start:cursor.Pos]
		refs = append(refs, ref)
	}
	return refs
}

// Expression reports whether the value consists of exactly one reference and
// nothing else.
func Expression(value string) (*Reference, bool) {
	trimmed := strings.TrimSpace(value)
	refs := Parse(trimmed)
	if len(refs) != 1 || refs[0].Raw != trimmed {
		return nil, false
	}
	return refs[0], true
}

// HasReference reports whether the value embeds at least one reference.
func HasReference(value string) bool {
	return len(Parse(value)) > 0
}

func parseReference(cursor *parsly.Cursor) (*Reference, bool) {
	matched := cursor.MatchOne(identifierToken)
	if matched.Code != identifierToken.Code {
		return nil, false
	}
	identifier := matched.Text(cursor)

	matched = cursor.MatchOne(dotToken)
	if matched.Code != dotToken.Code {
		return nil, false
	}

	var segments []string
	for {
		matched = cursor.MatchOne(identifierToken)
		if matched.Code != identifierToken.Code {
			return nil, false
		}
		segments = append(segments, matched.Text(cursor))
		matched = cursor.MatchOne(dotToken)
		if matched.Code != dotToken.Code {
			break
		}
	}

	matched = cursor.MatchOne(closeBraceToken)
	if matched.Code != closeBraceToken.Code {
		return nil, false
	}
	return &Reference{Identifier: identifier, Field: strings.Join(segments, ".")}, true
}
