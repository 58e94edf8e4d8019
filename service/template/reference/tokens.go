package reference

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	refStartCode = iota
	identifierCode
	dotCode
	closeBraceCode
)

// Token definitions
var (
	refStartToken   = parsly.NewToken(refStartCode, "${", matcher.NewFragment("${"))
	identifierToken = parsly.NewToken(identifierCode, "Identifier", newIdentifierMatcher())
	dotToken        = parsly.NewToken(dotCode, ".", matcher.NewByte('.'))
	closeBraceToken = parsly.NewToken(closeBraceCode, "}", matcher.NewByte('}'))
)

func newIdentifierMatcher() parsly.Matcher {
	return &identifierMatcher{}
}

// identifierMatcher matches identifier and field names
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	if pos >= size {
		return 0
	}
	if !isLetter(input[pos]) && input[pos] != '_' {
		return 0
	}
	matched := 1
	for i := pos + 1; i < size; i++ {
		if isLetter(input[i]) || isDigit(input[i]) || input[i] == '_' || input[i] == '-' {
			matched++
			continue
		}
		break
	}
	return matched
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
