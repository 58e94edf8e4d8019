package meta

import (
	"os"
	"strings"
	"unicode"
)

const envPrefix = "${env."

// expandEnvExpr replaces every ${env.KEY} occurrence with the value of the
// environment variable KEY, empty when unset. Malformed expressions are left
// literal. Expansion happens before YAML decoding so templates never store
// resolved values.
func expandEnvExpr(value string) string {
	if !strings.Contains(value, envPrefix) {
		return value
	}
	var b strings.Builder
	rest := value
	for {
		idx := strings.Index(rest, envPrefix)
		if idx < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:idx])
		tail := rest[idx+len(envPrefix):]
		end := strings.IndexByte(tail, '}')
		if end < 0 {
			b.WriteString(rest[idx:])
			return b.String()
		}
		key := tail[:end]
		if !validEnvKey(key) {
			b.WriteString(envPrefix)
			rest = tail
			continue
		}
		b.WriteString(os.Getenv(key))
		rest = tail[end+1:]
	}
}

func validEnvKey(key string) bool {
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
