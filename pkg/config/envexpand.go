package config

import (
	"os"
	"regexp"
)

// defaultPattern matches ${VAR:-default} so a missing environment
// variable can fall back to an inline default instead of expanding to
// empty string, extending the teacher's envexpand.go (which only
// supported bare os.ExpandEnv substitution).
var defaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)

// ExpandEnv expands environment variables in YAML content before it is
// unmarshaled. Supports ${VAR}, $VAR, and ${VAR:-default} syntax.
// A variable with no default that is unset expands to empty string;
// validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	withDefaults := defaultPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := defaultPattern.FindSubmatch(match)
		name, def := string(groups[1]), string(groups[2])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return []byte(def)
	})
	return []byte(os.ExpandEnv(string(withDefaults)))
}
