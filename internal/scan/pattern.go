package scan

import (
	"regexp"
	"strings"

	"github.com/schaermu/modsync/internal/manifest"
)

// Match reports whether path matches the wildcard pattern. `*` matches any run
// of characters including `/`, `?` matches one character. Matching is anchored,
// case-insensitive and treats `\` as `/`. A blank pattern matches nothing.
func Match(pattern, path string) bool {
	re := compile(pattern)
	return re != nil && re.MatchString(manifest.NormalizePath(path))
}

func compile(pattern string) *regexp.Regexp {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	quoted := regexp.QuoteMeta(manifest.NormalizePath(pattern))
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	return regexp.MustCompile("(?i)^" + quoted + "$")
}

// ignoreRule is a compiled ignore pattern
type ignoreRule struct {
	re *regexp.Regexp
	// dir matches the directory itself for patterns ending in "/*".
	dir *regexp.Regexp
}

func compileIgnores(patterns []string) []ignoreRule {
	rules := make([]ignoreRule, 0, len(patterns))
	for _, p := range patterns {
		re := compile(p)
		if re == nil {
			continue
		}
		rule := ignoreRule{re: re}
		if norm := manifest.NormalizePath(p); strings.HasSuffix(norm, "/*") {
			rule.dir = compile(strings.TrimSuffix(norm, "/*"))
		}
		rules = append(rules, rule)
	}
	return rules
}

func ignored(rules []ignoreRule, rel string, isDir bool) bool {
	for _, r := range rules {
		if r.re.MatchString(rel) {
			return true
		}
		if isDir && r.dir != nil && r.dir.MatchString(rel) {
			return true
		}
	}
	return false
}
