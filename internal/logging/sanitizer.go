package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log output. Message text flows
// through logs freely; only token-shaped material is masked.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Slack bot/app/user tokens
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		// Slack app-level tokens
		`xapp-[0-9]-[A-Z0-9]+-[0-9]+-[0-9a-f]{10,}`,
		// Slack webhook URLs
		`hooks\.slack\.com/services/[A-Za-z0-9/]+`,
		// OpenAI keys
		`sk-[A-Za-z0-9_-]{20,}`,
		// Postgres DSN passwords
		`(?i)(password|pwd)=[^\s&"']+`,
		// Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts credentials from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern registers a custom redaction pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
