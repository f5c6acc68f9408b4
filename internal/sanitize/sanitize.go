// Package sanitize implements the code sanitizer collaborator named in
// spec.md's ambient stack alongside the rate limiter: a best-effort,
// regexp-based blocklist rejecting submissions that reach for
// system-level access before they ever reach a container. It is not a
// security boundary on its own — the sandbox (C5)'s container isolation
// is — it exists to reject obviously hostile submissions cheaply,
// before spending a container on them. Adapted from the teacher's
// packages/pkg.go Sanitizer, generalized from its three hard-coded
// languages (python, go, js) to a per-language pattern table for
// python, node, typescript, go, c, cpp, rust, and java; any other
// language gets the shared system-access patterns only.
package sanitize

import (
	"fmt"
	"regexp"
)

// RejectedError reports that a submission failed sanitization.
type RejectedError struct {
	Reason string
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Sanitizer rejects code matching a system-access blocklist or a
// per-language restricted-pattern list.
type Sanitizer struct {
	maxCodeBytes int
	system       []*regexp.Regexp
	perLanguage  map[string][]*regexp.Regexp
}

var systemPatterns = []string{
	`(?i)(subprocess|os/exec|shell_exec|child_process)`,
	`(?i)(io/ioutil|os\.Open|os\.Create|os\.Remove|unlink\(|fopen\()`,
	`(?i)(net\.Listen|net\.Dial|http\.Get|http\.Post|urllib|requests\.get|axios)`,
}

var languagePatterns = map[string][]string{
	"python": {
		`__import__`, `\b(globals|locals)\s*\(`, `\b(getattr|setattr|delattr)\s*\(`,
		`\bpip\b|\bsetuptools\b|pkg_resources`,
	},
	"node": {
		`\brequire\s*\(`, `\bprocess\b`, `\bglobal\b`, `\bBuffer\b`, `__proto__`, `\bchild_process\b`,
	},
	"typescript": {
		`\brequire\s*\(`, `\bprocess\b`, `\bglobal\b`, `\bBuffer\b`, `__proto__`, `\bchild_process\b`,
	},
	"go": {
		`\bunsafe\.`, `\breflect\.`, `\bplugin\.`, `\bsyscall\.`, `\bdebug\.`, `\bos\.Exit\b`,
	},
	"c": {
		`\bsystem\s*\(`, `\bfork\s*\(`, `\bexecve?\s*\(`,
	},
	"cpp": {
		`\bsystem\s*\(`, `\bfork\s*\(`, `\bexecve?\s*\(`,
	},
	"rust": {
		`\bunsafe\s*\{`, `std::process::Command`,
	},
	"java": {
		`Runtime\.getRuntime`, `ProcessBuilder`,
	},
}

// New builds a Sanitizer rejecting submissions over maxCodeBytes and
// matching the blocklists above.
func New(maxCodeBytes int) *Sanitizer {
	s := &Sanitizer{
		maxCodeBytes: maxCodeBytes,
		system:       compileAll(systemPatterns),
		perLanguage:  make(map[string][]*regexp.Regexp, len(languagePatterns)),
	}
	for lang, patterns := range languagePatterns {
		s.perLanguage[lang] = compileAll(patterns)
	}
	return s
}

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// Check rejects code that is too long or matches a blocklisted pattern
// for language. language is matched exactly against the pattern table's
// canonical names (no alias resolution or case folding); a language not
// in the table is checked against the shared system-access patterns only.
func (s *Sanitizer) Check(code []byte, language string) error {
	if len(code) > s.maxCodeBytes {
		return &RejectedError{
			Reason: "code length exceeds maximum limit",
			Detail: fmt.Sprintf("max %d bytes allowed", s.maxCodeBytes),
		}
	}

	if match := firstMatch(s.system, code); match != nil {
		return &RejectedError{
			Reason: "prohibited system-level access detected",
			Detail: match.String(),
		}
	}

	if match := firstMatch(s.perLanguage[language], code); match != nil {
		return &RejectedError{
			Reason: fmt.Sprintf("prohibited %s pattern detected", language),
			Detail: match.String(),
		}
	}

	return nil
}

func firstMatch(patterns []*regexp.Regexp, code []byte) *regexp.Regexp {
	for _, p := range patterns {
		if p.Match(code) {
			return p
		}
	}
	return nil
}
