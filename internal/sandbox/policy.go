package sandbox

import (
	"strings"

	appErr "codelab/pkg/errors"
)

// Policy is the per-language list of constructs rejected before execution.
// The check is a plain substring test over the source text.
type Policy struct {
	blocked map[Language][]string
}

// DefaultPolicy blocks interactive input calls.
func DefaultPolicy() Policy {
	return NewPolicy(map[Language][]string{
		LanguageC:      {"scanf", "gets", "getch"},
		LanguagePython: {"input", "exec"},
	})
}

// NewPolicy copies the given blocked lists.
func NewPolicy(blocked map[Language][]string) Policy {
	p := Policy{blocked: make(map[Language][]string, len(blocked))}
	for lang, constructs := range blocked {
		p.blocked[lang] = append([]string(nil), constructs...)
	}
	return p
}

// Check returns a BlockedConstruct error naming the first listed construct
// found in source.
func (p Policy) Check(source string, lang Language) error {
	for _, construct := range p.blocked[lang] {
		if strings.Contains(source, construct) {
			return appErr.BlockedConstructError(lang.String(), construct)
		}
	}
	return nil
}
