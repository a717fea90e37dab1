package diagnostic

import (
	"strings"
	"syscall"
)

// Classifier applies ordered rule lists to diagnostic text. The first
// matching rule decides the kind.
type Classifier struct {
	compileRules   []Rule
	executionRules []Rule
}

// NewClassifier creates a classifier with the default rule lists.
func NewClassifier() *Classifier {
	return NewClassifierWithRules(DefaultCompileRules(), DefaultExecutionRules())
}

// NewClassifierWithRules creates a classifier with caller-provided rules.
// The slices are copied.
func NewClassifierWithRules(compileRules, executionRules []Rule) *Classifier {
	c := &Classifier{
		compileRules:   make([]Rule, len(compileRules)),
		executionRules: make([]Rule, len(executionRules)),
	}
	copy(c.compileRules, compileRules)
	copy(c.executionRules, executionRules)
	return c
}

// ClassifyCompileError classifies compiler output. Only the first error
// block is considered so that cascading follow-up errors do not override
// the root cause.
func (c *Classifier) ClassifyCompileError(diagnostic string) Kind {
	text := diagnostic
	if block, ok := firstErrorBlock(diagnostic); ok {
		text = block
	}
	if kind, ok := match(c.compileRules, text); ok {
		return kind
	}
	return KindCompilation
}

// ClassifyExecutionError classifies a failed run. Signals and sandbox
// limits take precedence over the captured text.
func (c *Classifier) ClassifyExecutionError(message string, term Termination) Kind {
	switch term.Signal {
	case syscall.SIGSEGV, syscall.SIGBUS:
		return KindSegmentationFault
	}
	if term.TimedOut || term.OutputExceeded {
		return KindInfiniteLoop
	}
	switch term.Signal {
	case syscall.SIGXCPU, syscall.SIGXFSZ:
		return KindInfiniteLoop
	case syscall.SIGFPE:
		return KindFloatingPoint
	case syscall.SIGSYS:
		return KindSystemCall
	}
	if kind, ok := match(c.executionRules, message); ok {
		return kind
	}
	return KindExecution
}

// RuleNames lists the compile and execution rule names in evaluation order.
func (c *Classifier) RuleNames() (compile []string, execution []string) {
	for _, r := range c.compileRules {
		compile = append(compile, r.Name)
	}
	for _, r := range c.executionRules {
		execution = append(execution, r.Name)
	}
	return compile, execution
}

// quoteFolder maps the typographic quotes gcc prints in UTF-8 locales to the
// ASCII quotes the rules are written with.
var quoteFolder = strings.NewReplacer("‘", "'", "’", "'", "“", "\"", "”", "\"")

func match(rules []Rule, text string) (Kind, bool) {
	lowered := strings.ToLower(quoteFolder.Replace(text))
	for _, r := range rules {
		if r.Match != nil && r.Match(lowered) {
			return r.Kind, true
		}
	}
	return "", false
}
