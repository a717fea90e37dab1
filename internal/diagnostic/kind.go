// Package diagnostic maps raw compiler and interpreter output onto a closed
// taxonomy of error kinds and extracts the offending source line.
//
// Everything in this package is a pure function of its input text.
package diagnostic

import "syscall"

// Kind identifies one class of compile or runtime failure.
type Kind string

const (
	KindMissingSemicolon            Kind = "MissingSemicolonError"
	KindUndeclaredVariable          Kind = "UndeclaredVariableError"
	KindIncompatibleType            Kind = "IncompatibleTypeError"
	KindVariableDeclaration         Kind = "VariableDeclarationError"
	KindTypeSpecifier               Kind = "TypeSpecifierError"
	KindFunctionDefinition          Kind = "FunctionDefinitionError"
	KindAssignment                  Kind = "AssignmentError"
	KindImplicitFunctionDeclaration Kind = "ImplicitFunctionDeclarationError"
	KindNonPointerDereference       Kind = "NonPointerDereferenceError"
	KindFileNotFound                Kind = "FileNotFoundError"
	KindSubscriptUsage              Kind = "SubscriptUsageError"
	KindImport                      Kind = "ImportError"
	KindFormatSpecifier             Kind = "FormatSpecifierError"
	KindSegmentationFault           Kind = "SegmentationFaultError"
	KindSyntax                      Kind = "SyntaxError"
	KindFloatingPoint               Kind = "FloatingPointError"
	KindAssertion                   Kind = "AssertionError"
	KindInfiniteLoop                Kind = "InfiniteLoopError"
	KindSystemCall                  Kind = "SystemCallError"
	KindFileSystem                  Kind = "FileSystemError"
	KindCompilation                 Kind = "CompilationError"
	KindExecution                   Kind = "ExecutionError"
)

var kinds = [...]Kind{
	KindMissingSemicolon,
	KindUndeclaredVariable,
	KindIncompatibleType,
	KindVariableDeclaration,
	KindTypeSpecifier,
	KindFunctionDefinition,
	KindAssignment,
	KindImplicitFunctionDeclaration,
	KindNonPointerDereference,
	KindFileNotFound,
	KindSubscriptUsage,
	KindImport,
	KindFormatSpecifier,
	KindSegmentationFault,
	KindSyntax,
	KindFloatingPoint,
	KindAssertion,
	KindInfiniteLoop,
	KindSystemCall,
	KindFileSystem,
	KindCompilation,
	KindExecution,
}

// Kinds returns every member of the taxonomy in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds[:])
	return out
}

// ParseKind resolves a stored kind string.
func ParseKind(value string) (Kind, bool) {
	for _, k := range kinds {
		if string(k) == value {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string {
	return string(k)
}

// Termination describes how a process ended beyond its exit code.
type Termination struct {
	Signal         syscall.Signal
	TimedOut       bool
	OutputExceeded bool
}
