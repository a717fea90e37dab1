package diagnostic

import "strings"

// Rule maps a phrase pattern found in toolchain output to an error kind.
// Match receives lower-cased text.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(text string) bool
}

func containsAll(phrases ...string) func(string) bool {
	return func(text string) bool {
		for _, p := range phrases {
			if !strings.Contains(text, p) {
				return false
			}
		}
		return true
	}
}

func containsAny(phrases ...string) func(string) bool {
	return func(text string) bool {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
}

func either(matchers ...func(string) bool) func(string) bool {
	return func(text string) bool {
		for _, m := range matchers {
			if m(text) {
				return true
			}
		}
		return false
	}
}

// DefaultCompileRules returns the ordered rule list for C compiler output.
// The semicolon rule must stay ahead of the generic syntax rule: both fire on
// "expected", and only the terminator literal tells them apart.
func DefaultCompileRules() []Rule {
	return []Rule{
		{Name: "missing_semicolon", Kind: KindMissingSemicolon, Match: containsAll("expected", "';'")},
		{Name: "missing_header", Kind: KindImport, Match: either(
			containsAll("no such file or directory", ".h"),
			containsAny("include '<", "did you forget to '#include'", "#include nested"),
		)},
		{Name: "implicit_function", Kind: KindImplicitFunctionDeclaration, Match: containsAny(
			"implicit declaration of function",
			"implicitly declaring library function",
			"call to undeclared function",
		)},
		{Name: "undeclared", Kind: KindUndeclaredVariable, Match: containsAny(
			"undeclared",
			"use of undeclared identifier",
			"not declared in this scope",
		)},
		{Name: "non_pointer_deref", Kind: KindNonPointerDereference, Match: containsAny(
			"invalid type argument of unary '*'",
			"invalid type argument of '->'",
			"indirection requires pointer operand",
			"member reference type",
		)},
		{Name: "subscript", Kind: KindSubscriptUsage, Match: containsAny(
			"subscripted value is neither array nor pointer",
			"subscripted value is not an array",
			"array subscript is not an integer",
		)},
		{Name: "format", Kind: KindFormatSpecifier, Match: containsAny(
			"format '%",
			"format specifies type",
			"conversion lacks type at end of format",
			"too many arguments for format",
			"too few arguments for format",
			"[-wformat",
		)},
		{Name: "incompatible_type", Kind: KindIncompatibleType, Match: containsAny(
			"incompatible type",
			"incompatible pointer type",
			"incompatible integer to pointer",
			"makes integer from pointer",
			"makes pointer from integer",
			"invalid operands to binary",
			"invalid initializer",
			"used struct type value where scalar is required",
			"aggregate value used where",
		)},
		{Name: "type_specifier", Kind: KindTypeSpecifier, Match: containsAny(
			"unknown type name",
			"type specifier",
			"two or more data types",
			"both 'signed' and 'unsigned'",
			"type defaults to 'int'",
		)},
		{Name: "declaration", Kind: KindVariableDeclaration, Match: containsAny(
			"redeclaration of",
			"redefinition of",
			"conflicting types for",
			"storage size of",
			"variable-sized object may not be initialized",
			"declared as",
			"has no member named",
		)},
		{Name: "function", Kind: KindFunctionDefinition, Match: containsAny(
			"too few arguments to function",
			"too many arguments to function",
			"function definition is not allowed",
			"undefined reference to",
			"void value not ignored",
			"control reaches end of non-void function",
			"return with a value, in function returning void",
			"return with no value",
			"called object",
			"expected declaration specifiers",
		)},
		{Name: "assignment", Kind: KindAssignment, Match: containsAny(
			"lvalue required",
			"assignment to expression",
			"assignment of read-only",
			"read-only variable",
			"expression is not assignable",
			"assignment",
		)},
		{Name: "syntax", Kind: KindSyntax, Match: containsAny(
			"expected",
			"stray",
			"syntax error",
			"missing terminating",
			"unterminated",
			"empty character constant",
			"before numeric constant",
		)},
		{Name: "missing_file", Kind: KindFileNotFound, Match: containsAny("no such file or directory")},
	}
}

// DefaultExecutionRules returns the ordered rule list for runtime output of
// compiled C binaries and the Python interpreter.
func DefaultExecutionRules() []Rule {
	return []Rule{
		{Name: "segfault_text", Kind: KindSegmentationFault, Match: containsAny("segmentation fault", "segfault")},
		{Name: "assertion", Kind: KindAssertion, Match: containsAny("assertionerror", "assertion `", "assertion '", "assertion failed")},
		{Name: "floating_point", Kind: KindFloatingPoint, Match: containsAny(
			"zerodivisionerror",
			"floatingpointerror",
			"floating point exception",
			"division by zero",
		)},
		{Name: "recursion", Kind: KindInfiniteLoop, Match: containsAny("recursionerror", "maximum recursion depth")},
		{Name: "name", Kind: KindUndeclaredVariable, Match: containsAny("nameerror", "unboundlocalerror")},
		{Name: "import", Kind: KindImport, Match: containsAny("modulenotfounderror", "importerror")},
		{Name: "missing_file", Kind: KindFileNotFound, Match: containsAny("filenotfounderror", "no such file or directory")},
		{Name: "subscript", Kind: KindSubscriptUsage, Match: containsAny(
			"indexerror",
			"keyerror",
			"not subscriptable",
			"index out of range",
		)},
		{Name: "format", Kind: KindFormatSpecifier, Match: containsAny(
			"not all arguments converted during string formatting",
			"not enough arguments for format string",
			"unsupported format character",
			"unknown format code",
			"invalid format specifier",
		)},
		{Name: "type", Kind: KindIncompatibleType, Match: containsAny("typeerror", "invalid literal for")},
		{Name: "attribute", Kind: KindVariableDeclaration, Match: containsAny("attributeerror")},
		{Name: "syntax", Kind: KindSyntax, Match: containsAny("syntaxerror", "indentationerror", "taberror")},
		{Name: "system", Kind: KindSystemCall, Match: containsAny(
			"permissionerror",
			"oserror",
			"blockingioerror",
			"memoryerror",
			"operation not permitted",
			"bad system call",
			"cannot allocate memory",
		)},
	}
}
