package symbolizer

import (
	"strconv"
	"strings"
)

// Demangle best-effort decodes an Itanium C++ mangled name (the "_Z..."
// convention gcc/clang use) into a readable form. It only unpacks the
// function's name components and drops the encoded parameter types
// undecoded; it does not attempt templates, operators, or compression
// references. Anything it can't confidently parse is returned unchanged.
func Demangle(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return name
	}
	rest := name[2:]

	if strings.HasPrefix(rest, "N") {
		parts, tail, ok := parseNestedName(rest[1:])
		if !ok {
			return name
		}
		_ = tail // remaining chars (args/template) left undecoded
		return strings.Join(parts, "::")
	}

	if n, _, ok := parseLengthPrefixed(rest); ok {
		return n // remaining chars (args) left undecoded
	}

	return name
}

// parseLengthPrefixed consumes one <length><chars> component, e.g. "3foo",
// returning "foo" and whatever text remains.
func parseLengthPrefixed(s string) (name string, rest string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 || i+n > len(s) {
		return "", s, false
	}
	return s[i : i+n], s[i+n:], true
}

// parseNestedName consumes a sequence of length-prefixed components up to
// the terminating "E" of an Itanium N...E nested-name, e.g. "3foo3barE"
// -> ["foo", "bar"].
func parseNestedName(s string) (parts []string, rest string, ok bool) {
	for {
		if strings.HasPrefix(s, "E") {
			return parts, s[1:], true
		}
		name, tail, ok := parseLengthPrefixed(s)
		if !ok {
			return parts, s, false
		}
		parts = append(parts, name)
		s = tail
		if s == "" {
			return parts, s, false
		}
	}
}
