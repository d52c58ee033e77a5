package fieldtype

import (
	"strings"

	"github.com/loykin/ctfwriter/internal/ctferr"
)

var reservedKeywords = map[string]struct{}{
	"align": {}, "callsite": {}, "const": {}, "char": {}, "clock": {}, "double": {},
	"enum": {}, "env": {}, "event": {}, "floating_point": {}, "float": {}, "integer": {},
	"int": {}, "long": {}, "short": {}, "signed": {}, "stream": {}, "string": {},
	"struct": {}, "trace": {}, "typealias": {}, "typedef": {}, "unsigned": {},
	"variant": {}, "void": {}, "_Bool": {}, "_Complex": {}, "_Imaginary": {},
}

// ValidateIdentifier rejects empty names and names containing a metadata
// keyword as one of their space-separated tokens.
func ValidateIdentifier(name string) error {
	if strings.TrimSpace(name) == "" {
		return ctferr.New(ctferr.KindInvalidArgument, "validate identifier", "empty name")
	}
	for _, tok := range strings.Fields(name) {
		if _, bad := reservedKeywords[tok]; bad {
			return ctferr.New(ctferr.KindInvalidArgument, "validate identifier", "%q is a reserved keyword", tok)
		}
	}
	if strings.ContainsAny(name, "\"\\\n;{}") {
		return ctferr.New(ctferr.KindInvalidArgument, "validate identifier", "%q contains metadata delimiters", name)
	}
	return nil
}

// ValidateFieldName is ValidateIdentifier restricted to C-like identifiers,
// since member names appear unquoted in metadata.
func ValidateFieldName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return ctferr.New(ctferr.KindInvalidArgument, "validate field name", "%q is not a valid field name", name)
		}
	}
	return nil
}
