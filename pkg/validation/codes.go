package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// keywordCodes maps every assertion keyword the constraint engine can report
// to exactly one error code. "false" stands for a boolean false subschema.
var keywordCodes = map[string]contracts.ErrorCode{
	"required":          contracts.CodeRequired,
	"dependentRequired": contracts.CodeRequired,
	"dependencies":      contracts.CodeRequired,

	"type": contracts.CodeInvalidType,

	"format":           contracts.CodeInvalidFormat,
	"contentEncoding":  contracts.CodeInvalidFormat,
	"contentMediaType": contracts.CodeInvalidFormat,
	"contentSchema":    contracts.CodeInvalidFormat,

	"minLength": contracts.CodeTooShort,
	"maxLength": contracts.CodeTooLong,

	"minimum":          contracts.CodeOutOfRange,
	"maximum":          contracts.CodeOutOfRange,
	"exclusiveMinimum": contracts.CodeOutOfRange,
	"exclusiveMaximum": contracts.CodeOutOfRange,
	"multipleOf":       contracts.CodeOutOfRange,
	"minProperties":    contracts.CodeOutOfRange,
	"maxProperties":    contracts.CodeOutOfRange,

	"enum":                  contracts.CodeInvalidValue,
	"const":                 contracts.CodeInvalidValue,
	"not":                   contracts.CodeInvalidValue,
	"oneOf":                 contracts.CodeInvalidValue,
	"anyOf":                 contracts.CodeInvalidValue,
	"additionalProperties":  contracts.CodeInvalidValue,
	"unevaluatedProperties": contracts.CodeInvalidValue,
	"propertyNames":         contracts.CodeInvalidValue,
	"false":                 contracts.CodeInvalidValue,

	"pattern": contracts.CodePatternMismatch,

	"minItems":         contracts.CodeArrayLength,
	"maxItems":         contracts.CodeArrayLength,
	"minContains":      contracts.CodeArrayLength,
	"maxContains":      contracts.CodeArrayLength,
	"contains":         contracts.CodeArrayLength,
	"items":            contracts.CodeArrayLength,
	"prefixItems":      contracts.CodeArrayLength,
	"additionalItems":  contracts.CodeArrayLength,
	"unevaluatedItems": contracts.CodeArrayLength,

	"uniqueItems": contracts.CodeDuplicateValue,
}

// namedContainers are keywords whose next pointer segment is a property or
// definition name rather than a keyword.
var namedContainers = map[string]bool{
	"properties":        true,
	"patternProperties": true,
	"dependentSchemas":  true,
	"dependentRequired": true,
	"dependencies":      true,
	"$defs":             true,
	"definitions":       true,
}

// codeFor returns the error code for keyword and whether the keyword is in
// the table.
func codeFor(keyword string) (contracts.ErrorCode, bool) {
	if c, ok := keywordCodes[keyword]; ok {
		return c, true
	}
	return contracts.CodeInvalidValue, false
}

// keywordOf extracts the failing keyword from a keyword location such as
// "/properties/name/minLength" or "/dependentRequired/card/0". A location
// that ends on a subschema name is a boolean false subschema.
func keywordOf(loc string) string {
	kw := "false"
	segs := pointerSegments(loc)
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		if namedContainers[seg] {
			kw = seg
			i++
			if i == len(segs)-1 && seg != "dependentRequired" && seg != "dependencies" {
				kw = "false"
			}
			continue
		}
		if isIndex(seg) {
			continue
		}
		kw = seg
	}
	return kw
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	quotedRe   = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)
	boundRe    = regexp.MustCompile(`must be ([<>]=? ?[^,\s]+)`)
	typeRe     = regexp.MustCompile(`^expected (.+), but got (\S+)$`)
	countRe    = regexp.MustCompile(`^(minimum|maximum) (\d+) (items|properties)`)
	multipleRe = regexp.MustCompile(`not multipleOf (\S+)$`)
)

// quotedNames returns every single-quoted name in an engine message, with
// the engine's escaping undone.
func quotedNames(msg string) []string {
	var names []string
	for _, m := range quotedRe.FindAllStringSubmatch(msg, -1) {
		s := strings.ReplaceAll(m[1], `\'`, `'`)
		s = strings.ReplaceAll(s, `\\`, `\`)
		names = append(names, s)
	}
	return names
}

// expectedFor derives the Expected hint of a FieldError from the raw engine
// message for keyword.
func expectedFor(keyword, msg string) string {
	switch keyword {
	case "type":
		if m := typeRe.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
	case "minLength", "maxLength", "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "minContains", "maxContains":
		if m := boundRe.FindStringSubmatch(msg); m != nil {
			return strings.TrimSuffix(m[1], ",")
		}
	case "minItems", "maxItems", "minProperties", "maxProperties":
		if m := countRe.FindStringSubmatch(msg); m != nil {
			op := ">="
			if m[1] == "maximum" {
				op = "<="
			}
			return op + " " + m[2] + " " + m[3]
		}
	case "multipleOf":
		if m := multipleRe.FindStringSubmatch(msg); m != nil {
			return "multiple of " + m[1]
		}
	case "pattern", "format", "contentMediaType":
		if names := quotedNames(msg); len(names) > 0 {
			return names[len(names)-1]
		}
	case "enum", "const":
		if rest, ok := strings.CutPrefix(msg, "value must be "); ok {
			return rest
		}
	case "uniqueItems":
		return "unique items"
	}
	return ""
}

// receivedFor renders the offending instance value for a FieldError.
func receivedFor(keyword, msg string, value any, found bool) string {
	if keyword == "type" {
		if m := typeRe.FindStringSubmatch(msg); m != nil {
			return m[2]
		}
	}
	if !found {
		return ""
	}
	switch v := value.(type) {
	case nil:
		return "null"
	case []any:
		return "array of " + strconv.Itoa(len(v))
	case map[string]any:
		return "object"
	case string:
		return truncate(v, maxReceived)
	default:
		return fmt.Sprint(v)
	}
}

// maxReceived bounds the echo of a rejected string, in bytes.
const maxReceived = 64

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
