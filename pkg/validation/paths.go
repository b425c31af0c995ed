package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// ErrInvalidPath is returned by NormalizePath for empty paths or paths with
// empty segments.
var ErrInvalidPath = errors.New("invalid field path")

// NormalizePath trims p, applies Unicode NFC and checks that every dot
// separated segment is non-empty. Two spellings of the same path always
// normalise to the same key.
func NormalizePath(p string) (string, error) {
	p = norm.NFC.String(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// NormalizeValue converts v into the JSON data model (maps, slices,
// json.Number, string, bool, nil) by round-tripping it through encoding/json.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Expand turns a flat dot-path map into a nested JSON document. Paths are
// applied in lexical order so a deeper path is merged into, or replaces, the
// value stored at its prefix. The input map is never modified.
//
// Values that cannot be represented as JSON, or that cannot be placed because
// an array index is out of range, are reported as FieldErrors rather than
// aborting the expansion.
func Expand(fields map[string]any) (map[string]any, []contracts.FieldError) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(map[string]any)
	var errs []contracts.FieldError
	for _, path := range keys {
		value, err := NormalizeValue(fields[path])
		if err != nil {
			errs = append(errs, contracts.FieldError{
				Path:     path,
				Code:     contracts.CodeInvalidType,
				Message:  "value is not representable as JSON",
				Received: fmt.Sprintf("%T", fields[path]),
			})
			continue
		}
		if err := place(doc, strings.Split(path, "."), value); err != nil {
			errs = append(errs, contracts.FieldError{
				Path:    path,
				Code:    contracts.CodeInvalidType,
				Message: err.Error(),
			})
		}
	}
	return doc, errs
}

func place(doc map[string]any, segs []string, value any) error {
	var parent any = doc
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := parent.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			child := node[seg]
			if !isContainer(child) {
				child = make(map[string]any)
				node[seg] = child
			}
			parent = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("segment %q does not index the array at %s", seg, strings.Join(segs[:i], "."))
			}
			if last {
				node[idx] = value
				return nil
			}
			if !isContainer(node[idx]) {
				node[idx] = make(map[string]any)
			}
			parent = node[idx]
		}
	}
	return nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// pointerSegments splits a JSON pointer as produced by the constraint engine
// (RFC 6901 escaping plus URL path escaping) into raw segments.
func pointerSegments(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return nil
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			p = u
		}
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

// pointerToPath converts an instance location into a dot-path.
func pointerToPath(ptr string) string {
	return strings.Join(pointerSegments(ptr), ".")
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// lookup resolves an instance location against doc.
func lookup(doc any, ptr string) (any, bool) {
	cur := doc
	for _, seg := range pointerSegments(ptr) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// withinAny reports whether path equals one of roots or lies beneath one.
func withinAny(path string, roots []string) bool {
	for _, r := range roots {
		if path == r || strings.HasPrefix(path, r+".") {
			return true
		}
	}
	return false
}
