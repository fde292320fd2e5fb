package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/s3db-io/s3db/pkg/errs"
)

// patternCache memoizes compiled validator regexps across records.
var patternCache sync.Map // pattern string -> *regexp.Regexp

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// ApplyDefaults returns a copy of flat (dotted-path keyed) data with
// version defaults filled in for absent fields.
func (v *Version) ApplyDefaults(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, val := range flat {
		out[k] = val
	}
	for _, p := range v.paths {
		if _, present := out[p.Name]; !present && p.Attr.Default != nil {
			out[p.Name] = p.Attr.Default
		}
	}
	return out
}

// Validate checks flat (dotted-path keyed) data against the version.
// It reports every failure rather than stopping at the first, so callers
// can surface a complete validationErrors list.
func (v *Version) Validate(flat map[string]any) []errs.FieldError {
	var fields []errs.FieldError

	for _, p := range v.paths {
		val, present := flat[p.Name]
		if !present || val == nil {
			if p.Attr.Required {
				fields = append(fields, errs.FieldError{
					Field:   p.Name,
					Rule:    "required",
					Message: "field is required",
				})
			}
			continue
		}
		fields = append(fields, validateValue(p.Name, p.Attr, val)...)
	}

	return fields
}

func validateValue(path string, attr *Attribute, val any) []errs.FieldError {
	var out []errs.FieldError

	fail := func(rule, msg string) {
		out = append(out, errs.FieldError{Field: path, Rule: rule, Message: msg})
	}

	switch attr.Type {
	case TypeString, TypeSecret:
		s, ok := val.(string)
		if !ok {
			fail("type", fmt.Sprintf("expected string, got %T", val))
			return out
		}
		out = append(out, validateString(path, attr, s)...)

	case TypeURL:
		s, ok := val.(string)
		if !ok {
			fail("type", fmt.Sprintf("expected url string, got %T", val))
			return out
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			fail("url", "not an absolute URL")
		}
		out = append(out, validateString(path, attr, s)...)

	case TypeEmail:
		s, ok := val.(string)
		if !ok {
			fail("type", fmt.Sprintf("expected email string, got %T", val))
			return out
		}
		if _, err := mail.ParseAddress(s); err != nil {
			fail("email", "not a valid email address")
		}
		out = append(out, validateString(path, attr, s)...)

	case TypeNumber:
		n, ok := toFloat(val)
		if !ok {
			fail("type", fmt.Sprintf("expected number, got %T", val))
			return out
		}
		if attr.Min != nil && n < *attr.Min {
			fail("min", fmt.Sprintf("must be >= %v", *attr.Min))
		}
		if attr.Max != nil && n > *attr.Max {
			fail("max", fmt.Sprintf("must be <= %v", *attr.Max))
		}

	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			fail("type", fmt.Sprintf("expected boolean, got %T", val))
		}

	case TypeDate:
		switch d := val.(type) {
		case time.Time:
		case string:
			if _, err := parseDate(d); err != nil {
				fail("date", "not an RFC 3339 timestamp or YYYY-MM-DD date")
			}
		default:
			fail("type", fmt.Sprintf("expected date, got %T", val))
		}

	case TypeObject:
		if _, ok := val.(map[string]any); !ok {
			fail("type", fmt.Sprintf("expected object, got %T", val))
		}

	case TypeArray:
		switch val.(type) {
		case []any, []string, []float64:
		default:
			fail("type", fmt.Sprintf("expected array, got %T", val))
		}
	}

	return out
}

func validateString(path string, attr *Attribute, s string) []errs.FieldError {
	var out []errs.FieldError
	fail := func(rule, msg string) {
		out = append(out, errs.FieldError{Field: path, Rule: rule, Message: msg})
	}

	if attr.MinLength != nil && len(s) < *attr.MinLength {
		fail("minLength", fmt.Sprintf("must be at least %d characters", *attr.MinLength))
	}
	if attr.MaxLength != nil && len(s) > *attr.MaxLength {
		fail("maxLength", fmt.Sprintf("must be at most %d characters", *attr.MaxLength))
	}
	if attr.Pattern != "" {
		re, err := compilePattern(attr.Pattern)
		if err != nil {
			fail("pattern", "invalid pattern in schema")
		} else if !re.MatchString(s) {
			fail("pattern", fmt.Sprintf("does not match %q", attr.Pattern))
		}
	}
	if len(attr.Enum) > 0 {
		found := false
		for _, e := range attr.Enum {
			if s == e {
				found = true
				break
			}
		}
		if !found {
			fail("enum", fmt.Sprintf("must be one of %v", attr.Enum))
		}
	}
	return out
}

func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// CoerceValue renders a validated value into its canonical wire string:
// RFC 3339 for dates, shortest decimal form for numbers, "true"/"false"
// for booleans, JSON for objects and arrays, raw for strings.
func CoerceValue(attr *Attribute, val any) (string, error) {
	switch attr.Type {
	case TypeString, TypeSecret, TypeURL, TypeEmail:
		s, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", val)
		}
		return s, nil

	case TypeNumber:
		n, ok := toFloat(val)
		if !ok {
			return "", fmt.Errorf("expected number, got %T", val)
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10), nil
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil

	case TypeBoolean:
		b, ok := val.(bool)
		if !ok {
			return "", fmt.Errorf("expected boolean, got %T", val)
		}
		return strconv.FormatBool(b), nil

	case TypeDate:
		switch d := val.(type) {
		case time.Time:
			return d.UTC().Format(time.RFC3339), nil
		case string:
			t, err := parseDate(d)
			if err != nil {
				return "", err
			}
			return t.UTC().Format(time.RFC3339), nil
		default:
			return "", fmt.Errorf("expected date, got %T", val)
		}

	case TypeObject, TypeArray:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	return "", fmt.Errorf("unknown type %q", attr.Type)
}

// ParseValue reverses CoerceValue.
func ParseValue(attr *Attribute, s string) (any, error) {
	switch attr.Type {
	case TypeString, TypeSecret, TypeURL, TypeEmail:
		return s, nil

	case TypeNumber:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", s, err)
		}
		return n, nil

	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", s, err)
		}
		return b, nil

	case TypeDate:
		t, err := parseDate(s)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", s, err)
		}
		return t.UTC().Format(time.RFC3339), nil

	case TypeObject:
		var out map[string]any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parse object: %w", err)
		}
		return out, nil

	case TypeArray:
		var out []any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parse array: %w", err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unknown type %q", attr.Type)
}

// FlattenData rewrites nested record data into dotted-path keys, stopping
// at leaves the version declares. Undeclared nested maps stay intact under
// their top-level key so strict layers can reject them explicitly.
func (v *Version) FlattenData(data map[string]any) map[string]any {
	flat := make(map[string]any, len(data))
	flattenInto("", data, v, flat)
	return flat
}

func flattenInto(prefix string, data map[string]any, v *Version, flat map[string]any) {
	for k, val := range data {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			// Descend only through declared object groups; an object leaf
			// (declared without children) stores as one value.
			if attr := v.Attributes.Leaf(path); attr != nil && attr.Type == TypeObject && len(attr.Attributes) > 0 {
				flattenInto(path, nested, v, flat)
				continue
			}
			if attr := v.Attributes.Leaf(path); attr == nil && hasDeclaredChildren(v, path) {
				flattenInto(path, nested, v, flat)
				continue
			}
		}
		flat[path] = val
	}
}

// hasDeclaredChildren covers the case where the group itself is not a leaf
// but some declared path passes through it.
func hasDeclaredChildren(v *Version, path string) bool {
	prefix := path + "."
	for _, p := range v.paths {
		if strings.HasPrefix(p.Name, prefix) {
			return true
		}
	}
	return false
}

// UnflattenData rebuilds nested maps from dotted-path keys.
func UnflattenData(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for path, val := range flat {
		parts := strings.Split(path, ".")
		node := out
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = val
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}
	return out
}
