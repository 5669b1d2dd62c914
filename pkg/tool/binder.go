package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// MaxFuzzyDistance is the largest edit distance accepted when matching a
// supplied key to a declared parameter.
const MaxFuzzyDistance = 2

// Bind maps model-supplied arguments onto def's declared parameters.
//
// Keys are matched exactly first, then through case, underscore and space
// variants, then by edit distance. Values are coerced to the declared type.
// Every failure is collected into a single *BindingError; on error no Args
// are returned.
func Bind(def Definition, supplied map[string]Value) (Args, error) {
	b := newBinding(supplied)

	matched := make([]string, len(def.Parameters))
	for i, p := range def.Parameters {
		matched[i] = b.exact(p)
	}
	for i, p := range def.Parameters {
		if matched[i] == "" {
			matched[i] = b.fuzzy(p)
		}
	}

	args := make(Args, len(def.Parameters))
	var errs []error
	for i, p := range def.Parameters {
		key := matched[i]
		var v Value
		if key != "" {
			v = supplied[key]
		}
		if key == "" || v.IsNull() {
			if p.Required {
				errs = append(errs, &MissingRequiredParameterError{Name: p.ExternalName(), Available: sortedKeys(supplied)})
				continue
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		out, err := coerce(p, p.ExternalName(), v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		args[p.Name] = out
	}

	if len(errs) > 0 {
		return nil, &BindingError{Tool: def.Name, Errors: errs}
	}
	return args, nil
}

type binding struct {
	keys       []string          // supplied keys, lexical order
	normalized map[string]string // supplied key -> normalized form
	claimed    map[string]bool
}

func newBinding(supplied map[string]Value) *binding {
	b := &binding{
		keys:       sortedKeys(supplied),
		normalized: make(map[string]string, len(supplied)),
		claimed:    make(map[string]bool, len(supplied)),
	}
	for _, k := range b.keys {
		b.normalized[k] = normalizeKey(k)
	}
	return b
}

func (b *binding) claim(key string) string {
	b.claimed[key] = true
	return key
}

// exact tries the declared name, its snake_case form and their case,
// underscore-stripped and space-substituted variants.
func (b *binding) exact(p ParamSpec) string {
	external := p.ExternalName()
	candidates := []string{
		external,
		p.Name,
		strings.ToLower(p.Name),
		strings.ToUpper(p.Name),
		strings.ToUpper(external),
		strings.ReplaceAll(external, "_", ""),
		strings.ReplaceAll(external, "_", " "),
	}
	for _, c := range candidates {
		for _, k := range b.keys {
			if !b.claimed[k] && k == c {
				return b.claim(k)
			}
		}
	}
	for _, k := range b.keys {
		if !b.claimed[k] && b.normalized[k] == external {
			return b.claim(k)
		}
	}
	stripped := strings.ReplaceAll(external, "_", "")
	for _, k := range b.keys {
		if !b.claimed[k] && strings.ReplaceAll(b.normalized[k], "_", "") == stripped {
			return b.claim(k)
		}
	}
	return ""
}

// fuzzy picks the closest unclaimed key within MaxFuzzyDistance.
// Ties resolve to the lexically first key.
func (b *binding) fuzzy(p ParamSpec) string {
	external := p.ExternalName()
	best, bestDist := "", MaxFuzzyDistance+1
	for _, k := range b.keys {
		if b.claimed[k] {
			continue
		}
		d := levenshtein.ComputeDistance(external, b.normalized[k])
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return ""
	}
	return b.claim(best)
}

// normalizeKey trims and lower-cases s and collapses runs of whitespace,
// underscores and hyphens into a single underscore.
func normalizeKey(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			sep = true
			continue
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func coerce(p ParamSpec, name string, v Value) (any, error) {
	fail := func(expected string) error {
		return &ParameterConversionError{Param: name, Value: v.String(), Expected: expected}
	}

	if len(p.Enum) > 0 && (p.Type == TypeString || p.Type == "") {
		s := v.String()
		for _, option := range p.Enum {
			if strings.EqualFold(strings.TrimSpace(s), option) {
				return option, nil
			}
		}
		return nil, fail("one of [" + strings.Join(p.Enum, ", ") + "]")
	}

	switch p.Type {
	case TypeString, "":
		return v.String(), nil

	case TypeInteger:
		if n, ok := v.Int64(); ok {
			return n, nil
		}
		if s, ok := v.Str(); ok {
			s = strings.TrimSpace(s)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				if n, ok := wholeInt64(f); ok {
					return n, nil
				}
			}
		}
		return nil, fail("integer")

	case TypeNumber:
		if f, ok := v.Float64(); ok {
			return f, nil
		}
		if s, ok := v.Str(); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, nil
			}
		}
		return nil, fail("number")

	case TypeBoolean:
		if b, ok := v.Boolean(); ok {
			return b, nil
		}
		if f, ok := v.Float64(); ok {
			return f != 0, nil
		}
		if s, ok := v.Str(); ok {
			s = strings.TrimSpace(s)
			switch {
			case strings.EqualFold(s, "true"):
				return true, nil
			case strings.EqualFold(s, "false"):
				return false, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f != 0, nil
			}
		}
		return nil, fail("boolean")

	case TypeArray:
		items := v.Items()
		if v.Kind() == KindString {
			parsed, err := parseJSONText(v)
			if err != nil || parsed.Kind() != KindArray {
				return nil, fail("array")
			}
			items = parsed.Items()
		} else if v.Kind() != KindArray {
			return nil, fail("array")
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			if p.Items == nil {
				out = append(out, item.Any())
				continue
			}
			elem, err := coerce(*p.Items, fmt.Sprintf("%s[%d]", name, i), item)
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil

	case TypeObject:
		obj := v
		if v.Kind() == KindString {
			parsed, err := parseJSONText(v)
			if err != nil {
				return nil, fail("object")
			}
			obj = parsed
		}
		if obj.Kind() != KindObject {
			return nil, fail("object")
		}
		return obj.Any(), nil
	}

	return nil, fail(string(p.Type))
}

func parseJSONText(v Value) (Value, error) {
	s, _ := v.Str()
	var parsed Value
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &parsed); err != nil {
		return Null(), err
	}
	return parsed, nil
}
