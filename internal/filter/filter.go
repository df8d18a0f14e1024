// Package filter evaluates field/operator/value conditions against an
// item's declared fields. Conditions combine with AND only; operator
// validity is checked against the adapter's item field declarations at
// configuration time, never during evaluation.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/source"
)

// Validate checks each condition against the declared item fields: the
// referenced field must exist and the operator must be valid for the
// field's type. A violation is a ConfigError.
func Validate(conditions []model.FilterCondition, itemFields []model.ItemField) error {
	byKey := make(map[string]model.ItemField, len(itemFields))
	for _, f := range itemFields {
		byKey[f.Key] = f
	}

	for _, c := range conditions {
		f, ok := byKey[c.Field]
		if !ok {
			return &source.ConfigError{
				Message: fmt.Sprintf("filter references undeclared field %q", c.Field),
			}
		}
		if !model.OperatorValidFor(f.Type, c.Operator) {
			return &source.ConfigError{
				Message: fmt.Sprintf(
					"operator %q is not valid for field %q of type %s",
					c.Operator, c.Field, f.Type,
				),
			}
		}
		if c.Operator == model.OpRegex {
			if _, err := regexp.Compile(asString(c.Value)); err != nil {
				return &source.ConfigError{
					Message: fmt.Sprintf("invalid regex for field %q: %v", c.Field, err),
				}
			}
		}
	}

	return nil
}

// Resolve picks the filter list that applies to a source: a user-configured
// filter overrides the adapter's default filter, which overrides no
// filtering at all.
func Resolve(cfg model.SourceConfig, meta model.Metadata) []model.FilterCondition {
	if len(cfg.Filter) > 0 {
		return cfg.Filter
	}
	return meta.DefaultFilter
}

// Matches reports whether the item fields satisfy every condition.
// An empty condition list passes everything.
func Matches(conditions []model.FilterCondition, fields map[string]any) bool {
	for _, c := range conditions {
		if !matchOne(c, fields) {
			return false
		}
	}
	return true
}

// matchOne evaluates a single condition. A missing field satisfies only
// the negative operators (not_equals, not_in).
func matchOne(c model.FilterCondition, fields map[string]any) bool {
	v, present := fields[c.Field]
	if !present {
		return c.Operator == model.OpNotEquals || c.Operator == model.OpNotIn
	}

	switch c.Operator {
	case model.OpEquals:
		if b, ok := v.(bool); ok {
			return b == asBool(c.Value)
		}
		if n, ok := asNumber(v); ok {
			if want, ok := asNumber(c.Value); ok {
				return n == want
			}
		}
		return asString(v) == asString(c.Value)

	case model.OpNotEquals:
		inverse := model.FilterCondition{Field: c.Field, Operator: model.OpEquals, Value: c.Value}
		return !matchOne(inverse, fields)

	case model.OpContains:
		return strings.Contains(asString(v), asString(c.Value))

	case model.OpStartsWith:
		return strings.HasPrefix(asString(v), asString(c.Value))

	case model.OpEndsWith:
		return strings.HasSuffix(asString(v), asString(c.Value))

	case model.OpRegex:
		re, err := regexp.Compile(asString(c.Value))
		if err != nil {
			return false
		}
		return re.MatchString(asString(v))

	case model.OpIn:
		return containsValue(c.Value, asString(v))

	case model.OpNotIn:
		return !containsValue(c.Value, asString(v))

	case model.OpGT, model.OpGTE, model.OpLT, model.OpLTE:
		n, ok := asNumber(v)
		if !ok {
			return false
		}
		want, ok := asNumber(c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case model.OpGT:
			return n > want
		case model.OpGTE:
			return n >= want
		case model.OpLT:
			return n < want
		default:
			return n <= want
		}

	default:
		return false
	}
}

// containsValue reports whether list (a slice or comma-separated string)
// contains the given string value.
func containsValue(list any, value string) bool {
	switch l := list.(type) {
	case []string:
		for _, s := range l {
			if s == value {
				return true
			}
		}
	case []any:
		for _, e := range l {
			if asString(e) == value {
				return true
			}
		}
	case string:
		for _, s := range strings.Split(l, ",") {
			if strings.TrimSpace(s) == value {
				return true
			}
		}
	}
	return false
}

// asString renders a field or condition value as a string for comparison.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asNumber coerces a value to float64 when it is numeric or a numeric
// string.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// asBool coerces a value to bool.
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}
