package model

// Filter operators. Validity depends on the declared type of the field a
// condition references; see OperatorsForType.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpGT         = "gt"
	OpGTE        = "gte"
	OpLT         = "lt"
	OpLTE        = "lte"
)

// FilterCondition is a single field/operator/value predicate. Conditions
// combine with AND only.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// operatorsByType maps each item field type to its valid operators.
var operatorsByType = map[string][]string{
	ItemFieldString:  {OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex},
	ItemFieldEnum:    {OpEquals, OpNotEquals, OpIn, OpNotIn},
	ItemFieldNumber:  {OpEquals, OpNotEquals, OpGT, OpGTE, OpLT, OpLTE},
	ItemFieldBoolean: {OpEquals, OpNotEquals},
}

// OperatorsForType returns the operators valid for an item field type.
func OperatorsForType(fieldType string) []string {
	return operatorsByType[fieldType]
}

// OperatorValidFor reports whether op may be applied to a field of the
// given type.
func OperatorValidFor(fieldType, op string) bool {
	for _, valid := range operatorsByType[fieldType] {
		if valid == op {
			return true
		}
	}
	return false
}
