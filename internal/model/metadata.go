package model

// Config field types an adapter may declare.
const (
	FieldTypeString      = "string"
	FieldTypeNumber      = "number"
	FieldTypeBoolean     = "boolean"
	FieldTypeSecret      = "secret"
	FieldTypeSelect      = "select"
	FieldTypeMultiselect = "multiselect"
)

// Item field types an adapter may declare for filtering.
const (
	ItemFieldString  = "string"
	ItemFieldEnum    = "enum"
	ItemFieldNumber  = "number"
	ItemFieldBoolean = "boolean"
)

// ConfigField describes one configuration key an adapter accepts.
type ConfigField struct {
	// Key is the configuration map key.
	Key string `json:"key"`

	// Label is the human-readable name shown during configuration.
	Label string `json:"label"`

	// Type is one of the FieldType* constants.
	Type string `json:"type"`

	// Required marks the field as mandatory.
	Required bool `json:"required,omitempty"`

	// Default is the value used when the field is absent.
	Default any `json:"default,omitempty"`

	// Options lists the allowed values for select/multiselect fields.
	Options []string `json:"options,omitempty"`
}

// ItemField describes one filterable property the adapter sets on its items.
type ItemField struct {
	Key   string `json:"key"`
	Label string `json:"label"`

	// Type is one of the ItemField* constants.
	Type string `json:"type"`

	// Values lists the allowed values for enum fields.
	Values []string `json:"values,omitempty"`
}

// Capabilities flags the optional behaviors an adapter supports beyond
// the base poll contract.
type Capabilities struct {
	// Realtime marks adapters that receive pushed events; the engine
	// connects them at startup and their Poll drains a buffer.
	Realtime bool `json:"realtime,omitempty"`

	// Send marks two-way adapters that can post messages back.
	Send bool `json:"send,omitempty"`

	// Replies marks adapters whose platform supports threaded follow-ups.
	Replies bool `json:"replies,omitempty"`
}

// Metadata is the self-description every adapter plugin declares.
// The registry validates it before the adapter joins the active set.
type Metadata struct {
	// Type is the adapter's unique identifier: lowercase alphanumeric,
	// hyphen, or underscore.
	Type string `json:"type"`

	Name        string `json:"name"`
	Description string `json:"description"`

	// Version is a semver string.
	Version string `json:"version"`

	Author string `json:"author,omitempty"`

	ConfigFields []ConfigField `json:"config_fields"`
	ItemFields   []ItemField   `json:"item_fields,omitempty"`

	// DefaultFilter applies when a source has no configured filter of
	// its own. Every condition must reference a declared item field.
	DefaultFilter []FilterCondition `json:"default_filter,omitempty"`

	Capabilities Capabilities `json:"capabilities,omitempty"`
}

// ItemFieldByKey returns the declared item field with the given key.
func (m Metadata) ItemFieldByKey(key string) (ItemField, bool) {
	for _, f := range m.ItemFields {
		if f.Key == key {
			return f, true
		}
	}
	return ItemField{}, false
}

// ConfigFieldByKey returns the declared config field with the given key.
func (m Metadata) ConfigFieldByKey(key string) (ConfigField, bool) {
	for _, f := range m.ConfigFields {
		if f.Key == key {
			return f, true
		}
	}
	return ConfigField{}, false
}
