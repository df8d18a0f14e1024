// Package registry holds the set of known adapter plugins. Plugins are
// registered in code under one of two origins, builtin or user; a user
// registration with the same type id replaces the builtin one. Metadata is
// validated on registration and a failed plugin is recorded with its error
// without aborting the rest.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/nhle/taskwire/internal/filter"
	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/source"
)

// Origin identifies where a plugin registration came from.
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginUser    Origin = "user"
)

// Plugin is a validated adapter registration.
type Plugin struct {
	Metadata model.Metadata
	Factory  source.Factory
	Origin   Origin
}

// LoadFailure records a plugin that failed validation and was excluded
// from the active set.
type LoadFailure struct {
	Type   string
	Origin Origin
	Err    error
}

// Registry maps adapter type ids to their plugin registrations.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	order    []string
	failures []LoadFailure
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// RegisterBuiltin registers a built-in plugin. Registration failures are
// recorded and do not abort other registrations.
func (r *Registry) RegisterBuiltin(meta model.Metadata, factory source.Factory) {
	r.register(meta, factory, OriginBuiltin)
}

// RegisterUser registers a user plugin. A user plugin with the same type
// id as a built-in one replaces it.
func (r *Registry) RegisterUser(meta model.Metadata, factory source.Factory) {
	r.register(meta, factory, OriginUser)
}

func (r *Registry) register(meta model.Metadata, factory source.Factory, origin Origin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateMetadata(meta); err != nil {
		r.failures = append(r.failures, LoadFailure{
			Type:   meta.Type,
			Origin: origin,
			Err:    err,
		})
		return
	}

	if factory == nil {
		r.failures = append(r.failures, LoadFailure{
			Type:   meta.Type,
			Origin: origin,
			Err:    fmt.Errorf("plugin %q has no adapter factory", meta.Type),
		})
		return
	}

	existing, exists := r.plugins[meta.Type]
	if exists {
		if existing.Origin == origin {
			r.failures = append(r.failures, LoadFailure{
				Type:   meta.Type,
				Origin: origin,
				Err:    fmt.Errorf("duplicate %s plugin %q", origin, meta.Type),
			})
			return
		}
		if existing.Origin == OriginUser && origin == OriginBuiltin {
			// User plugins win over built-ins regardless of
			// registration order.
			return
		}
	} else {
		r.order = append(r.order, meta.Type)
	}

	r.plugins[meta.Type] = Plugin{
		Metadata: meta,
		Factory:  factory,
		Origin:   origin,
	}
}

// Get returns the plugin registered under the given type id.
func (r *Registry) Get(typeID string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[typeID]
	return p, ok
}

// Plugins returns the active plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.plugins[t])
	}
	return out
}

// Failures returns the recorded registration failures, ordered by type id.
func (r *Registry) Failures() []LoadFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LoadFailure, len(r.failures))
	copy(out, r.failures)
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// typePattern constrains adapter type ids to lowercase alphanumeric,
// hyphen, and underscore.
var typePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// semverPattern matches a plain MAJOR.MINOR.PATCH version with optional
// pre-release and build suffixes.
var semverPattern = regexp.MustCompile(
	`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`,
)

var configFieldTypes = map[string]bool{
	model.FieldTypeString:      true,
	model.FieldTypeNumber:      true,
	model.FieldTypeBoolean:     true,
	model.FieldTypeSecret:      true,
	model.FieldTypeSelect:      true,
	model.FieldTypeMultiselect: true,
}

var itemFieldTypes = map[string]bool{
	model.ItemFieldString:  true,
	model.ItemFieldEnum:    true,
	model.ItemFieldNumber:  true,
	model.ItemFieldBoolean: true,
}

// ValidateMetadata checks an adapter's declared metadata: type id shape,
// semver version, field declarations, and the default filter's coherence
// with the declared item fields.
func ValidateMetadata(meta model.Metadata) error {
	if !typePattern.MatchString(meta.Type) {
		return fmt.Errorf("invalid plugin type %q: must be lowercase alphanumeric, hyphen, or underscore", meta.Type)
	}
	if meta.Name == "" {
		return fmt.Errorf("plugin %q has no name", meta.Type)
	}
	if !semverPattern.MatchString(meta.Version) {
		return fmt.Errorf("plugin %q version %q is not semver", meta.Type, meta.Version)
	}

	for _, f := range meta.ConfigFields {
		if f.Key == "" || f.Label == "" {
			return fmt.Errorf("plugin %q has a config field without key or label", meta.Type)
		}
		if !configFieldTypes[f.Type] {
			return fmt.Errorf("plugin %q config field %q has invalid type %q", meta.Type, f.Key, f.Type)
		}
		if (f.Type == model.FieldTypeSelect || f.Type == model.FieldTypeMultiselect) && len(f.Options) == 0 {
			return fmt.Errorf("plugin %q config field %q of type %s has no options", meta.Type, f.Key, f.Type)
		}
	}

	for _, f := range meta.ItemFields {
		if f.Key == "" || f.Label == "" {
			return fmt.Errorf("plugin %q has an item field without key or label", meta.Type)
		}
		if !itemFieldTypes[f.Type] {
			return fmt.Errorf("plugin %q item field %q has invalid type %q", meta.Type, f.Key, f.Type)
		}
		if f.Type == model.ItemFieldEnum && len(f.Values) == 0 {
			return fmt.Errorf("plugin %q enum item field %q has no values", meta.Type, f.Key)
		}
	}

	if len(meta.DefaultFilter) > 0 {
		if err := filter.Validate(meta.DefaultFilter, meta.ItemFields); err != nil {
			return fmt.Errorf("plugin %q default filter: %w", meta.Type, err)
		}
	}

	return nil
}

// ValidateSourceConfig checks a source config against the plugin's
// declared config fields: required fields present, value kinds matching
// the declared field type, select values among the declared options. This
// is the engine-side complement of the adapter's own Validate.
func ValidateSourceConfig(meta model.Metadata, cfg model.SourceConfig) error {
	for _, f := range meta.ConfigFields {
		v, present := cfg.Config[f.Key]
		if !present || v == nil || v == "" {
			if f.Required && f.Default == nil {
				return &source.ConfigError{
					SourceType: meta.Type,
					Field:      f.Key,
					Message:    "required config field is missing",
				}
			}
			continue
		}

		switch f.Type {
		case model.FieldTypeNumber:
			switch v.(type) {
			case int, int64, float64:
			default:
				return &source.ConfigError{
					SourceType: meta.Type,
					Field:      f.Key,
					Message:    fmt.Sprintf("value %v is not a number", v),
				}
			}
		case model.FieldTypeBoolean:
			if _, ok := v.(bool); !ok {
				return &source.ConfigError{
					SourceType: meta.Type,
					Field:      f.Key,
					Message:    fmt.Sprintf("value %v is not a boolean", v),
				}
			}
		}

		if f.Type == model.FieldTypeSelect {
			s := cfg.ConfigString(f.Key)
			found := false
			for _, opt := range f.Options {
				if opt == s {
					found = true
					break
				}
			}
			if !found {
				return &source.ConfigError{
					SourceType: meta.Type,
					Field:      f.Key,
					Message:    fmt.Sprintf("value %q is not among the declared options", s),
				}
			}
		}
	}

	if len(cfg.Filter) > 0 {
		if err := filter.Validate(cfg.Filter, meta.ItemFields); err != nil {
			return err
		}
	}

	return nil
}
