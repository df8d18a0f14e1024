package registry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

type stubAdapter struct{ typeID string }

func (s *stubAdapter) Validate(model.SourceConfig) error { return nil }

func (s *stubAdapter) Poll(ctx context.Context, cfg model.SourceConfig, state json.RawMessage, secrets secret.Resolver) (*source.PollResult, error) {
	return &source.PollResult{}, nil
}

func (s *stubAdapter) Test(ctx context.Context, cfg model.SourceConfig, secrets secret.Resolver) (*source.TestResult, error) {
	return &source.TestResult{OK: true}, nil
}

func validMeta(typeID string) model.Metadata {
	return model.Metadata{
		Type:    typeID,
		Name:    "Stub " + typeID,
		Version: "1.0.0",
		ConfigFields: []model.ConfigField{
			{Key: "url", Label: "URL", Type: model.FieldTypeString, Required: true},
			{Key: "mode", Label: "Mode", Type: model.FieldTypeSelect, Options: []string{"fast", "slow"}},
		},
		ItemFields: []model.ItemField{
			{Key: "status", Label: "Status", Type: model.ItemFieldEnum, Values: []string{"open", "closed"}},
		},
	}
}

func stubFactory(typeID string) source.Factory {
	return func() source.Adapter { return &stubAdapter{typeID: typeID} }
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	meta := validMeta("stub")
	r.RegisterBuiltin(meta, stubFactory(meta.Type))

	p, ok := r.Get("stub")
	if !ok {
		t.Fatal("expected plugin to be registered")
	}
	if p.Origin != OriginBuiltin {
		t.Fatalf("Origin = %s, want builtin", p.Origin)
	}
	if adapter, ok := p.Factory().(*stubAdapter); !ok || adapter.typeID != "stub" {
		t.Fatalf("factory adapter = %#v, want the stub for %q", adapter, "stub")
	}
	if len(r.Failures()) != 0 {
		t.Fatalf("Failures = %v, want none", r.Failures())
	}
}

func TestUserOverridesBuiltin(t *testing.T) {
	r := New()
	builtin := validMeta("stub")
	user := validMeta("stub")
	user.Name = "User Stub"

	r.RegisterBuiltin(builtin, stubFactory(builtin.Type))
	r.RegisterUser(user, stubFactory(user.Type))

	p, _ := r.Get("stub")
	if p.Origin != OriginUser {
		t.Fatalf("Origin = %s, want user to replace builtin", p.Origin)
	}
	if p.Metadata.Name != "User Stub" {
		t.Fatalf("Name = %s, want the user metadata", p.Metadata.Name)
	}

	// Order of registration must not matter.
	r2 := New()
	r2.RegisterUser(user, stubFactory(user.Type))
	r2.RegisterBuiltin(builtin, stubFactory(builtin.Type))
	p, _ = r2.Get("stub")
	if p.Origin != OriginUser {
		t.Fatalf("Origin = %s, want user to win regardless of order", p.Origin)
	}
}

func TestDuplicateSameOriginRecorded(t *testing.T) {
	r := New()
	meta := validMeta("stub")
	r.RegisterBuiltin(meta, stubFactory(meta.Type))
	r.RegisterBuiltin(meta, stubFactory(meta.Type))

	failures := r.Failures()
	if len(failures) != 1 {
		t.Fatalf("len(failures) = %d, want 1", len(failures))
	}
	if !strings.Contains(failures[0].Err.Error(), "duplicate") {
		t.Fatalf("failure = %v, want duplicate error", failures[0].Err)
	}
	// The first registration stays active.
	if _, ok := r.Get("stub"); !ok {
		t.Fatal("original plugin must survive a duplicate registration")
	}
}

func TestInvalidMetadataRecordedWithoutAborting(t *testing.T) {
	r := New()
	bad := validMeta("Bad Type")
	good := validMeta("good")

	r.RegisterBuiltin(bad, stubFactory(bad.Type))
	r.RegisterBuiltin(good, stubFactory(good.Type))

	if _, ok := r.Get("Bad Type"); ok {
		t.Fatal("invalid plugin must not join the active set")
	}
	if _, ok := r.Get("good"); !ok {
		t.Fatal("a failed registration must not block later ones")
	}
	if len(r.Failures()) != 1 {
		t.Fatalf("len(failures) = %d, want 1", len(r.Failures()))
	}
}

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Metadata)
		wantOK bool
	}{
		{"valid", func(m *model.Metadata) {}, true},
		{"uppercase type", func(m *model.Metadata) { m.Type = "Stub" }, false},
		{"empty name", func(m *model.Metadata) { m.Name = "" }, false},
		{"bad version", func(m *model.Metadata) { m.Version = "v1" }, false},
		{"prerelease version", func(m *model.Metadata) { m.Version = "1.2.3-beta.1" }, true},
		{"config field without label", func(m *model.Metadata) { m.ConfigFields[0].Label = "" }, false},
		{"select without options", func(m *model.Metadata) { m.ConfigFields[1].Options = nil }, false},
		{"enum without values", func(m *model.Metadata) { m.ItemFields[0].Values = nil }, false},
		{
			"default filter on undeclared field",
			func(m *model.Metadata) {
				m.DefaultFilter = []model.FilterCondition{
					{Field: "missing", Operator: model.OpEquals, Value: "x"},
				}
			},
			false,
		},
		{
			"default filter with invalid operator",
			func(m *model.Metadata) {
				m.DefaultFilter = []model.FilterCondition{
					{Field: "status", Operator: model.OpContains, Value: "op"},
				}
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := validMeta("stub")
			tt.mutate(&meta)
			err := ValidateMetadata(meta)
			if (err == nil) != tt.wantOK {
				t.Fatalf("ValidateMetadata() = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}

func TestValidateSourceConfig(t *testing.T) {
	meta := validMeta("stub")

	// Required field missing.
	err := ValidateSourceConfig(meta, model.SourceConfig{Config: map[string]any{}})
	if !source.IsConfigError(err) {
		t.Fatalf("missing required field: err = %v, want ConfigError", err)
	}

	// Select value outside the declared options.
	err = ValidateSourceConfig(meta, model.SourceConfig{Config: map[string]any{
		"url":  "https://example.com",
		"mode": "warp",
	}})
	if !source.IsConfigError(err) {
		t.Fatalf("bad select value: err = %v, want ConfigError", err)
	}

	// Valid config with a coherent filter.
	err = ValidateSourceConfig(meta, model.SourceConfig{
		Config: map[string]any{"url": "https://example.com", "mode": "fast"},
		Filter: []model.FilterCondition{
			{Field: "status", Operator: model.OpEquals, Value: "open"},
		},
	})
	if err != nil {
		t.Fatalf("valid config: err = %v", err)
	}

	// Filter referencing an undeclared field.
	err = ValidateSourceConfig(meta, model.SourceConfig{
		Config: map[string]any{"url": "https://example.com"},
		Filter: []model.FilterCondition{
			{Field: "missing", Operator: model.OpEquals, Value: "x"},
		},
	})
	if !source.IsConfigError(err) {
		t.Fatalf("undeclared filter field: err = %v, want ConfigError", err)
	}
}

func TestValidateSourceConfigValueKinds(t *testing.T) {
	meta := model.Metadata{
		Type:    "stub",
		Name:    "Stub",
		Version: "1.0.0",
		ConfigFields: []model.ConfigField{
			{Key: "max_items", Label: "Max items", Type: model.FieldTypeNumber},
			{Key: "use_tls", Label: "Use TLS", Type: model.FieldTypeBoolean},
		},
	}

	tests := []struct {
		name   string
		config map[string]any
		wantOK bool
	}{
		{"int number", map[string]any{"max_items": 50}, true},
		{"float number", map[string]any{"max_items": 50.0}, true},
		{"string for number", map[string]any{"max_items": "fifty"}, false},
		{"bool for number", map[string]any{"max_items": true}, false},
		{"bool value", map[string]any{"use_tls": false}, true},
		{"string for boolean", map[string]any{"use_tls": "yes"}, false},
		{"number for boolean", map[string]any{"use_tls": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceConfig(meta, model.SourceConfig{Config: tt.config})
			if tt.wantOK && err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if !tt.wantOK && !source.IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
		})
	}
}
