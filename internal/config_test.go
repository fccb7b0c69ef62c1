package internal

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Suggest.Enabled() {
		t.Error("suggestions should be off without an endpoint")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled || cfg.AuthEnabled() {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth = AuthConfig{Mode: AuthModeToken}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "token is empty") {
		t.Fatalf("err = %v, want token is empty", err)
	}
}

func TestDictionaryConfig_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DictionaryConfig
		flat    bool
		sqlite  bool
		wantErr bool
	}{
		{"flat", DictionaryConfig{Backend: "flat", FlatPath: "d.yaml"}, true, false, false},
		{"sqlite", DictionaryConfig{Backend: "SQLite", SQLitePath: "d.db"}, false, true, false},
		{"both", DictionaryConfig{Backend: "both", FlatPath: "d.yaml", SQLitePath: "d.db"}, true, true, false},
		{"both needs sqlite path", DictionaryConfig{Backend: "both", FlatPath: "d.yaml"}, true, true, true},
		{"unknown", DictionaryConfig{Backend: "postgres"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.cfg.UsesFlat() != tt.flat || tt.cfg.UsesSQLite() != tt.sqlite {
				t.Errorf("flat=%v sqlite=%v", tt.cfg.UsesFlat(), tt.cfg.UsesSQLite())
			}
		})
	}
}

func TestSuggestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig().Suggest
	cfg.Endpoint = "https://inference.example.com/v1/responses"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid suggest config: %v", err)
	}

	bad := cfg
	bad.Temperature = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("temperature above 1 should fail")
	}

	bad = cfg
	bad.Timeout = 0
	if err := bad.Validate(); err == nil {
		t.Error("enabled endpoint without timeout should fail")
	}

	bad = cfg
	bad.Endpoint = "not a url"
	bad.Timeout = time.Second
	if err := bad.Validate(); err == nil {
		t.Error("malformed endpoint should fail")
	}
}
