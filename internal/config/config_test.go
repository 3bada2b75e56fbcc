package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalize_Defaults(t *testing.T) {
	cfg, err := Normalize(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen %q", cfg.Listen)
	}
	if cfg.DatabaseURL != "sqlite:triton.db" {
		t.Errorf("database url %q", cfg.DatabaseURL)
	}
	if cfg.CommandTTL != time.Hour {
		t.Errorf("command ttl %v", cfg.CommandTTL)
	}
	if cfg.DescentFreshness != 10*time.Minute {
		t.Errorf("descent freshness %v", cfg.DescentFreshness)
	}
	if cfg.ExpireSweep != time.Minute {
		t.Errorf("expire sweep %v", cfg.ExpireSweep)
	}
	if cfg.DBPoolSize != 20 {
		t.Errorf("pool size %d", cfg.DBPoolSize)
	}
	if cfg.AdminReset {
		t.Error("admin reset must default off")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triton.yaml")
	yaml := "database_url: sqlite:file.db\nlisten: \":9000\"\ncommand_ttl: 120s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "sqlite:env.db")
	t.Setenv("COMMAND_TTL_SECONDS", "300")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "sqlite:env.db" {
		t.Errorf("database url %q, env must win", cfg.DatabaseURL)
	}
	if cfg.CommandTTL != 300*time.Second {
		t.Errorf("command ttl %v, env must win", cfg.CommandTTL)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen %q, file value must survive", cfg.Listen)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("COMMAND_TTL_SECONDS", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric TTL")
	}
}

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"sqlite:triton.db", "triton.db", false},
		{"sqlite:///var/lib/triton.db", "/var/lib/triton.db", false},
		{"triton.db", "triton.db", false},
		{"postgres://host/db", "", true},
		{"sqlite:", "", true},
	}
	for _, tt := range tests {
		got, err := SQLitePath(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}
