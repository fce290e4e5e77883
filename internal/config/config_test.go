package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want, got := ":8787", cfg.Addr; want != got {
		t.Errorf("addr: want %q, got %q", want, got)
	}
	if want, got := "datadam.db", cfg.DatabasePath; want != got {
		t.Errorf("db path: want %q, got %q", want, got)
	}
	if want, got := "http://localhost:8787", cfg.PublicBaseURL; want != got {
		t.Errorf("base url: want %q, got %q", want, got)
	}
	if got := cfg.Audiences(); len(got) != 0 {
		t.Errorf("audiences: want none, got %v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATADAM_ADDR", "127.0.0.1:9000")
	t.Setenv("DATADAM_PUBLIC_BASE_URL", "https://data.example.com/")
	t.Setenv("DATADAM_JWT_SECRET", "s3cr3t")
	t.Setenv("DATADAM_JWT_AUDIENCES", "datadam, connector ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want, got := "127.0.0.1:9000", cfg.Addr; want != got {
		t.Errorf("addr: want %q, got %q", want, got)
	}
	if want, got := "https://data.example.com", cfg.PublicBaseURL; want != got {
		t.Errorf("base url not trimmed: got %q", got)
	}
	auds := cfg.Audiences()
	if len(auds) != 2 || auds[0] != "datadam" || auds[1] != "connector" {
		t.Errorf("audiences: want [datadam connector], got %v", auds)
	}
}

func TestLoadRejectsConflictingAuth(t *testing.T) {
	t.Setenv("DATADAM_JWT_SECRET", "s3cr3t")
	t.Setenv("DATADAM_JWKS_URL", "https://issuer.example.com/jwks.json")

	if _, err := Load(); err == nil {
		t.Fatal("conflicting auth config accepted")
	}
}
