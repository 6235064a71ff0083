package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage backend = %q", cfg.Storage.Backend)
	}
	if cfg.Engine.ExtractionRetries != 1 {
		t.Errorf("extraction_retries = %d", cfg.Engine.ExtractionRetries)
	}
	if cfg.KB.TopK != 3 {
		t.Errorf("top_k = %d", cfg.KB.TopK)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	content := `
[llm]
model = "claude-sonnet-4-5"
max_tokens = 2048

[storage]
backend = "nats"
bucket = "sessions"

[knowledge_base]
mode = "remote"
service_url = "http://localhost:8001"

[engine]
extraction_retries = 2
`
	path := filepath.Join(t.TempDir(), "opsdesk.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "claude-sonnet-4-5" || cfg.LLM.MaxTokens != 2048 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != "nats" || cfg.Storage.Bucket != "sessions" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.KB.Mode != "remote" || cfg.KB.ServiceURL != "http://localhost:8001" {
		t.Errorf("kb = %+v", cfg.KB)
	}
	if cfg.Engine.ExtractionRetries != 2 {
		t.Errorf("extraction_retries = %d", cfg.Engine.ExtractionRetries)
	}
	// Untouched sections keep defaults.
	if cfg.Transport.SubjectPrefix != "opsdesk" {
		t.Errorf("subject_prefix = %q", cfg.Transport.SubjectPrefix)
	}
}

func TestLoadFileRejectsBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[storage]\nbackend = \"redis\"\n"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want IsNotExist", err)
	}
}
