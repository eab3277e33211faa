package config

import (
	"strings"
	"testing"
)

func setAll(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_BASE", "https://example.openai.azure.com")
	t.Setenv("CHAT_MODEL_NAME", "gpt-4o")
	t.Setenv("EMBEDDING_MODEL_NAME", "text-embedding-ada-002")
}

func TestLoad_AllSet(t *testing.T) {
	setAll(t)
	t.Setenv("INSIGHTGENIX_PORT", "5123")
	t.Setenv("INSIGHTGENIX_DB_FILE", "/tmp/sales.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want %q", cfg.OpenAI.APIKey, "sk-test")
	}
	if cfg.Server.Port != 5123 {
		t.Errorf("Port = %d, want 5123", cfg.Server.Port)
	}
	if cfg.Storage.DatabasePath != "/tmp/sales.db" {
		t.Errorf("DatabasePath = %q, want /tmp/sales.db", cfg.Storage.DatabasePath)
	}
	if cfg.OpenAI.APIVersion == "" {
		t.Error("APIVersion default missing")
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	setAll(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDING_MODEL_NAME", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	for _, want := range []string{"OPENAI_API_KEY", "EMBEDDING_MODEL_NAME"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "CHAT_MODEL_NAME") {
		t.Errorf("error %q names a variable that was set", err)
	}
}

func TestLoad_InvalidPortIgnored(t *testing.T) {
	setAll(t)
	t.Setenv("INSIGHTGENIX_PORT", "not-a-port")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Port = %d, want default 4600", cfg.Server.Port)
	}
}
