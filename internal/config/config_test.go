package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("KNOWLEDGE_DOCUMENT_CAP", "")
	t.Setenv("DISPATCH_MIN_DELAY", "")
	t.Setenv("ESCALATION_REPEAT_THRESHOLD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.KnowledgeDocumentCap != 15000 {
		t.Fatalf("expected default per-document cap 15000, got %d", cfg.KnowledgeDocumentCap)
	}
	if cfg.DispatchMinDelay != 30*time.Second {
		t.Fatalf("expected default min delay 30s, got %v", cfg.DispatchMinDelay)
	}
	if cfg.EscalationRepeatThreshold != 2 {
		t.Fatalf("expected default repeat threshold 2, got %d", cfg.EscalationRepeatThreshold)
	}
	if cfg.MailboxFolder != "INBOX" {
		t.Fatalf("expected INBOX folder, got %q", cfg.MailboxFolder)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LLM_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("DISPATCH_MIN_DELAY", "5s")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("MAILBOX_USERNAME", "Support@Example.com")
	t.Setenv("MAILBOX_FOLDER", "")
	t.Setenv("DISPATCH_FROM", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.Join(cfg.LLMAPIKeys, "|") != "k1|k2|k3" {
		t.Fatalf("unexpected api keys %v", cfg.LLMAPIKeys)
	}
	if cfg.DispatchMinDelay != 5*time.Second {
		t.Fatalf("expected 5s delay, got %v", cfg.DispatchMinDelay)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected temperature 0.7, got %v", cfg.LLMTemperature)
	}
	if cfg.DispatchFrom != "Support@Example.com" {
		t.Fatalf("expected from address to default to mailbox user, got %q", cfg.DispatchFrom)
	}
	if cfg.MailboxIdentity() != "support@example.com/INBOX" {
		t.Fatalf("unexpected mailbox identity %q", cfg.MailboxIdentity())
	}
}

func TestLoadOverlaysFileWithEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  api_keys:
    - ${TEST_LLM_KEY_A}
    - ${TEST_LLM_KEY_MISSING}
    - literal-key
escalation:
  urgency_keywords: [outage, chargeback]
  admin_emails: [ops@example.com]
knowledge:
  owner: support-team
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_LLM_KEY_A", "from-env")
	t.Setenv("LLM_API_KEYS", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.Join(cfg.LLMAPIKeys, "|") != "from-env|literal-key" {
		t.Fatalf("unexpected api keys %v", cfg.LLMAPIKeys)
	}
	if strings.Join(cfg.EscalationUrgencyKeywords, "|") != "outage|chargeback" {
		t.Fatalf("unexpected keywords %v", cfg.EscalationUrgencyKeywords)
	}
	if cfg.KnowledgeOwner != "support-team" {
		t.Fatalf("unexpected owner %q", cfg.KnowledgeOwner)
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	cfg := Config{
		MailboxHost:           "imap.example.com",
		MailboxUsername:       "support@example.com",
		MailboxPassword:       "secret",
		KnowledgeDocumentCap:  100,
		KnowledgeTotalCap:     200,
		DispatchMaxAttempts:   3,
		DispatchTransport:     "smtp",
		ContactHistoryBackend: "postgres",
		EscalationWebhookURL:  "https://hooks.example.com/escalations",
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "LLM API key") {
		t.Fatalf("expected missing api key error, got %v", err)
	}

	cfg.LLMAPIKeys = []string{"k"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.DispatchTransport = "fax"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported transport error")
	}
}

func TestValidateRequiresEscalationNotifier(t *testing.T) {
	cfg := Config{
		MailboxHost:           "imap.example.com",
		MailboxUsername:       "support@example.com",
		MailboxPassword:       "secret",
		LLMAPIKeys:            []string{"k"},
		KnowledgeDocumentCap:  100,
		KnowledgeTotalCap:     200,
		DispatchMaxAttempts:   3,
		DispatchTransport:     "smtp",
		ContactHistoryBackend: "postgres",
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ESCALATION_ADMIN_EMAILS") {
		t.Fatalf("expected missing notifier error, got %v", err)
	}

	cfg.EscalationAdminEmails = []string{"ops@example.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
