package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig holds the list-shaped settings that are awkward in env vars.
// Values may reference the environment as ${VAR}.
type fileConfig struct {
	LLM struct {
		APIKeys []string `yaml:"api_keys"`
		Model   string   `yaml:"model"`
	} `yaml:"llm"`
	Knowledge struct {
		Owner  string `yaml:"owner"`
		Bucket string `yaml:"bucket"`
	} `yaml:"knowledge"`
	Escalation struct {
		UrgencyKeywords []string `yaml:"urgency_keywords"`
		AdminEmails     []string `yaml:"admin_emails"`
		WebhookURL      string   `yaml:"webhook_url"`
	} `yaml:"escalation"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if keys := nonEmpty(raw.LLM.APIKeys); len(keys) > 0 {
		cfg.LLMAPIKeys = keys
	}
	if raw.LLM.Model != "" {
		cfg.LLMModel = raw.LLM.Model
	}
	if raw.Knowledge.Owner != "" {
		cfg.KnowledgeOwner = raw.Knowledge.Owner
	}
	if raw.Knowledge.Bucket != "" {
		cfg.KnowledgeBucket = raw.Knowledge.Bucket
	}
	if kw := nonEmpty(raw.Escalation.UrgencyKeywords); len(kw) > 0 {
		cfg.EscalationUrgencyKeywords = kw
	}
	if admins := nonEmpty(raw.Escalation.AdminEmails); len(admins) > 0 {
		cfg.EscalationAdminEmails = admins
	}
	if raw.Escalation.WebhookURL != "" {
		cfg.EscalationWebhookURL = raw.Escalation.WebhookURL
	}
	return nil
}

// nonEmpty drops entries left blank by unset ${VAR} references.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
