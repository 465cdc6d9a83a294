package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

const maxPromptBodyChars = 4000

var categoryDescriptions = map[domain.Category]string{
	domain.CategoryHelpRequest:        "the sender needs help using a product or service",
	domain.CategoryInformationRequest: "the sender asks for information (prices, hours, policies, status)",
	domain.CategoryComplaint:          "the sender is unhappy and reports a problem or demands a remedy",
	domain.CategorySpam:               "unsolicited marketing, phishing, or automated bulk mail",
}

var categorySystemPrompt = buildCategorySystemPrompt()

func buildCategorySystemPrompt() string {
	var b strings.Builder
	b.WriteString("You triage email arriving at a customer support inbox.\n")
	b.WriteString("Classify the email into exactly one category:\n")
	for _, c := range domain.Categories() {
		fmt.Fprintf(&b, "- %s: %s\n", c, categoryDescriptions[c])
	}
	b.WriteString("Reply with the category name only.")
	return b.String()
}

const escalationSystemPrompt = `You decide whether a support email must be handled by a human instead of an automated reply.
Escalate when the sender is angry, threatens legal or financial action, reports harm or a security issue,
asks for something only staff can decide, or has written repeatedly without resolution.
Return a strict JSON object with keys:
needs_escalation (boolean), sentiment ("positive", "neutral" or "negative"), urgent (boolean), reason (string).
No markdown, no extra keys.`

const replySystemPrompt = `You write replies on behalf of a customer support team.
Answer only from the reference material when it covers the question; otherwise say a team member will follow up.
Be concise, polite and specific. Do not invent prices, dates, or policies. Do not include a subject line.
Sign off as "The Support Team".`

func buildCategoryPrompt(msg domain.Message) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, promptBody(msg.Body))
}

func buildEscalationPrompt(msg domain.Message, category domain.Category, repeatCount int) string {
	return fmt.Sprintf(`Category: %s
Earlier messages from this sender in the review window: %d

From: %s
Subject: %s

%s`, category, repeatCount, msg.From, msg.Subject, promptBody(msg.Body))
}

func buildReplyPrompt(knowledge string, msg domain.Message) string {
	var b strings.Builder
	if strings.TrimSpace(knowledge) != "" {
		b.WriteString("Reference material:\n")
		b.WriteString(knowledge)
		b.WriteString("\n\n")
	}
	b.WriteString("Customer email:\n")
	b.WriteString("From: ")
	b.WriteString(msg.From)
	b.WriteString("\nSubject: ")
	b.WriteString(msg.Subject)
	b.WriteString("\n\n")
	b.WriteString(promptBody(msg.Body))
	b.WriteString("\n\nWrite the reply body.")
	return b.String()
}

func promptBody(body string) string {
	return domain.Truncate(strings.TrimSpace(body), maxPromptBodyChars, domain.DefaultTruncationMarker)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
