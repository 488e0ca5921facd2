package llm

import (
	"strings"
	"testing"
)

func TestStripCodeFenceVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare json", `{"summary":"s"}`, `{"summary":"s"}`},
		{"plain fence", "```\n{\"summary\":\"s\"}\n```", `{"summary":"s"}`},
		{"json fence", "```json\n{\"summary\":\"s\"}\n```", `{"summary":"s"}`},
		{"surrounding whitespace", "  {\"summary\":\"s\"}  ", `{"summary":"s"}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.input); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestParseEnrichmentRejectsPartialResults(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no summary", `{"tags":["bug"]}`},
		{"blank summary", `{"summary":"   ","tags":["bug"]}`},
		{"no tags", `{"summary":"fine"}`},
		{"empty tags", `{"summary":"fine","tags":[]}`},
		{"not json", `definitely not json`},
	}
	for _, tc := range cases {
		_, err := parseEnrichment("openai", tc.content)
		assertProviderCause(t, err, CauseMalformedResponse)
	}
}

func TestBuildUserPromptEmbedsIssueText(t *testing.T) {
	prompt := buildUserPrompt("My title", "My description")
	if !strings.Contains(prompt, "Title: My title") {
		t.Fatalf("expected title in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Description: My description") {
		t.Fatalf("expected description in prompt, got %q", prompt)
	}
}
