package enrich

import (
	"strings"

	"github.com/trackline/issue-api/internal/domain"
)

const summaryDescriptionLimit = 150

// keywordGroups map detector keywords to the tag they contribute. Order is
// fixed so fallback output is deterministic for identical input.
var keywordGroups = []struct {
	tag      string
	keywords []string
}{
	{"bug", []string{"bug", "error", "broken", "crash", "issue", "fail"}},
	{"feature-request", []string{"feature", "enhancement", "request", "new", "add"}},
	{"urgent", []string{"urgent", "critical", "asap", "immediately", "blocking"}},
	{"frontend", []string{"frontend", "ui", "ux", "button", "modal", "form"}},
	{"backend", []string{"backend", "api", "endpoint", "database", "server"}},
	{"performance", []string{"slow", "performance", "optimization", "lag", "delay"}},
}

// Fallback derives a summary and tags locally, without I/O. It never fails and
// is used both when no provider is configured and when a provider call fails.
func Fallback(title, description string) domain.EnrichmentResult {
	return domain.EnrichmentResult{
		Summary: FallbackSummary(title, description),
		Tags:    FallbackTags(title, description),
	}
}

// FallbackSummary is the title plus the first 150 characters of the
// description and a trailing ellipsis.
func FallbackSummary(title, description string) string {
	truncated := description
	if runes := []rune(description); len(runes) > summaryDescriptionLimit {
		truncated = string(runes[:summaryDescriptionLimit])
	}
	return title + ": " + truncated + "..."
}

// FallbackTags scans title and description for keyword groups. Every result
// starts with "needs-review"; each group contributes its tag at most once.
func FallbackTags(title, description string) []string {
	tags := []string{"needs-review"}
	haystack := strings.ToLower(title + " " + description)

	for _, group := range keywordGroups {
		for _, keyword := range group.keywords {
			if strings.Contains(haystack, keyword) {
				tags = append(tags, group.tag)
				break
			}
		}
	}
	return tags
}
