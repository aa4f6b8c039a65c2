package usecase

import (
	"fmt"
	"strings"

	"digest-agent/internal/domain"
)

const (
	maxImageHighlights = 3
	genericWeekSummary = "This Week in AI digest"
)

// buildDigestRequest is the fixed request sent to the coordinator agent.
func buildDigestRequest() string {
	return "Generate this week's AI intelligence digest covering YC startups, new models, " +
		"open source developments, benchmarks, layoffs/hiring trends, and funding rounds. " +
		"Include Twitter/X trends and write a LinkedIn post."
}

// buildImagePrompt composes the image agent request from the current digest.
// The digest is optional: without one a generic prompt is produced.
func buildImagePrompt(d *domain.DigestPayload) string {
	summary := genericWeekSummary
	if d != nil && strings.TrimSpace(d.WeekSummary) != "" {
		summary = d.WeekSummary
	}
	prompt := fmt.Sprintf(
		`Generate a professional "This Week in AI" branded image with Lyzr brown color palette. Key highlights: %s.`,
		summary,
	)
	if highlights := strings.Join(d.Headlines(maxImageHighlights), "; "); highlights != "" {
		prompt += " Top headlines: " + highlights
	}
	return prompt
}

// buildDeliveryMessage composes the delivery agent request around the post
// content and week summary.
func buildDeliveryMessage(channel, content, weekSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Send the following AI weekly digest to Slack channel %q.\n\n", channel)
	b.WriteString("Content to post:\n---\n")
	if weekSummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", weekSummary)
	}
	fmt.Fprintf(&b, "LinkedIn Post:\n%s\n---\n\n", content)
	fmt.Fprintf(&b, "Post this content to the channel %q using SLACK_CHAT_POST_MESSAGE.", channel)
	return b.String()
}
