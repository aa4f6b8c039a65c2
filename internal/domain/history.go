package domain

// History entry statuses.
const (
	HistoryStatusGenerated = "generated"
	HistoryStatusSent      = "sent"
)

// HistoryEntry is one persisted record of a completed digest generation.
// JSON field names match the stored blob format.
type HistoryEntry struct {
	ID                  string         `json:"id"`
	Date                string         `json:"date"`
	WeekRange           string         `json:"weekRange"`
	WeekSummary         string         `json:"week_summary"`
	LinkedInPostPreview string         `json:"linkedin_post_preview"`
	Status              string         `json:"status"`
	Digest              *DigestPayload `json:"digest"`
	ImageURL            *string        `json:"imageUrl"`
}
