package domain

// Story is a single researched news item inside a category bucket.
type Story struct {
	Headline     string `json:"headline"`
	Summary      string `json:"summary"`
	Source       string `json:"source"`
	WhyItMatters string `json:"why_it_matters"`
}

// Category holds the ordered stories for one research category plus the
// free-text pattern the research agent observed across them.
type Category struct {
	Stories []Story `json:"stories"`
	Pattern string  `json:"pattern"`
}

// ResearchDigest is the six fixed category buckets of a weekly digest.
type ResearchDigest struct {
	YCStartups    Category `json:"yc_startups"`
	NewModels     Category `json:"new_models"`
	OpenSource    Category `json:"open_source"`
	Benchmarks    Category `json:"benchmarks"`
	LayoffsHiring Category `json:"layoffs_hiring"`
	Funding       Category `json:"funding"`
}

// Categories returns the buckets in declaration order. Prompt construction
// depends on this order.
func (r ResearchDigest) Categories() []Category {
	return []Category{r.YCStartups, r.NewModels, r.OpenSource, r.Benchmarks, r.LayoffsHiring, r.Funding}
}

// TwitterTrend is one trending X/Twitter topic from the weekly research.
type TwitterTrend struct {
	Topic         string `json:"topic"`
	Summary       string `json:"summary"`
	NotableVoices string `json:"notable_voices"`
}

// SuggestedTag is a profile the writer agent suggests tagging in the post.
type SuggestedTag struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// DigestPayload is the structured result of the digest stage. Either the
// research digest or the LinkedIn post being present is what certifies a
// candidate object as a genuine digest.
type DigestPayload struct {
	ResearchDigest *ResearchDigest `json:"research_digest,omitempty"`
	TwitterTrends  []TwitterTrend  `json:"twitter_trends,omitempty"`
	LinkedInPost   string          `json:"linkedin_post,omitempty"`
	CharacterCount int             `json:"character_count,omitempty"`
	SuggestedTags  []SuggestedTag  `json:"suggested_tags,omitempty"`
	Hashtags       []string        `json:"hashtags,omitempty"`
	EditorsNote    string          `json:"editors_note,omitempty"`
	WeekSummary    string          `json:"week_summary,omitempty"`
}

// Headlines returns up to limit headlines drawn across all six categories in
// declaration order. Returns nil when there is no research digest.
func (d *DigestPayload) Headlines(limit int) []string {
	if d == nil || d.ResearchDigest == nil || limit <= 0 {
		return nil
	}
	var out []string
	for _, cat := range d.ResearchDigest.Categories() {
		for _, s := range cat.Stories {
			if s.Headline == "" {
				continue
			}
			out = append(out, s.Headline)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// ImagePayload is the descriptive result of the image stage. The file URL is
// resolved separately from the artifact-file list, not from this object.
type ImagePayload struct {
	ImageDescription string `json:"image_description"`
	DesignNotes      string `json:"design_notes"`
	AltText          string `json:"alt_text"`
}

// ArtifactFile is one generated file reported by the agent service.
type ArtifactFile struct {
	FileURL    string `json:"file_url"`
	Name       string `json:"name"`
	FormatType string `json:"format_type"`
}

// DeliveryPayload is the confirmation returned by the delivery stage.
// Presence of delivery_status certifies it.
type DeliveryPayload struct {
	DeliveryStatus string `json:"delivery_status"`
	ChannelName    string `json:"channel_name"`
	MessagePreview string `json:"message_preview"`
	Timestamp      string `json:"timestamp"`
}

// InvokeResult is the opaque contract of the agent invocation transport: a
// success flag, an untyped response tree, and an error string.
type InvokeResult struct {
	Success  bool
	Response any
	Error    string
}
