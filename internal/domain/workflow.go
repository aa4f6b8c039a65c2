package domain

// Stage identifies one of the three independently triggerable operations.
type Stage string

const (
	StageDigest   Stage = "digest"
	StageImage    Stage = "image"
	StageDelivery Stage = "delivery"
)

// StageState is the lifecycle of a single stage. A stage never transitions
// back to idle by itself; a re-trigger overwrites the previous terminal
// state.
type StageState string

const (
	StageIdle      StageState = "idle"
	StageRunning   StageState = "running"
	StageSucceeded StageState = "succeeded"
	StageFailed    StageState = "failed"
)

// Severity classifies a stage report for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Report is a user-facing stage outcome: status text plus an explicit
// severity carried from the point of origin.
type Report struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
