package usecase

import (
	"strings"

	"digest-agent/internal/domain"
)

// Stage status texts. The severity of each report is decided where the
// outcome originates and carried alongside the message, never re-derived
// from the text.
const (
	msgDigestRunning    = "Generating weekly AI digest... This may take a minute."
	msgDigestSuccess    = "Digest generated successfully!"
	msgDigestDegraded   = "Digest received but could not parse structured data. Showing raw output."
	msgDigestUnexpected = "Digest generated but response format was unexpected. Please try again."
	msgDigestNetwork    = "Network error: The request may have timed out. Manager agents can take 1-2 minutes. Please try again."
	msgDigestFallback   = "Failed to generate digest. Please try again."

	msgImageRunning  = "Generating branded image..."
	msgImageSuccess  = "Image generated successfully!"
	msgImageNoFile   = "Image agent responded but no image file was returned."
	msgImageFallback = "Failed to generate image"

	msgDeliveryRunning  = "Sending digest to Slack..."
	msgDeliveryFallback = "Failed to send to Slack"
)

func reportInfo(message string) domain.Report {
	return domain.Report{Message: message, Severity: domain.SeverityInfo}
}

func reportSuccess(message string) domain.Report {
	return domain.Report{Message: message, Severity: domain.SeveritySuccess}
}

func reportError(message string) domain.Report {
	return domain.Report{Message: message, Severity: domain.SeverityError}
}

// runningReport returns the in-flight report for a stage.
func runningReport(stage domain.Stage) domain.Report {
	switch stage {
	case domain.StageImage:
		return reportInfo(msgImageRunning)
	case domain.StageDelivery:
		return reportInfo(msgDeliveryRunning)
	default:
		return reportInfo(msgDigestRunning)
	}
}

// isNetworkErrorText reports whether free-form transport error text looks
// like a network or timeout failure. This is the one place where substring
// classification survives: the input here really is untyped upstream text.
func isNetworkErrorText(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"failed to fetch", "network", "timeout", "deadline exceeded", "connection refused"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// digestTransportReport maps a transport failure of the digest stage to its
// user-facing report, with network/timeout failures phrased distinctly.
func digestTransportReport(errText string) domain.Report {
	if isNetworkErrorText(errText) {
		return reportError(msgDigestNetwork)
	}
	return reportError("Error: " + errText)
}
