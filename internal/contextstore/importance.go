package contextstore

import (
	"math"
	"time"

	"github.com/bowerhall/nudge/internal/events"
)

// importance weights
const (
	weightBase      = 0.3
	weightDecay     = 0.4
	weightFrequency = 0.2
	weightFeedback  = 0.1

	feedbackBoost   = 0.1
	frequencyWindow = 10.0
)

// baseImportance scales detector confidence by the event's impact level
func baseImportance(e events.DetectedEvent) float64 {
	impact := e.ImpactLevel
	if impact < 1 || impact > 5 {
		impact = 3
	}
	return clamp01(e.Confidence * float64(impact) / 5)
}

// timeDecay halves an event's weight every halfLife since it happened.
// Events in the future have not decayed.
func timeDecay(happened, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	hours := now.Sub(happened).Hours()
	return clamp01(math.Pow(2, -hours/halfLife.Hours()))
}

// frequencyFactor uses the count of same-type entries before the insert
func frequencyFactor(priorCount int) float64 {
	return math.Min(float64(priorCount)/frequencyWindow, 1)
}

func feedbackFactor(e events.DetectedEvent) float64 {
	if e.HasFeedback() {
		return feedbackBoost
	}
	return 0
}

func adjustedImportance(base, decay, frequency, feedback float64) float64 {
	return clamp01(weightBase*base + weightDecay*decay + weightFrequency*frequency + weightFeedback*feedback)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
