package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/nudge/internal/events"
)

// Mode sets how far the engine trusts detected context over the plain rule
// of "send the reminder as planned"
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeIntelligent  Mode = "intelligent"
)

// Weights split trust between the rule-based and the context-driven branch
type Weights struct {
	Rule float64
	AI   float64
}

func (m Mode) Weights() Weights {
	switch m {
	case ModeConservative:
		return Weights{Rule: 0.8, AI: 0.2}
	case ModeIntelligent:
		return Weights{Rule: 0.2, AI: 0.8}
	default:
		return Weights{Rule: 0.5, AI: 0.5}
	}
}

// ParseMode accepts a mode name, defaulting to balanced when empty
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBalanced, nil
	case ModeConservative, ModeBalanced, ModeIntelligent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown decision mode %q", s)
	}
}

// Branch names the pipeline step that produced a result
type Branch string

const (
	BranchRuleBlock  Branch = "rule_block"
	BranchStandard   Branch = "standard"
	BranchReschedule Branch = "reschedule"
	BranchFault      Branch = "fault"
)

// Plan is the reminder as originally scheduled
type Plan struct {
	PlannedAt time.Time
	Message   string
}

// Window is a proposed alternative time
type Window struct {
	Start time.Time
	End   time.Time
}

// Result is the outcome of one decision. Reasoning is never empty.
type Result struct {
	Send        bool
	Adjusted    bool
	Message     string
	Reasoning   string
	NewSchedule []Window
	Timing      *time.Time
	Branch      Branch
	Conflicts   []events.DetectedEvent
}
