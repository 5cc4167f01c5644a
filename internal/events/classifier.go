package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/bowerhall/nudge/internal/llm"
)

const classifierPrompt = `You extract life events from a user's message for a habit-tracking assistant.
Supported event types: business_dinner, illness, travel, overtime, family_event, social_gathering, special_occasion.
Reply with a JSON array only. Each element:
{"type": "<event type>", "confidence": <0..1>, "start": "<RFC3339 or empty>", "end": "<RFC3339 or empty>", "keywords": ["..."]}
The message was sent at %s. Reply [] when no supported event is mentioned.`

// LLMClassifier asks a chat model to label text the rules could not match
type LLMClassifier struct {
	client llm.LLM
}

func NewLLMClassifier(client llm.LLM) *LLMClassifier {
	return &LLMClassifier{client: client}
}

type classifiedEvent struct {
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Keywords   []string `json:"keywords"`
}

func (c *LLMClassifier) Classify(ctx context.Context, text string, at time.Time) ([]DetectedEvent, error) {
	prompt := fmt.Sprintf(classifierPrompt, at.Format(time.RFC3339))

	reply, err := c.client.Chat(ctx, prompt, []llm.Message{{Role: "user", Content: text}})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	return parseClassification(reply, at)
}

// parseClassification decodes the model reply, repairing the JSON first
// because models often add fences or trailing commas
func parseClassification(reply string, at time.Time) ([]DetectedEvent, error) {
	body := stripFences(reply)
	if body == "" {
		return nil, nil
	}

	var raw []classifiedEvent
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
			return nil, fmt.Errorf("decode repaired classification: %w", err)
		}
	}

	out := make([]DetectedEvent, 0, len(raw))
	for _, r := range raw {
		out = append(out, DetectedEvent{
			Type:       EventType(r.Type),
			Confidence: r.Confidence,
			StartTime:  parseTime(r.Start, at),
			EndTime:    parseTime(r.End, at),
			Source:     SourceConversation,
			Keywords:   r.Keywords,
			Detector:   DetectorFallback,
		})
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// some models wrap the array in prose
	if i := strings.Index(s, "["); i > 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}
	return s
}

func parseTime(s string, at time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(at.Location())
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, at.Location()); err == nil {
		return t
	}
	return time.Time{}
}
