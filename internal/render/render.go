package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/bowerhall/nudge/internal/profile"
)

// Data is what a template can reference
type Data struct {
	Name         string
	ReminderType string
	Time         string
}

// templates by reminder type, then communication style
var templates = map[string]map[string]string{
	"exercise": {
		profile.StyleFriendly:     "Hey {{.Name}}, time to get moving! A short workout now will feel great.",
		profile.StyleConcise:      "Exercise time.",
		profile.StyleMotivational: "{{.Name}}, every session counts. Lace up and crush today's workout!",
	},
	"diet": {
		profile.StyleFriendly:     "Hi {{.Name}}, a gentle reminder to keep your meals on plan today.",
		profile.StyleConcise:      "Log your meal.",
		profile.StyleMotivational: "Fuel your goals, {{.Name}}! Make this meal count.",
	},
	"water": {
		profile.StyleFriendly:     "Hi {{.Name}}, grab a glass of water!",
		profile.StyleConcise:      "Drink water.",
		profile.StyleMotivational: "Stay sharp, {{.Name}}: hydrate now!",
	},
	"sleep": {
		profile.StyleFriendly:     "It's getting late, {{.Name}}. Time to wind down for bed.",
		profile.StyleConcise:      "Bedtime.",
		profile.StyleMotivational: "Great days start tonight, {{.Name}}. Head to bed and recharge!",
	},
	"weight": {
		profile.StyleFriendly:     "Morning {{.Name}}! Don't forget to log your weight.",
		profile.StyleConcise:      "Log your weight.",
		profile.StyleMotivational: "Track it to beat it, {{.Name}}. Step on the scale!",
	},
}

var generic = map[string]string{
	profile.StyleFriendly:     "Hi {{.Name}}, this is your {{.ReminderType}} reminder.",
	profile.StyleConcise:      "{{.ReminderType}} reminder.",
	profile.StyleMotivational: "You've got this, {{.Name}}! Time for your {{.ReminderType}}.",
}

// Renderer holds the parsed templates
type Renderer struct {
	byType  map[string]map[string]*template.Template
	generic map[string]*template.Template
}

func New() (*Renderer, error) {
	r := &Renderer{
		byType:  make(map[string]map[string]*template.Template),
		generic: make(map[string]*template.Template),
	}

	for reminderType, styles := range templates {
		r.byType[reminderType] = make(map[string]*template.Template)
		for style, text := range styles {
			tmpl, err := template.New(reminderType + "." + style).Option("missingkey=zero").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parse %s/%s template: %w", reminderType, style, err)
			}
			r.byType[reminderType][style] = tmpl
		}
	}

	for style, text := range generic {
		tmpl, err := template.New("generic." + style).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse generic/%s template: %w", style, err)
		}
		r.generic[style] = tmpl
	}

	return r, nil
}

// Render picks the template for the reminder type and style, falling back to
// the friendly style and then to the generic template
func (r *Renderer) Render(reminderType, style string, data Data) (string, error) {
	if data.Name == "" {
		data.Name = "there"
	}
	if data.ReminderType == "" {
		data.ReminderType = strings.ReplaceAll(reminderType, "_", " ")
	}

	tmpl := r.pick(reminderType, style)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", reminderType, err)
	}
	return buf.String(), nil
}

func (r *Renderer) pick(reminderType, style string) *template.Template {
	if styles, ok := r.byType[reminderType]; ok {
		if t, ok := styles[style]; ok {
			return t
		}
		return styles[profile.StyleFriendly]
	}
	if t, ok := r.generic[style]; ok {
		return t
	}
	return r.generic[profile.StyleFriendly]
}
