package render

import (
	"testing"

	"github.com/bowerhall/nudge/internal/profile"
)

func TestRender(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		reminderType string
		style        string
		data         Data
		want         string
	}{
		{"water", profile.StyleConcise, Data{}, "Drink water."},
		{"water", profile.StyleFriendly, Data{Name: "Sam"}, "Hi Sam, grab a glass of water!"},
		{"water", "sarcastic", Data{Name: "Sam"}, "Hi Sam, grab a glass of water!"},
		{"exercise", "", Data{}, "Hey there, time to get moving! A short workout now will feel great."},
		{"meditation", profile.StyleConcise, Data{}, "meditation reminder."},
		{"blood_pressure", "unknown", Data{Name: "Ada"}, "Hi Ada, this is your blood pressure reminder."},
	}

	for _, tt := range tests {
		got, err := r.Render(tt.reminderType, tt.style, tt.data)
		if err != nil {
			t.Errorf("Render(%s, %s): %v", tt.reminderType, tt.style, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%s, %s) = %q, want %q", tt.reminderType, tt.style, got, tt.want)
		}
	}
}

func TestEveryTypeHasAllStyles(t *testing.T) {
	for reminderType, styles := range templates {
		for _, style := range []string{profile.StyleFriendly, profile.StyleConcise, profile.StyleMotivational} {
			if _, ok := styles[style]; !ok {
				t.Errorf("%s is missing the %s style", reminderType, style)
			}
		}
	}
}
