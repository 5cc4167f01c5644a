package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/nudge/internal/rules"
)

var ErrNotFound = errors.New("profile not found")

// Communication styles understood by the renderer
const (
	StyleFriendly     = "friendly"
	StyleConcise      = "concise"
	StyleMotivational = "motivational"
)

// Profile is the slice of user data the pipeline reads
type Profile struct {
	UserID             string
	DisplayName        string
	CommunicationStyle string
	StressLevel        int
	Flexibility        float64
	PreferredTimes     []string // "HH:MM", in order of preference
	PreferredChannel   string
	TelegramChatID     int64
	DiscordChannelID   string
	HasActiveGoal      bool
	UpdatedAt          time.Time
}

// PreferredOffsets returns the valid preferred times as offsets from midnight
func (p *Profile) PreferredOffsets() []time.Duration {
	var out []time.Duration
	for _, s := range p.PreferredTimes {
		if d, err := rules.ParseClock(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    communication_style TEXT NOT NULL DEFAULT 'friendly',
    stress_level INTEGER NOT NULL DEFAULT 0,
    flexibility REAL NOT NULL DEFAULT 0.5,
    preferred_times TEXT NOT NULL DEFAULT '[]',
    preferred_channel TEXT NOT NULL DEFAULT '',
    telegram_chat_id INTEGER NOT NULL DEFAULT 0,
    discord_channel_id TEXT NOT NULL DEFAULT '',
    has_active_goal INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create profile schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Upsert(ctx context.Context, p *Profile) error {
	times, err := json.Marshal(p.PreferredTimes)
	if err != nil {
		return err
	}
	if p.CommunicationStyle == "" {
		p.CommunicationStyle = StyleFriendly
	}
	p.UpdatedAt = s.now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, display_name, communication_style, stress_level, flexibility,
			preferred_times, preferred_channel, telegram_chat_id, discord_channel_id, has_active_goal, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			communication_style = excluded.communication_style,
			stress_level = excluded.stress_level,
			flexibility = excluded.flexibility,
			preferred_times = excluded.preferred_times,
			preferred_channel = excluded.preferred_channel,
			telegram_chat_id = excluded.telegram_chat_id,
			discord_channel_id = excluded.discord_channel_id,
			has_active_goal = excluded.has_active_goal,
			updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.CommunicationStyle, p.StressLevel, p.Flexibility,
		string(times), p.PreferredChannel, p.TelegramChatID, p.DiscordChannelID, p.HasActiveGoal, p.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	var times string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, communication_style, stress_level, flexibility,
			preferred_times, preferred_channel, telegram_chat_id, discord_channel_id, has_active_goal, updated_at
		FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.CommunicationStyle, &p.StressLevel, &p.Flexibility,
		&times, &p.PreferredChannel, &p.TelegramChatID, &p.DiscordChannelID, &p.HasActiveGoal, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(times), &p.PreferredTimes); err != nil {
		return nil, fmt.Errorf("decode preferred times for %s: %w", userID, err)
	}
	p.UpdatedAt = time.Unix(0, updatedAt)

	return &p, nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = ?`, userID)
	return err
}
