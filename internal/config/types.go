package config

import "time"

type Config struct {
	DBPath    string
	Timezone  string
	Location  *time.Location
	RulesPath string

	Scheduler SchedulerConfig
	Decision  DecisionConfig
	Channels  ChannelsConfig
	Fallback  FallbackConfig
	Context   ContextConfig
	Storage   StorageConfig

	// MetricsAddr is the ops server listen address; empty disables it
	MetricsAddr string
	AlertChatID int64
}

type SchedulerConfig struct {
	Interval            time.Duration
	Window              time.Duration
	MaxRetries          int
	BatchSize           int
	Retention           time.Duration
	MaintenanceSchedule string
}

type DecisionConfig struct {
	Enabled bool
	Mode    string
}

type ChannelsConfig struct {
	Default       string
	TelegramToken string
	DiscordToken  string
}

// FallbackConfig selects the classifier LLM. An empty provider disables
// fallback classification.
type FallbackConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

func (f FallbackConfig) Enabled() bool {
	return f.Provider != ""
}

type ContextConfig struct {
	Capacity int
	TTL      time.Duration
	HalfLife time.Duration
	MaxUsers int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}
