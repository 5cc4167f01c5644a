package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bowerhall/nudge/internal/decision"
	"github.com/bowerhall/nudge/internal/llm"
)

func Load() (*Config, error) {
	dbPath := os.Getenv("NUDGE_DB")
	if dbPath == "" {
		dbPath = "nudge.db"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ %q: %w", timezone, err)
	}

	rulesPath := os.Getenv("NUDGE_RULES")
	if rulesPath == "" {
		rulesPath = "rules.yaml"
	}

	decisionConfig, err := loadDecisionConfig()
	if err != nil {
		return nil, err
	}

	fallbackConfig, err := loadFallbackConfig()
	if err != nil {
		return nil, err
	}

	metricsAddr, ok := os.LookupEnv("METRICS_ADDR")
	if !ok {
		metricsAddr = ":9090"
	}

	var alertChatID int64
	if id, err := strconv.ParseInt(os.Getenv("ALERT_CHAT_ID"), 10, 64); err == nil {
		alertChatID = id
	}

	return &Config{
		DBPath:      dbPath,
		Timezone:    timezone,
		Location:    loc,
		RulesPath:   rulesPath,
		Scheduler:   loadSchedulerConfig(),
		Decision:    decisionConfig,
		Channels:    loadChannelsConfig(),
		Fallback:    fallbackConfig,
		Context:     loadContextConfig(),
		Storage:     loadStorageConfig(),
		MetricsAddr: metricsAddr,
		AlertChatID: alertChatID,
	}, nil
}

func loadSchedulerConfig() SchedulerConfig {
	schedule := os.Getenv("MAINTENANCE_SCHEDULE")
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	return SchedulerConfig{
		Interval:            envDuration("SCHEDULER_INTERVAL", 5*time.Minute),
		Window:              envDuration("FIRING_WINDOW", 5*time.Minute),
		MaxRetries:          envInt("JOB_MAX_RETRIES", 3),
		BatchSize:           envInt("WORKER_BATCH_SIZE", 50),
		Retention:           envDuration("JOB_RETENTION", 7*24*time.Hour),
		MaintenanceSchedule: schedule,
	}
}

func loadDecisionConfig() (DecisionConfig, error) {
	mode, err := decision.ParseMode(os.Getenv("DECISION_MODE"))
	if err != nil {
		return DecisionConfig{}, err
	}

	return DecisionConfig{
		// on unless explicitly turned off
		Enabled: os.Getenv("DECISION_ENABLED") != "false",
		Mode:    string(mode),
	}, nil
}

func loadChannelsConfig() ChannelsConfig {
	defaultChannel := os.Getenv("DEFAULT_CHANNEL")
	if defaultChannel == "" {
		defaultChannel = "inapp"
	}

	return ChannelsConfig{
		Default:       defaultChannel,
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
	}
}

func loadFallbackConfig() (FallbackConfig, error) {
	provider := os.Getenv("FALLBACK_PROVIDER")
	timeout := envDuration("FALLBACK_TIMEOUT", 5*time.Second)
	if provider == "" {
		return FallbackConfig{Timeout: timeout}, nil
	}

	if !llm.IsKnownProvider(provider) {
		return FallbackConfig{}, fmt.Errorf("unknown FALLBACK_PROVIDER: %s", provider)
	}

	apiKey, err := getAPIKey(provider)
	if err != nil {
		return FallbackConfig{}, err
	}

	return FallbackConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv("FALLBACK_MODEL"),
		BaseURL:  os.Getenv("FALLBACK_BASE_URL"),
		Timeout:  timeout,
	}, nil
}

func loadContextConfig() ContextConfig {
	return ContextConfig{
		Capacity: envInt("CONTEXT_CAPACITY", 100),
		TTL:      envDuration("CONTEXT_TTL", 30*time.Minute),
		HalfLife: envDuration("CONTEXT_HALF_LIFE", 168*time.Hour),
		MaxUsers: envInt("CONTEXT_MAX_USERS", 10000),
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	bucket := os.Getenv("ARCHIVE_BUCKET")
	if bucket == "" {
		bucket = "nudge-archive"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
	}
}

func getAPIKey(provider string) (string, error) {
	if key := os.Getenv("FALLBACK_API_KEY"); key != "" {
		return key, nil
	}

	var env string
	switch provider {
	case "claude":
		env = "ANTHROPIC_API_KEY"
	case "openai":
		env = "OPENAI_API_KEY"
	case "kimi":
		env = "KIMI_API_KEY"
	case "ollama":
		// Ollama doesn't need an API key
		return "ollama", nil
	default:
		return "", fmt.Errorf("FALLBACK_API_KEY not set")
	}

	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%s not set", env)
	}
	return key, nil
}

// malformed or non-positive values fall back to the default
func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}
