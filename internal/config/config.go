// Package config loads the runtime configuration for the orix server from
// environment variables (with optional .env overrides), following the same
// env-first convention the teacher codebase uses for its daemon entrypoint.
package config

// AnthropicPromptCacheConfig scopes Anthropic prompt caching to system,
// tools, and/or message content blocks.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// OpenAIConfig configures the OpenAI adapter (also used for self-hosted
// OpenAI-compatible endpoints via BaseURL/API).
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	API         string // "completions" (default) or "responses"
	ExtraParams map[string]any
	LogPayloads bool
}

// GoogleConfig configures the Google Gemini adapter.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// EmbeddingConfig configures the plain-HTTP embedding fallback client used
// by the Memory Manager's embedding cache/batcher.
type EmbeddingConfig struct {
	Model     string
	BaseURL   string
	Path      string
	APIHeader string // e.g. "Authorization" or a custom header name
	APIKey    string
	Headers   map[string]string // extra headers, applied after APIHeader/APIKey
	Timeout   int               // seconds
}

// LLMConfig selects which provider backs the Model Gateway and carries each
// adapter's own settings so more than one can be configured at once (the
// gateway picks the active one by name).
type LLMConfig struct {
	Provider  string // "anthropic" | "openai" | "google" | "local"
	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Google    GoogleConfig
	Embedding EmbeddingConfig

	RetryAttempts     int
	RetryBaseDelayMS  int
	CallTimeoutSec    int
	BreakerThreshold  int
	BreakerCooldownMS int
}

// PostgresConfig configures the Archive.
type PostgresConfig struct {
	DSN string
}

// QdrantConfig configures the Recall Index.
type QdrantConfig struct {
	DSN        string
	Dimensions int
	Distance   string // cosine|l2|euclidean|ip|dot|manhattan
}

// RedisConfig configures the Durable Log.
type RedisConfig struct {
	Addr string
}

// StorageCoordinatorConfig tunes the priority fan-out.
type StorageCoordinatorConfig struct {
	BatchSize      int
	FlushIntervalS int
	MaxRetries     int
}

// MemoryConfig tunes the Memory Manager.
type MemoryConfig struct {
	EmbeddingCacheSize  int
	EmbeddingCacheTTLS  int
	BatchWindowMS       int
	BatchSize           int
	LTMThreshold        float64
	CachedAnswerThresh  float64
	MaxSTMResults       int
	MaxLTMResults       int
	RollupInterval      int // messages between LTM rollups, default 10
	SummarizeLastN      int
}

// PlannerConfig tunes plan generation.
type PlannerConfig struct {
	MaxTasks              int
	MaxConsecutiveWork    int
	DefaultMaxRetries     int
}

// WorkerConfig tunes the reason-act loop.
type WorkerConfig struct {
	MaxTurns       int
	MaxTurnsRetry  int
	ToolDeadlineS  int
}

// SessionConfig tunes the Session Executor.
type SessionConfig struct {
	MaxTurns           int
	MaxHistoryMessages int
	ComplexityMinTasks int
}

// AuthConfig toggles the minimal header-based session-auth check.
type AuthConfig struct {
	Enabled bool
	Token   string
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// KafkaConfig configures the optional Orchestrator event-bus publisher.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// WebConfig configures the web_search tool's SearXNG backend.
type WebConfig struct {
	SearXNGURL string
}

// Config is the fully assembled runtime configuration.
type Config struct {
	Host string
	Port int

	LogPath  string
	LogLevel string

	LLM        LLMConfig
	Postgres   PostgresConfig
	Qdrant     QdrantConfig
	Redis      RedisConfig
	Storage    StorageCoordinatorConfig
	Memory     MemoryConfig
	Planner    PlannerConfig
	Worker     WorkerConfig
	Session    SessionConfig
	Auth       AuthConfig
	Obs        ObsConfig
	Kafka      KafkaConfig
	Web        WebConfig
}
