package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns and is threaded through
// constructors; nothing reads the environment after startup.
type Config struct {
	AppName    string
	AppVersion string
	APIHost    string
	APIPort    int

	CORSOrigins []string

	// Log sinks (MongoDB)
	MongoURL              string
	MongoDatabase         string
	MongoCollectionLogs   string
	MongoCollectionSafety string

	// Vector index — remote managed (Qdrant) takes precedence when set,
	// otherwise the embedded on-disk store is used.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	ChromaPersistDirectory string
	ChromaCollectionName   string

	// Embedding provider
	EmbeddingDimension  int
	NIMEmbeddingAPIKey  string
	NIMEmbeddingModel   string
	NIMEmbeddingAPIURL  string
	LocalEmbeddingModel string

	// LLM provider (OpenAI-compatible chat completions)
	LLMAPIKey      string
	LLMModel       string
	LLMAPIURL      string
	LLMMaxTokens   int
	LLMTemperature float64

	// Chunking & retrieval
	ChunkSize         int
	ChunkOverlap      int
	MaxChunksPerQuery int

	// Caches
	RedisURL          string
	CacheTTLSeconds   int
	EmbeddingCacheTTL int

	// Admission
	RateLimitRequests int
	RateLimitWindow   int

	// Safety tuning
	SafetyEnabled            bool
	MedicalAdviceThreshold   float64
	CrisisDetectionThreshold float64
}

// Load reads configuration from environment variables. Every option has a
// development default; nothing is hard-required so the service can boot with
// local fallbacks (in-memory rate limiting, embedded index, mock LLM).
func Load() (*Config, error) {
	cfg := &Config{
		AppName:    envStr("APP_NAME", "wellness-rag-backend"),
		AppVersion: envStr("APP_VERSION", "0.1.0"),
		APIHost:    envStr("API_HOST", "0.0.0.0"),
		APIPort:    envInt("API_PORT", 8000),

		CORSOrigins: envStrSlice("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:8080"}),

		MongoURL:              envStr("MONGODB_URL", ""),
		MongoDatabase:         envStr("MONGODB_DATABASE", "wellness_rag"),
		MongoCollectionLogs:   envStr("MONGODB_COLLECTION_LOGS", "interaction_logs"),
		MongoCollectionSafety: envStr("MONGODB_COLLECTION_SAFETY", "safety_incidents"),

		QdrantURL:        envStr("QDRANT_URL", ""),
		QdrantAPIKey:     envStr("QDRANT_API_KEY", ""),
		QdrantCollection: envStr("QDRANT_COLLECTION_NAME", "wellness-knowledge"),

		ChromaPersistDirectory: envStr("CHROMA_PERSIST_DIRECTORY", "./data/chroma"),
		ChromaCollectionName:   envStr("CHROMA_COLLECTION_NAME", "wellness_chunks"),

		EmbeddingDimension:  envInt("EMBEDDING_DIMENSION", 1024),
		NIMEmbeddingAPIKey:  envStr("NVIDIA_EMBEDDING_API_KEY", ""),
		NIMEmbeddingModel:   envStr("NVIDIA_EMBEDDING_MODEL", "nvidia/nv-embedqa-e5-v5"),
		NIMEmbeddingAPIURL:  envStr("NVIDIA_EMBEDDING_API_URL", "https://integrate.api.nvidia.com/v1/embeddings"),
		LocalEmbeddingModel: envStr("LOCAL_EMBEDDING_MODEL", "all-MiniLM-L6-v2"),

		LLMAPIKey:      envStr("NVIDIA_LLM_API_KEY", envStr("OPENAI_API_KEY", "")),
		LLMModel:       envStr("NVIDIA_LLM_MODEL", "meta/llama-3.1-8b-instruct"),
		LLMAPIURL:      envStr("NVIDIA_LLM_API_URL", "https://integrate.api.nvidia.com/v1/chat/completions"),
		LLMMaxTokens:   envInt("OPENAI_MAX_TOKENS", 4000),
		LLMTemperature: envFloat("OPENAI_TEMPERATURE", 0.7),

		ChunkSize:         envInt("CHUNK_SIZE", 512),
		ChunkOverlap:      envInt("CHUNK_OVERLAP", 50),
		MaxChunksPerQuery: envInt("MAX_CHUNKS_PER_QUERY", 5),

		RedisURL:          envStr("REDIS_URL", ""),
		CacheTTLSeconds:   envInt("CACHE_TTL", 3600),
		EmbeddingCacheTTL: envInt("EMBEDDING_CACHE_TTL", 86400),

		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   envInt("RATE_LIMIT_WINDOW", 60),

		SafetyEnabled:            envBool("SAFETY_ENABLED", true),
		MedicalAdviceThreshold:   envFloat("MEDICAL_ADVICE_THRESHOLD", 0.8),
		CrisisDetectionThreshold: envFloat("CRISIS_DETECTION_THRESHOLD", 0.9),
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("config.Load: CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.EmbeddingDimension <= 0 {
		return nil, fmt.Errorf("config.Load: EMBEDDING_DIMENSION must be positive, got %d", cfg.EmbeddingDimension)
	}

	return cfg, nil
}

// UseQdrant reports whether the remote managed index is configured.
func (c *Config) UseQdrant() bool {
	return c.QdrantURL != ""
}

// UseNIMEmbeddings reports whether the remote embedding provider is configured.
func (c *Config) UseNIMEmbeddings() bool {
	return c.NIMEmbeddingAPIKey != ""
}

// UseLLM reports whether an upstream LLM is configured.
func (c *Config) UseLLM() bool {
	return c.LLMAPIKey != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
