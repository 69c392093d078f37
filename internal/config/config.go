package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the indexing and analysis pipeline.
// All values come from env (godotenv loads .env in main) with defaults
// that match production behavior; tests construct Config directly.
type Config struct {
	// Chunking
	ChunkSize    int // max chars per chunk
	ChunkOverlap int // shared suffix/prefix chars between adjacent chunks

	// Tier thresholds. DirectMax < SamplingMax.
	DirectMax   int
	SamplingMax int

	// Indexing backfills
	IndexBatchSize  int           // chunks per batch sent to external services
	Concurrency     int           // hard cap on in-flight service calls
	StallTimeout    time.Duration // heartbeat age after which a job reads as stalled
	PerCallTimeout  time.Duration // timeout on a single external service call
	MaxRetryElapsed time.Duration // backoff budget per unit of work

	// Hierarchical analysis
	AnalysisBatchSize int // transcripts per map batch

	// Sampling
	SampleSeed int64
	SampleSize int // transcripts kept by the sampled tier

	// Retrieval
	TokenBudget        int     // default context window budget in tokens
	PerTranscriptShare float64 // max share of the budget one transcript may fill
	MinEmbedCoverage   float64 // below this fraction retrieval degrades
}

// Load reads configuration from env with defaults.
func Load() Config {
	return Config{
		ChunkSize:          envInt("CHUNK_SIZE", 2000),
		ChunkOverlap:       envInt("CHUNK_OVERLAP", 200),
		DirectMax:          envInt("DIRECT_MAX", 20),
		SamplingMax:        envInt("SAMPLING_MAX", 100),
		IndexBatchSize:     envInt("INDEX_BATCH_SIZE", 25),
		Concurrency:        envInt("INDEX_CONCURRENCY", 4),
		StallTimeout:       envDuration("STALL_TIMEOUT", 2*time.Minute),
		PerCallTimeout:     envDuration("SERVICE_CALL_TIMEOUT", 25*time.Second),
		MaxRetryElapsed:    envDuration("SERVICE_RETRY_BUDGET", 45*time.Second),
		AnalysisBatchSize:  envInt("ANALYSIS_BATCH_SIZE", 15),
		SampleSeed:         int64(envInt("SAMPLE_SEED", 42)),
		SampleSize:         envInt("SAMPLE_SIZE", 20),
		TokenBudget:        envInt("RETRIEVAL_TOKEN_BUDGET", 6000),
		PerTranscriptShare: envFloat("RETRIEVAL_PER_TRANSCRIPT_SHARE", 0.4),
		MinEmbedCoverage:   envFloat("RETRIEVAL_MIN_COVERAGE", 0.5),
	}
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func EnvOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
