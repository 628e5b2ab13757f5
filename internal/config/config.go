package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by SYNAPSE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("SYNAPSE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DataDir returns the directory for persisted snapshots.
// Defaults to ".synapse" if not set.
func DataDir() string {
	dir := os.Getenv("DATA_DIR")
	if dir == "" {
		return ".synapse"
	}
	return dir
}

// KnowledgePath returns the knowledge graph snapshot file path.
func KnowledgePath() string {
	p := os.Getenv("KNOWLEDGE_PATH")
	if p == "" {
		return DataDir() + "/knowledge.json"
	}
	return p
}

// PatternsPath returns the pattern analyzer snapshot file path.
func PatternsPath() string {
	p := os.Getenv("PATTERNS_PATH")
	if p == "" {
		return DataDir() + "/patterns.json"
	}
	return p
}

// FlushInterval returns the background snapshot flush interval.
// Defaults to 1s if not set.
func FlushInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("FLUSH_INTERVAL"))
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
