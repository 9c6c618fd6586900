// Package config loads Sitebookify's service configuration from a YAML
// file and overlays the environment variables documented in spec.md §6.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CrawlerConfig holds defaults for the C2 crawler when a CreateJob
// request doesn't override them.
type CrawlerConfig struct {
	UserAgent       string `yaml:"userAgent"`
	TimeoutMs       int    `yaml:"timeoutMs"`
	MaxPagesDefault int    `yaml:"maxPagesDefault"`
	MaxDepthDefault int    `yaml:"maxDepthDefault"`
	Concurrency     int    `yaml:"concurrency"`
	DelayMs         int    `yaml:"delayMs"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	PollIntervalMs    int `yaml:"pollIntervalMs"`
}

// ExecutionMode selects whether CreateJob runs the pipeline in-process
// or dispatches it to a remote worker service (§4.11).
type ExecutionMode string

const (
	ExecutionInProcess ExecutionMode = "inprocess"
	ExecutionWorker    ExecutionMode = "worker"
)

type DispatchConfig struct {
	ExecutionMode    ExecutionMode `yaml:"executionMode"`
	WorkerURL        string        `yaml:"workerUrl"`
	WorkerAuthToken  string        `yaml:"workerAuthToken"`
}

type OpenAIConfig struct {
	APIKey          string `yaml:"apiKey"`
	BaseURL         string `yaml:"baseURL"`
	Model           string `yaml:"model"`
	ReasoningEffort string `yaml:"reasoningEffort"`
}

type LLMConfig struct {
	Engine         string       `yaml:"engine"` // noop | openai | command
	OpenAI         OpenAIConfig `yaml:"openai"`
	CommandPath    string       `yaml:"commandPath"`
	RewritePrompt  string       `yaml:"rewritePrompt"`
	TranslateTo    string       `yaml:"translateTo"`
	MaxChars       int          `yaml:"maxChars"`
	Concurrency    int          `yaml:"concurrency"`
	Retries        int          `yaml:"retries"`
}

// RetentionConfig controls the job TTL sweep (Open Question 9c).
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	JobTTLHours            int  `yaml:"jobTTLHours"`
}

// ArtifactConfig controls the ArtifactStore backing and signed-URL TTL.
type ArtifactConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	SignedURLTTL   int    `yaml:"signedUrlTtlSecs"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DataDir   string          `yaml:"dataDir"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	LLM       LLMConfig       `yaml:"llm"`
	Retention RetentionConfig `yaml:"retention"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
	LogLevel  string          `yaml:"logLevel"`
	LogFormat string          `yaml:"logFormat"`
}

// Default returns baseline configuration matching spec.md's documented
// defaults (24h job TTL, 3600s signed URL TTL, etc).
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		DataDir: "./data",
		Crawler: CrawlerConfig{
			UserAgent:       "sitebookify/1.0",
			TimeoutMs:       15000,
			MaxPagesDefault: 200,
			MaxDepthDefault: 5,
			Concurrency:     4,
			DelayMs:         250,
		},
		Worker: WorkerConfig{MaxConcurrentJobs: 2, PollIntervalMs: 2000},
		Dispatch: DispatchConfig{
			ExecutionMode: ExecutionInProcess,
		},
		LLM: LLMConfig{
			Engine:      "noop",
			MaxChars:    4000,
			Concurrency: 4,
			Retries:     2,
		},
		Retention: RetentionConfig{
			Enabled:                true,
			CleanupIntervalMinutes: 60,
			JobTTLHours:            24,
		},
		Artifact: ArtifactConfig{SignedURLTTL: 3600},
		LogLevel: "info",
	}
}

// Load reads a YAML config file (if path is non-empty and exists) over
// the defaults, then overlays the environment. This mirrors raito's
// config.Load plus a centralized env layer — raito threaded individual
// env lookups through main.go and handlers instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overlays the environment variables enumerated in spec.md §6
// onto cfg. lookup is injected so tests don't need to mutate process env.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	intVal := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("SITEBOOKIFY_DATA_DIR", &cfg.DataDir)
	str("SITEBOOKIFY_ARTIFACT_BUCKET", &cfg.Artifact.Bucket)
	intVal("SITEBOOKIFY_SIGNED_URL_TTL_SECS", &cfg.Artifact.SignedURLTTL)

	if v, ok := lookup("SITEBOOKIFY_EXECUTION_MODE"); ok && v != "" {
		cfg.Dispatch.ExecutionMode = ExecutionMode(v)
	}
	str("SITEBOOKIFY_WORKER_URL", &cfg.Dispatch.WorkerURL)
	if v, ok := lookup("SITEBOOKIFY_WORKER_AUTH_TOKEN"); ok && v != "" {
		cfg.Dispatch.WorkerAuthToken = v
	}
	if v, ok := lookup("SITEBOOKIFY_INTERNAL_DISPATCH_TOKEN"); ok && v != "" {
		cfg.Dispatch.WorkerAuthToken = v
	}

	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	str("SITEBOOKIFY_OPENAI_API_KEY", &cfg.LLM.OpenAI.APIKey)
	str("SITEBOOKIFY_OPENAI_MODEL", &cfg.LLM.OpenAI.Model)
	str("SITEBOOKIFY_OPENAI_REASONING_EFFORT", &cfg.LLM.OpenAI.ReasoningEffort)
	str("SITEBOOKIFY_OPENAI_BASE_URL", &cfg.LLM.OpenAI.BaseURL)
	str("SITEBOOKIFY_REWRITE_PROMPT", &cfg.LLM.RewritePrompt)
	str("SITEBOOKIFY_TRANSLATE_TO", &cfg.LLM.TranslateTo)

	str("RUST_LOG", &cfg.LogLevel)
	str("SITEBOOKIFY_LOG", &cfg.LogLevel)
	str("SITEBOOKIFY_LOG_FORMAT", &cfg.LogFormat)
}

// Validate performs basic sanity checks, failing fast on an unusable
// configuration rather than during the first job run.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.DataDir == "" {
		return errors.New("dataDir must be set")
	}
	switch cfg.Dispatch.ExecutionMode {
	case ExecutionInProcess:
	case ExecutionWorker:
		if strings.TrimSpace(cfg.Dispatch.WorkerURL) == "" {
			return errors.New("dispatch.workerUrl must be set when executionMode is 'worker'")
		}
		if strings.TrimSpace(cfg.Dispatch.WorkerAuthToken) == "" {
			return errors.New("dispatch.workerAuthToken must be set when executionMode is 'worker'")
		}
	default:
		return fmt.Errorf("unsupported dispatch.executionMode: %s", cfg.Dispatch.ExecutionMode)
	}
	if cfg.Artifact.SignedURLTTL < 60 || cfg.Artifact.SignedURLTTL > 604800 {
		return fmt.Errorf("artifact.signedUrlTtlSecs must be in [60, 604800], got %d", cfg.Artifact.SignedURLTTL)
	}
	switch cfg.LLM.Engine {
	case "noop", "openai", "command", "":
	default:
		return fmt.Errorf("unsupported llm.engine: %s", cfg.LLM.Engine)
	}
	if cfg.LLM.Engine == "openai" && cfg.LLM.OpenAI.APIKey == "" {
		return errors.New("llm.engine is 'openai' but no API key is configured")
	}
	if cfg.LLM.Engine == "command" && strings.TrimSpace(cfg.LLM.CommandPath) == "" {
		return errors.New("llm.engine is 'command' but llm.commandPath is empty")
	}
	return nil
}

// JobTTL returns the configured job retention TTL as a duration.
func (cfg *Config) JobTTL() time.Duration {
	hours := cfg.Retention.JobTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
