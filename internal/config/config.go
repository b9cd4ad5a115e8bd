package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultOrchestratorAddr = ":8000"
	defaultWorkerAddr       = ":8001"
	defaultWorkerName       = "worker"
	defaultAdvertiseURL     = "http://localhost:8001"
	defaultMaxQueue         = 5
	defaultHistoryLimit     = 1000
	defaultHistoryDB        = ":memory:"
	defaultSynthURL         = "http://localhost:5002"

	defaultTickInterval      = time.Second
	defaultCallTimeout       = 5 * time.Second
	defaultPollInterval      = 50 * time.Millisecond
	defaultStreamInterval    = 500 * time.Millisecond
	defaultUnknownJobTimeout = 30 * time.Second
	defaultSynthTimeout      = 120 * time.Second

	envConfigFile = "VOXHUB_CONFIG"
	envLogLevel   = "VOXHUB_LOG_LEVEL"

	envOrchestratorAddr = "VOXHUB_ORCHESTRATOR_LISTEN_ADDR"
	envTickInterval     = "VOXHUB_TICK_INTERVAL"
	envCallTimeout      = "VOXHUB_CALL_TIMEOUT"
	envRequeue          = "VOXHUB_REQUEUE_ON_FAILURE"

	envWorkerAddr        = "VOXHUB_WORKER_LISTEN_ADDR"
	envWorkerName        = "VOXHUB_WORKER_NAME"
	envAdvertiseURL      = "VOXHUB_ADVERTISE_URL"
	envOrchestratorURL   = "VOXHUB_ORCHESTRATOR_URL"
	envMaxQueue          = "VOXHUB_MAX_QUEUE"
	envCapabilities      = "VOXHUB_CAPABILITIES"
	envPollInterval      = "VOXHUB_POLL_INTERVAL"
	envStreamInterval    = "VOXHUB_STREAM_INTERVAL"
	envUnknownJobTimeout = "VOXHUB_UNKNOWN_JOB_TIMEOUT"
	envOutputDir         = "VOXHUB_OUTPUT_DIR"
	envHistoryLimit      = "VOXHUB_HISTORY_LIMIT"
	envHistoryDB         = "VOXHUB_HISTORY_DB"
	envRedisAddr         = "VOXHUB_REDIS_ADDR"
	envRedisPrefix       = "VOXHUB_REDIS_PREFIX"
	envSynthesizer       = "VOXHUB_SYNTHESIZER"
	envSynthURL          = "VOXHUB_SYNTH_URL"
	envSynthTimeout      = "VOXHUB_SYNTH_TIMEOUT"
	envOpenAIKey         = "VOXHUB_OPENAI_API_KEY"
	envOpenAIBaseURL     = "VOXHUB_OPENAI_BASE_URL"
	envOpenAIModel       = "VOXHUB_OPENAI_MODEL"
	envOpenAIVoice       = "VOXHUB_OPENAI_VOICE"
)

// Synthesizer backends a worker can be configured with.
const (
	SynthesizerHTTP   = "http"
	SynthesizerOpenAI = "openai"
	SynthesizerTone   = "tone"
)

// ErrInvalidConfig is returned when configuration values are unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration that reads from TOML strings such as "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds configuration for both processes. Values come from an
// optional TOML file named by VOXHUB_CONFIG, then from environment
// variables, which take precedence.
type Config struct {
	LogLevel     string             `toml:"log_level"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Worker       WorkerConfig       `toml:"worker"`
}

// OrchestratorConfig configures the orchestrator process.
type OrchestratorConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	TickInterval     Duration `toml:"tick_interval"`
	CallTimeout      Duration `toml:"call_timeout"`
	RequeueOnFailure bool     `toml:"requeue_on_failure"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	Name            string   `toml:"name"`
	AdvertiseURL    string   `toml:"advertise_url"`
	OrchestratorURL string   `toml:"orchestrator_url"`
	MaxQueue        int      `toml:"max_queue"`
	Capabilities    []string `toml:"capabilities"`

	PollInterval      Duration `toml:"poll_interval"`
	StreamInterval    Duration `toml:"stream_interval"`
	UnknownJobTimeout Duration `toml:"unknown_job_timeout"`
	OutputDir         string   `toml:"output_dir"`

	HistoryLimit int    `toml:"history_limit"`
	HistoryDB    string `toml:"history_db"`
	RedisAddr    string `toml:"redis_addr"`
	RedisPrefix  string `toml:"redis_prefix"`

	Synthesizer   string   `toml:"synthesizer"`
	SynthURL      string   `toml:"synth_url"`
	SynthTimeout  Duration `toml:"synth_timeout"`
	OpenAIKey     string   `toml:"openai_api_key"`
	OpenAIBaseURL string   `toml:"openai_base_url"`
	OpenAIModel   string   `toml:"openai_model"`
	OpenAIVoice   string   `toml:"openai_voice"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Orchestrator: OrchestratorConfig{
			ListenAddr:       defaultOrchestratorAddr,
			TickInterval:     Duration{defaultTickInterval},
			CallTimeout:      Duration{defaultCallTimeout},
			RequeueOnFailure: true,
		},
		Worker: WorkerConfig{
			ListenAddr:        defaultWorkerAddr,
			Name:              defaultWorkerName,
			AdvertiseURL:      defaultAdvertiseURL,
			MaxQueue:          defaultMaxQueue,
			Capabilities:      []string{"tts"},
			PollInterval:      Duration{defaultPollInterval},
			StreamInterval:    Duration{defaultStreamInterval},
			UnknownJobTimeout: Duration{defaultUnknownJobTimeout},
			OutputDir:         os.TempDir(),
			HistoryLimit:      defaultHistoryLimit,
			HistoryDB:         defaultHistoryDB,
			Synthesizer:       SynthesizerHTTP,
			SynthURL:          defaultSynthURL,
			SynthTimeout:      Duration{defaultSynthTimeout},
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file and
// the environment, then validates it.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the TOML file at path over cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks values that would otherwise fail at first use.
func (c Config) Validate() error {
	w := c.Worker
	if w.MaxQueue <= 0 {
		return fmt.Errorf("%w: max_queue must be positive, got %d", ErrInvalidConfig, w.MaxQueue)
	}
	if w.HistoryLimit <= 0 {
		return fmt.Errorf("%w: history_limit must be positive, got %d", ErrInvalidConfig, w.HistoryLimit)
	}
	if c.Orchestrator.TickInterval.Duration <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}
	if w.StreamInterval.Duration <= 0 || w.PollInterval.Duration <= 0 {
		return fmt.Errorf("%w: poll and stream intervals must be positive", ErrInvalidConfig)
	}

	switch w.Synthesizer {
	case SynthesizerHTTP:
		if w.SynthURL == "" {
			return fmt.Errorf("%w: synth_url is required for the http synthesizer", ErrInvalidConfig)
		}
	case SynthesizerOpenAI:
		if w.OpenAIKey == "" {
			return fmt.Errorf("%w: openai_api_key is required for the openai synthesizer", ErrInvalidConfig)
		}
	case SynthesizerTone:
	default:
		return fmt.Errorf("%w: unknown synthesizer %q", ErrInvalidConfig, w.Synthesizer)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func applyEnv(cfg *Config) error {
	setString(&cfg.LogLevel, envLogLevel)

	o := &cfg.Orchestrator
	setString(&o.ListenAddr, envOrchestratorAddr)
	if err := setDuration(&o.TickInterval, envTickInterval); err != nil {
		return err
	}
	if err := setDuration(&o.CallTimeout, envCallTimeout); err != nil {
		return err
	}
	if err := setBool(&o.RequeueOnFailure, envRequeue); err != nil {
		return err
	}

	w := &cfg.Worker
	setString(&w.ListenAddr, envWorkerAddr)
	setString(&w.Name, envWorkerName)
	setString(&w.AdvertiseURL, envAdvertiseURL)
	setString(&w.OrchestratorURL, envOrchestratorURL)
	setString(&w.OutputDir, envOutputDir)
	setString(&w.HistoryDB, envHistoryDB)
	setString(&w.RedisAddr, envRedisAddr)
	setString(&w.RedisPrefix, envRedisPrefix)
	setString(&w.Synthesizer, envSynthesizer)
	setString(&w.SynthURL, envSynthURL)
	setString(&w.OpenAIKey, envOpenAIKey)
	setString(&w.OpenAIBaseURL, envOpenAIBaseURL)
	setString(&w.OpenAIModel, envOpenAIModel)
	setString(&w.OpenAIVoice, envOpenAIVoice)

	if v := os.Getenv(envCapabilities); v != "" {
		w.Capabilities = splitList(v)
	}
	if err := setInt(&w.MaxQueue, envMaxQueue); err != nil {
		return err
	}
	if err := setInt(&w.HistoryLimit, envHistoryLimit); err != nil {
		return err
	}
	for _, d := range []struct {
		dst *Duration
		env string
	}{
		{&w.PollInterval, envPollInterval},
		{&w.StreamInterval, envStreamInterval},
		{&w.UnknownJobTimeout, envUnknownJobTimeout},
		{&w.SynthTimeout, envSynthTimeout},
	} {
		if err := setDuration(d.dst, d.env); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, env, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, env, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *Duration, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, env, err)
	}
	dst.Duration = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
