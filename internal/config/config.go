// Package config handles loading and validating the autodrone configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fuangela/AutoDrone/internal/minispec"
)

// Config is the root configuration for the autodrone daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Perception PerceptionConfig `mapstructure:"perception"`
	Robot      RobotConfig      `mapstructure:"robot"`
	Engine     EngineConfig     `mapstructure:"engine"`
	TTS        TTSConfig        `mapstructure:"tts"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each inbound transport.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC mission service.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP mission API.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PlannerConfig selects and configures the language-model backend used for
// both planning and transcription.
type PlannerConfig struct {
	Backend string       `mapstructure:"backend"` // "openai" or "local"
	OpenAI  OpenAIConfig `mapstructure:"openai"`
	Local   LocalConfig  `mapstructure:"local"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	CompletionModel    string  `mapstructure:"completion_model"`
	Temperature        float64 `mapstructure:"temperature"`
}

// LocalConfig holds self-hosted model settings.
type LocalConfig struct {
	WhisperEndpoint string  `mapstructure:"whisper_endpoint"`
	WhisperType     string  `mapstructure:"whisper_type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	LLMEndpoint     string  `mapstructure:"llm_endpoint"`
	LLMModel        string  `mapstructure:"llm_model"` // Ollama model name (e.g., "llama3.2")
	VADFilter       bool    `mapstructure:"vad_filter"`
	Language        string  `mapstructure:"language"` // ISO-639-1 default language (e.g., "en", "fr")
	Temperature     float64 `mapstructure:"temperature"`
}

// PerceptionConfig configures the detector and the background pipeline.
type PerceptionConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend"`  // "yolohttp", "yologrpc" or "fixture"
	Endpoint   string        `mapstructure:"endpoint"` // detector URL (yolohttp) or host:port (yologrpc)
	Method     string        `mapstructure:"method"`   // full gRPC method name (yologrpc)
	UserName   string        `mapstructure:"user_name"`
	Confidence float64       `mapstructure:"confidence"`
	Interval   time.Duration `mapstructure:"interval"`
	Workers    int           `mapstructure:"workers"`
	Frames     FramesConfig  `mapstructure:"frames"`
	Fixture    string        `mapstructure:"fixture"` // YAML detections file (fixture backend)
}

// FramesConfig selects where camera frames come from.
type FramesConfig struct {
	Source string `mapstructure:"source"` // "http", "file" or "blank"
	URL    string `mapstructure:"url"`
	Path   string `mapstructure:"path"`
}

// RobotConfig selects the motion backend.
type RobotConfig struct {
	Backend   string        `mapstructure:"backend"` // "virtual" or "http"
	Endpoint  string        `mapstructure:"endpoint"`
	MaxStepCM float64       `mapstructure:"max_step_cm"`
	Latency   time.Duration `mapstructure:"latency"` // virtual backend only
}

// EngineConfig tunes the plan-execute-replan loop.
type EngineConfig struct {
	RetryBudget        int               `mapstructure:"retry_budget"`
	PlannerTimeout     time.Duration     `mapstructure:"planner_timeout"`
	MotionTimeout      time.Duration     `mapstructure:"motion_timeout"`
	PerceptionTimeout  time.Duration     `mapstructure:"perception_timeout"`
	TranscriberTimeout time.Duration     `mapstructure:"transcriber_timeout"`
	SynthesizeTimeout  time.Duration     `mapstructure:"synthesize_timeout"`
	SafetyTimeout      time.Duration     `mapstructure:"safety_timeout"`
	MaxSceneAge        time.Duration     `mapstructure:"max_scene_age"`
	SafetyPrimitive    string            `mapstructure:"safety_primitive"`
	CompletionOpcodes  []string          `mapstructure:"completion_opcodes"`
	Primitives         []PrimitiveConfig `mapstructure:"primitives"`
}

// PrimitiveConfig declares an extra motion primitive the robot backend
// understands.
type PrimitiveConfig struct {
	Name    string        `mapstructure:"name"`
	Params  []ParamConfig `mapstructure:"params"`
	MinArgs *int          `mapstructure:"min_args"` // defaults to len(params)
	Doc     string        `mapstructure:"doc"`
}

// ParamConfig is one declared parameter of an extra primitive.
type ParamConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"` // "number" or "string"
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Backend string      `mapstructure:"backend"` // "piper"
	Piper   PiperConfig `mapstructure:"piper"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// Endpoints maps ISO-639-1 codes to per-language Wyoming endpoints and takes
// precedence; Endpoint is the fallback.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// HistoryConfig configures the mission history store.
type HistoryConfig struct {
	Path  string `mapstructure:"path"` // SQLite file, or ":memory:"
	Limit int    `mapstructure:"limit"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./autodrone.yaml, ./configs/autodrone.yaml, /etc/autodrone/autodrone.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("autodrone")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/autodrone")
	}

	// Environment variables: AUTODRONE_ENGINE_RETRY_BUDGET, AUTODRONE_PLANNER_BACKEND, etc.
	v.SetEnvPrefix("AUTODRONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Planner.OpenAI.APIKey = resolveEnvRef(cfg.Planner.OpenAI.APIKey)
	cfg.Robot.Endpoint = resolveEnvRef(cfg.Robot.Endpoint)
	cfg.Perception.Endpoint = resolveEnvRef(cfg.Perception.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)

	v.SetDefault("planner.backend", "local")
	v.SetDefault("planner.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("planner.openai.transcription_model", "gpt-4o-transcribe")
	v.SetDefault("planner.openai.completion_model", "gpt-4o")
	v.SetDefault("planner.openai.temperature", 0.0)
	v.SetDefault("planner.local.whisper_endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("planner.local.whisper_type", "openai")
	v.SetDefault("planner.local.llm_endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("planner.local.llm_model", "llama3.2")
	v.SetDefault("planner.local.vad_filter", false)
	v.SetDefault("planner.local.language", "")
	v.SetDefault("planner.local.temperature", 0.0)

	v.SetDefault("perception.enabled", true)
	v.SetDefault("perception.backend", "fixture")
	v.SetDefault("perception.endpoint", "http://localhost:50049/yolo")
	v.SetDefault("perception.method", "/autodrone.v1.Detector/Detect")
	v.SetDefault("perception.user_name", "yolo")
	v.SetDefault("perception.confidence", 0.3)
	v.SetDefault("perception.interval", "200ms")
	v.SetDefault("perception.workers", 2)
	v.SetDefault("perception.frames.source", "blank")
	v.SetDefault("perception.fixture", "")

	v.SetDefault("robot.backend", "virtual")
	v.SetDefault("robot.endpoint", "http://localhost:8889/command")
	v.SetDefault("robot.max_step_cm", 500)
	v.SetDefault("robot.latency", "0s")

	v.SetDefault("engine.retry_budget", 3)
	v.SetDefault("engine.planner_timeout", "60s")
	v.SetDefault("engine.motion_timeout", "15s")
	v.SetDefault("engine.perception_timeout", "3s")
	v.SetDefault("engine.transcriber_timeout", "30s")
	v.SetDefault("engine.synthesize_timeout", "20s")
	v.SetDefault("engine.safety_timeout", "10s")
	v.SetDefault("engine.max_scene_age", "0s")
	v.SetDefault("engine.safety_primitive", minispec.OpLand)
	v.SetDefault("engine.completion_opcodes", []string{minispec.OpDone, minispec.OpReport, minispec.OpLand})

	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.backend", "piper")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")

	v.SetDefault("history.path", ":memory:")
	v.SetDefault("history.limit", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains([]string{"openai", "local"}, c.Planner.Backend),
		"planner.backend: unknown backend %q", c.Planner.Backend)
	check(slices.Contains([]string{"virtual", "http"}, c.Robot.Backend),
		"robot.backend: unknown backend %q", c.Robot.Backend)
	check(c.Robot.MaxStepCM >= 0, "robot.max_step_cm must not be negative")

	if c.Perception.Enabled {
		check(slices.Contains([]string{"yolohttp", "yologrpc", "fixture"}, c.Perception.Backend),
			"perception.backend: unknown backend %q", c.Perception.Backend)
		check(slices.Contains([]string{"http", "file", "blank"}, c.Perception.Frames.Source),
			"perception.frames.source: unknown source %q", c.Perception.Frames.Source)
		check(c.Perception.Interval > 0, "perception.interval must be positive")
		check(c.Perception.Workers >= 1, "perception.workers must be at least 1")
		check(c.Perception.Confidence >= 0 && c.Perception.Confidence <= 1, "perception.confidence must be within [0, 1]")
	}

	if c.TTS.Enabled {
		check(c.TTS.Backend == "piper", "tts.backend: unknown backend %q", c.TTS.Backend)
	}

	check(c.Engine.RetryBudget >= 0, "engine.retry_budget must not be negative")
	reg, err := c.Engine.Registry()
	if err != nil {
		errs = append(errs, fmt.Errorf("engine.primitives: %w", err))
	} else {
		p, ok := reg.Lookup(c.Engine.SafetyPrimitive)
		check(ok && p.Kind == minispec.KindMotion && p.MinArgs == 0,
			"engine.safety_primitive: %q is not an argument-free motion primitive", c.Engine.SafetyPrimitive)
		for _, op := range c.Engine.CompletionOpcodes {
			_, ok := reg.Lookup(op)
			check(ok, "engine.completion_opcodes: unknown opcode %q", op)
		}
	}

	return errors.Join(errs...)
}

// Registry builds the primitive registry: built-ins plus configured extras.
func (e EngineConfig) Registry() (*minispec.Registry, error) {
	extra := make([]minispec.Primitive, 0, len(e.Primitives))
	for _, pc := range e.Primitives {
		p := minispec.Primitive{Name: pc.Name, Kind: minispec.KindMotion, Doc: pc.Doc}
		for _, param := range pc.Params {
			t, err := minispec.ParseType(param.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", pc.Name, param.Name, err)
			}
			p.Params = append(p.Params, minispec.Param{Name: param.Name, Type: t})
		}
		p.MinArgs = len(p.Params)
		if pc.MinArgs != nil {
			p.MinArgs = *pc.MinArgs
		}
		extra = append(extra, p)
	}
	return minispec.NewRegistry(extra...)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
