// Package config provides configuration management for the Snuttify agent.
// Values come from defaults, then an optional YAML file, then environment
// variables (a .env file in the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort           = 8787
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".snuttify"
	DefaultWorkers        = 2
	DefaultQueueCapacity  = 16
	DefaultMaxUploadBytes = 4 << 30 // 4GB

	DefaultFramePolicy      = "cadence"
	DefaultFrameCadence     = 5.0
	DefaultKeyMoments       = 12
	DefaultSceneThreshold   = 0.3
	DefaultAnalysisMaxFrame = 8

	DefaultOpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultTranscriptionModel = "whisper-1"
	DefaultAnalysisModel      = "gpt-4o"

	DefaultExtractTimeout    = 10 * time.Minute
	DefaultTranscribeTimeout = 15 * time.Minute
	DefaultAnalyzeTimeout    = 5 * time.Minute

	// Environment variable names
	EnvConfigFile = "SNUTTIFY_CONFIG"

	EnvPort           = "SNUTTIFY_PORT"
	EnvLogLevel       = "SNUTTIFY_LOG_LEVEL"
	EnvLogFile        = "SNUTTIFY_LOG_FILE"
	EnvDataDir        = "SNUTTIFY_DATA_DIR"
	EnvWorkers        = "SNUTTIFY_WORKERS"
	EnvQueueCapacity  = "SNUTTIFY_QUEUE_CAPACITY"
	EnvMaxUploadBytes = "SNUTTIFY_MAX_UPLOAD_BYTES"

	EnvFramePolicy    = "SNUTTIFY_FRAME_POLICY"
	EnvFrameCadence   = "SNUTTIFY_FRAME_CADENCE"
	EnvKeyMoments     = "SNUTTIFY_KEY_MOMENTS"
	EnvSceneThreshold = "SNUTTIFY_SCENE_THRESHOLD"

	EnvFFmpegPath  = "SNUTTIFY_FFMPEG_PATH"
	EnvFFprobePath = "SNUTTIFY_FFPROBE_PATH"

	EnvOpenAIAPIKey         = "OPENAI_API_KEY"
	EnvOpenAIBaseURL        = "SNUTTIFY_OPENAI_BASE_URL"
	EnvTranscriptionModel   = "SNUTTIFY_TRANSCRIPTION_MODEL"
	EnvAnalysisModel        = "SNUTTIFY_ANALYSIS_MODEL"
	EnvAnalysisMaxFrames    = "SNUTTIFY_ANALYSIS_MAX_FRAMES"
	EnvAnalysisSystemPrompt = "SNUTTIFY_ANALYSIS_SYSTEM_PROMPT"

	EnvExtractTimeout    = "SNUTTIFY_EXTRACT_TIMEOUT"
	EnvTranscribeTimeout = "SNUTTIFY_TRANSCRIBE_TIMEOUT"
	EnvAnalyzeTimeout    = "SNUTTIFY_ANALYZE_TIMEOUT"

	EnvWebhookURL     = "SNUTTIFY_WEBHOOK_URL"
	EnvAllowedOrigins = "SNUTTIFY_ALLOWED_ORIGINS"

	// Database filename
	DBFilename = "snuttify.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBPath() string
	LibraryDir() string
	UploadsDir() string
	Workers() int
	QueueCapacity() int
	MaxUploadBytes() int64

	FramePolicy() string
	FrameCadence() float64
	KeyMoments() int
	SceneThreshold() float64

	FFmpegPath() string
	FFprobePath() string

	OpenAIAPIKey() string
	OpenAIBaseURL() string
	TranscriptionModel() string
	AnalysisModel() string
	AnalysisMaxFrames() int
	AnalysisSystemPrompt() string

	ExtractTimeout() time.Duration
	TranscribeTimeout() time.Duration
	AnalyzeTimeout() time.Duration

	WebhookURL() string
	AllowedOrigins() []string
}

// fileConfig mirrors the YAML layout. Zero values leave the default alone.
type fileConfig struct {
	Port           int    `yaml:"port"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	DataDir        string `yaml:"data_dir"`
	Workers        int    `yaml:"workers"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	FramePolicy    string  `yaml:"frame_policy"`
	FrameCadence   float64 `yaml:"frame_cadence"`
	KeyMoments     int     `yaml:"key_moments"`
	SceneThreshold float64 `yaml:"scene_threshold"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
	TranscriptionModel   string `yaml:"transcription_model"`
	AnalysisModel        string `yaml:"analysis_model"`
	AnalysisMaxFrames    int    `yaml:"analysis_max_frames"`
	AnalysisSystemPrompt string `yaml:"analysis_system_prompt"`

	ExtractTimeout    string `yaml:"extract_timeout"`
	TranscribeTimeout string `yaml:"transcribe_timeout"`
	AnalyzeTimeout    string `yaml:"analyze_timeout"`

	WebhookURL     string   `yaml:"webhook_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port           int
	logLevel       string
	logFile        string
	dataDir        string
	workers        int
	queueCapacity  int
	maxUploadBytes int64

	framePolicy    string
	frameCadence   float64
	keyMoments     int
	sceneThreshold float64

	ffmpegPath  string
	ffprobePath string

	openAIAPIKey         string
	openAIBaseURL        string
	transcriptionModel   string
	analysisModel        string
	analysisMaxFrames    int
	analysisSystemPrompt string

	extractTimeout    time.Duration
	transcribeTimeout time.Duration
	analyzeTimeout    time.Duration

	webhookURL     string
	allowedOrigins []string
}

var _ Config = (*EnvConfig)(nil)

// New creates a new EnvConfig with defaults, file and environment overrides
func New() (*EnvConfig, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            defaultDataDir(),
		workers:            DefaultWorkers,
		queueCapacity:      DefaultQueueCapacity,
		maxUploadBytes:     DefaultMaxUploadBytes,
		framePolicy:        DefaultFramePolicy,
		frameCadence:       DefaultFrameCadence,
		keyMoments:         DefaultKeyMoments,
		sceneThreshold:     DefaultSceneThreshold,
		ffmpegPath:         "ffmpeg",
		ffprobePath:        "ffprobe",
		openAIBaseURL:      DefaultOpenAIBaseURL,
		transcriptionModel: DefaultTranscriptionModel,
		analysisModel:      DefaultAnalysisModel,
		analysisMaxFrames:  DefaultAnalysisMaxFrame,
		extractTimeout:     DefaultExtractTimeout,
		transcribeTimeout:  DefaultTranscribeTimeout,
		analyzeTimeout:     DefaultAnalyzeTimeout,
	}
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.logFile, fc.LogFile)
	setString(&c.dataDir, fc.DataDir)
	setInt(&c.workers, fc.Workers)
	setInt(&c.queueCapacity, fc.QueueCapacity)
	if fc.MaxUploadBytes != 0 {
		c.maxUploadBytes = fc.MaxUploadBytes
	}
	setString(&c.framePolicy, fc.FramePolicy)
	if fc.FrameCadence != 0 {
		c.frameCadence = fc.FrameCadence
	}
	setInt(&c.keyMoments, fc.KeyMoments)
	if fc.SceneThreshold != 0 {
		c.sceneThreshold = fc.SceneThreshold
	}
	setString(&c.ffmpegPath, fc.FFmpegPath)
	setString(&c.ffprobePath, fc.FFprobePath)
	setString(&c.openAIAPIKey, fc.OpenAIAPIKey)
	setString(&c.openAIBaseURL, fc.OpenAIBaseURL)
	setString(&c.transcriptionModel, fc.TranscriptionModel)
	setString(&c.analysisModel, fc.AnalysisModel)
	setInt(&c.analysisMaxFrames, fc.AnalysisMaxFrames)
	setString(&c.analysisSystemPrompt, fc.AnalysisSystemPrompt)
	setString(&c.webhookURL, fc.WebhookURL)
	if len(fc.AllowedOrigins) > 0 {
		c.allowedOrigins = fc.AllowedOrigins
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"extract_timeout", fc.ExtractTimeout, &c.extractTimeout},
		{"transcribe_timeout", fc.TranscribeTimeout, &c.transcribeTimeout},
		{"analyze_timeout", fc.AnalyzeTimeout, &c.analyzeTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	envString(&c.logLevel, EnvLogLevel)
	envString(&c.logFile, EnvLogFile)
	envString(&c.dataDir, EnvDataDir)
	envString(&c.framePolicy, EnvFramePolicy)
	envString(&c.ffmpegPath, EnvFFmpegPath)
	envString(&c.ffprobePath, EnvFFprobePath)
	envString(&c.openAIAPIKey, EnvOpenAIAPIKey)
	envString(&c.openAIBaseURL, EnvOpenAIBaseURL)
	envString(&c.transcriptionModel, EnvTranscriptionModel)
	envString(&c.analysisModel, EnvAnalysisModel)
	envString(&c.analysisSystemPrompt, EnvAnalysisSystemPrompt)
	envString(&c.webhookURL, EnvWebhookURL)

	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		c.allowedOrigins = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvPort, &c.port},
		{EnvWorkers, &c.workers},
		{EnvQueueCapacity, &c.queueCapacity},
		{EnvKeyMoments, &c.keyMoments},
		{EnvAnalysisMaxFrames, &c.analysisMaxFrames},
	}
	for _, f := range ints {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxUploadBytes, err)
		}
		c.maxUploadBytes = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{EnvFrameCadence, &c.frameCadence},
		{EnvSceneThreshold, &c.sceneThreshold},
	}
	for _, f := range floats {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvExtractTimeout, &c.extractTimeout},
		{EnvTranscribeTimeout, &c.transcribeTimeout},
		{EnvAnalyzeTimeout, &c.analyzeTimeout},
	}
	for _, f := range durations {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.port))
	}
	if c.workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.workers))
	}
	if c.queueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be positive, got %d", c.queueCapacity))
	}
	if c.maxUploadBytes < 1 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.maxUploadBytes))
	}
	switch c.framePolicy {
	case "cadence", "keymoments":
	default:
		errs = append(errs, fmt.Errorf("frame_policy must be cadence or keymoments, got %q", c.framePolicy))
	}
	if c.frameCadence <= 0 {
		errs = append(errs, fmt.Errorf("frame_cadence must be positive, got %g", c.frameCadence))
	}
	if c.keyMoments < 1 {
		errs = append(errs, fmt.Errorf("key_moments must be positive, got %d", c.keyMoments))
	}
	if c.analysisMaxFrames < 0 {
		errs = append(errs, fmt.Errorf("analysis_max_frames must not be negative, got %d", c.analysisMaxFrames))
	}
	for _, d := range []time.Duration{c.extractTimeout, c.transcribeTimeout, c.analyzeTimeout} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("stage timeouts must be positive, got %s", d))
			break
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFile returns an optional path that receives a JSON copy of the log
func (c *EnvConfig) LogFile() string {
	return c.logFile
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite index file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LibraryDir returns the root of the per-video record directories
func (c *EnvConfig) LibraryDir() string {
	return filepath.Join(c.dataDir, "library")
}

// UploadsDir returns where uploaded source videos are stored
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

func (c *EnvConfig) Workers() int          { return c.workers }
func (c *EnvConfig) QueueCapacity() int    { return c.queueCapacity }
func (c *EnvConfig) MaxUploadBytes() int64 { return c.maxUploadBytes }

func (c *EnvConfig) FramePolicy() string     { return c.framePolicy }
func (c *EnvConfig) FrameCadence() float64   { return c.frameCadence }
func (c *EnvConfig) KeyMoments() int         { return c.keyMoments }
func (c *EnvConfig) SceneThreshold() float64 { return c.sceneThreshold }

func (c *EnvConfig) FFmpegPath() string  { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string { return c.ffprobePath }

func (c *EnvConfig) OpenAIAPIKey() string         { return c.openAIAPIKey }
func (c *EnvConfig) OpenAIBaseURL() string        { return c.openAIBaseURL }
func (c *EnvConfig) TranscriptionModel() string   { return c.transcriptionModel }
func (c *EnvConfig) AnalysisModel() string        { return c.analysisModel }
func (c *EnvConfig) AnalysisMaxFrames() int       { return c.analysisMaxFrames }
func (c *EnvConfig) AnalysisSystemPrompt() string { return c.analysisSystemPrompt }

func (c *EnvConfig) ExtractTimeout() time.Duration    { return c.extractTimeout }
func (c *EnvConfig) TranscribeTimeout() time.Duration { return c.transcribeTimeout }
func (c *EnvConfig) AnalyzeTimeout() time.Duration    { return c.analyzeTimeout }

// WebhookURL returns the completion webhook target; empty disables it
func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

// AllowedOrigins returns the CORS allow list; empty allows none
func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
