package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/rendis/bookforge/internal/outline"
	"github.com/rendis/bookforge/internal/scheduler"
)

const envPrefix = "BOOKFORGE_"

var (
	ErrConfigParse   = errors.New("config parse error")
	ErrConfigInvalid = errors.New("invalid config")
)

// Config holds every bookforge setting.
// Priority: flags > BOOKFORGE_* env vars (.env included) > YAML file > defaults.
type Config struct {
	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	System            string        `yaml:"system_prompt"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	TopP              float64       `yaml:"top_p"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	Chapters         int    `yaml:"chapters"`
	OutlineAttempts  int    `yaml:"outline_attempts"`
	OutlineRule      string `yaml:"outline_rule"`
	ChapterMinLength int    `yaml:"chapter_min_length"`
	SideArtifacts    bool   `yaml:"side_artifacts"`

	CheckpointBackend string `yaml:"checkpoint_backend"`
	CheckpointDSN     string `yaml:"checkpoint_dsn"`
	CheckpointDir     string `yaml:"checkpoint_dir"`
	RedisAddr         string `yaml:"redis_addr"`
	StagingDir        string `yaml:"staging_dir"`

	DiagramURL     string        `yaml:"diagram_url"`
	DiagramTimeout time.Duration `yaml:"diagram_timeout"`

	PDFEngine  string        `yaml:"pdf_engine"`
	PDFURL     string        `yaml:"pdf_url"`
	PDFTimeout time.Duration `yaml:"pdf_timeout"`
	ChromeBin  string        `yaml:"chrome_bin"`

	QueueConcurrency int           `yaml:"queue_concurrency"`
	ProgressAddr     string        `yaml:"progress_addr"`
	JanitorSpec      string        `yaml:"janitor_spec"`
	JanitorMaxAge    time.Duration `yaml:"janitor_max_age"`

	// Per-invocation settings.
	Topic     string `yaml:"-"`
	SessionID string `yaml:"-"`
	CallerID  string `yaml:"caller_id"`
	Output    string `yaml:"-"`
	Cancel    bool   `yaml:"-"`
	Prune     bool   `yaml:"-"`
}

func defaultConfig() Config {
	dir := dataDir()
	return Config{
		EnvFile:           ".env",
		LogLevel:          "info",
		LogFormat:         "text",
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		MaxTokens:         8192,
		Temperature:       0.7,
		TopP:              0.95,
		RequestsPerMinute: 10,
		RetryAttempts:     3,
		RetryBaseDelay:    2 * time.Second,
		RequestTimeout:    3 * time.Minute,
		Chapters:          10,
		OutlineAttempts:   outline.DefaultAttempts,
		OutlineRule:       outline.DefaultRule,
		ChapterMinLength:  2500,
		CheckpointBackend: "libsql",
		CheckpointDSN:     "file:" + filepath.Join(dir, "checkpoints.db"),
		CheckpointDir:     filepath.Join(dir, "checkpoints"),
		StagingDir:        filepath.Join(dir, "staging"),
		DiagramTimeout:    30 * time.Second,
		PDFEngine:         "chromium",
		PDFTimeout:        2 * time.Minute,
		QueueConcurrency:  1,
		JanitorSpec:       scheduler.DefaultSpec,
		JanitorMaxAge:     7 * 24 * time.Hour,
		CallerID:          "local",
	}
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bookforge"
	}
	return filepath.Join(home, ".bookforge")
}

// loadConfig resolves the configuration for args (without the program name).
func loadConfig(args []string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// First pass only locates the config and .env files.
	early := cfg
	if err := newFlagSet(&early).Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if early.ConfigFile == "" {
		early.ConfigFile = getenv(envPrefix + "CONFIG")
	}

	if early.ConfigFile != "" {
		if err := loadYAML(early.ConfigFile, &cfg); err != nil {
			return cfg, err
		}
	}

	if early.EnvFile != "" {
		// Load never overrides variables already set in the process.
		if err := godotenv.Load(early.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s: %w", ErrConfigParse, early.EnvFile, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}

	fset := newFlagSet(&cfg)
	if err := fset.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if cfg.Topic == "" {
		cfg.Topic = strings.Join(fset.Args(), " ")
	}
	cfg.Topic = strings.Join(strings.Fields(cfg.Topic), " ")

	return cfg, cfg.validate()
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigParse, path, err)
	}
	return nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("bookforge", flag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "YAML config file")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file loaded before reading BOOKFORGE_* variables")
	fs.StringVarP(&cfg.Topic, "topic", "t", cfg.Topic, "book topic (or pass it as arguments)")
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "session id (default: derived from caller and topic)")
	fs.StringVar(&cfg.CallerID, "caller", cfg.CallerID, "caller id used to derive the session id")
	fs.StringVarP(&cfg.Output, "output", "o", cfg.Output, "output file (default: <session>.pdf)")
	fs.BoolVar(&cfg.Cancel, "cancel", cfg.Cancel, "flag the session as cancelled and exit")
	fs.BoolVar(&cfg.Prune, "prune", cfg.Prune, "delete stale checkpoints and staging files once and exit")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")

	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "completion backend: openai or http")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "model identifier")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "completion API key")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "completion endpoint base URL")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "max output tokens per request")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "sampling temperature")
	fs.Float64Var(&cfg.TopP, "top-p", cfg.TopP, "nucleus sampling top-p")
	fs.IntVar(&cfg.RequestsPerMinute, "rpm", cfg.RequestsPerMinute, "completion requests per minute per session (0 = unlimited)")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "attempts per completion")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", cfg.RetryBaseDelay, "linear backoff base delay")

	fs.IntVar(&cfg.Chapters, "chapters", cfg.Chapters, "number of chapters")
	fs.IntVar(&cfg.OutlineAttempts, "outline-attempts", cfg.OutlineAttempts, "outline generations before the fallback outline")
	fs.StringVar(&cfg.OutlineRule, "outline-rule", cfg.OutlineRule, "expr rule deciding whether an outline is accepted")
	fs.IntVar(&cfg.ChapterMinLength, "chapter-min-length", cfg.ChapterMinLength, "minimum characters per chapter")
	fs.BoolVar(&cfg.SideArtifacts, "side-artifacts", cfg.SideArtifacts, "collect a glossary and quiz from every chapter")

	fs.StringVar(&cfg.CheckpointBackend, "checkpoint-backend", cfg.CheckpointBackend, "checkpoint store: libsql, file or redis")
	fs.StringVar(&cfg.CheckpointDSN, "checkpoint-dsn", cfg.CheckpointDSN, "libSQL database URI")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "directory for the file checkpoint store")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address or URL (checkpoints and cancel flags)")
	fs.StringVar(&cfg.StagingDir, "staging-dir", cfg.StagingDir, "directory for staged sections")

	fs.StringVar(&cfg.DiagramURL, "diagram-url", cfg.DiagramURL, "mermaid rendering service URL (empty keeps diagrams as code)")
	fs.StringVar(&cfg.PDFEngine, "pdf-engine", cfg.PDFEngine, "pdf renderer: service, chromium or none")
	fs.StringVar(&cfg.PDFURL, "pdf-url", cfg.PDFURL, "pdf rendering service URL")
	fs.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "chrome binary for the chromium engine")

	fs.IntVar(&cfg.QueueConcurrency, "concurrency", cfg.QueueConcurrency, "books generated at once (1-2)")
	fs.StringVar(&cfg.ProgressAddr, "progress-addr", cfg.ProgressAddr, "serve progress events over SSE on this address while generating")
	fs.StringVar(&cfg.JanitorSpec, "janitor-spec", cfg.JanitorSpec, "cron schedule for pruning stale runs")
	fs.DurationVar(&cfg.JanitorMaxAge, "janitor-max-age", cfg.JanitorMaxAge, "age after which untouched runs are pruned")
	return fs
}

// envBinding maps one BOOKFORGE_* variable onto a config field.
type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *field(c) = v; return nil }
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
	{"PROVIDER", str(func(c *Config) *string { return &c.Provider })},
	{"MODEL", str(func(c *Config) *string { return &c.Model })},
	{"API_KEY", str(func(c *Config) *string { return &c.APIKey })},
	{"BASE_URL", str(func(c *Config) *string { return &c.BaseURL })},
	{"SYSTEM_PROMPT", str(func(c *Config) *string { return &c.System })},
	{"MAX_TOKENS", integer(func(c *Config) *int { return &c.MaxTokens })},
	{"TEMPERATURE", float(func(c *Config) *float64 { return &c.Temperature })},
	{"TOP_P", float(func(c *Config) *float64 { return &c.TopP })},
	{"REQUESTS_PER_MINUTE", integer(func(c *Config) *int { return &c.RequestsPerMinute })},
	{"RETRY_ATTEMPTS", integer(func(c *Config) *int { return &c.RetryAttempts })},
	{"RETRY_BASE_DELAY", duration(func(c *Config) *time.Duration { return &c.RetryBaseDelay })},
	{"REQUEST_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.RequestTimeout })},
	{"CHAPTERS", integer(func(c *Config) *int { return &c.Chapters })},
	{"OUTLINE_ATTEMPTS", integer(func(c *Config) *int { return &c.OutlineAttempts })},
	{"OUTLINE_RULE", str(func(c *Config) *string { return &c.OutlineRule })},
	{"CHAPTER_MIN_LENGTH", integer(func(c *Config) *int { return &c.ChapterMinLength })},
	{"SIDE_ARTIFACTS", boolean(func(c *Config) *bool { return &c.SideArtifacts })},
	{"CHECKPOINT_BACKEND", str(func(c *Config) *string { return &c.CheckpointBackend })},
	{"CHECKPOINT_DSN", str(func(c *Config) *string { return &c.CheckpointDSN })},
	{"CHECKPOINT_DIR", str(func(c *Config) *string { return &c.CheckpointDir })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.RedisAddr })},
	{"STAGING_DIR", str(func(c *Config) *string { return &c.StagingDir })},
	{"DIAGRAM_URL", str(func(c *Config) *string { return &c.DiagramURL })},
	{"DIAGRAM_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.DiagramTimeout })},
	{"PDF_ENGINE", str(func(c *Config) *string { return &c.PDFEngine })},
	{"PDF_URL", str(func(c *Config) *string { return &c.PDFURL })},
	{"PDF_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.PDFTimeout })},
	{"CHROME_BIN", str(func(c *Config) *string { return &c.ChromeBin })},
	{"QUEUE_CONCURRENCY", integer(func(c *Config) *int { return &c.QueueConcurrency })},
	{"PROGRESS_ADDR", str(func(c *Config) *string { return &c.ProgressAddr })},
	{"JANITOR_SPEC", str(func(c *Config) *string { return &c.JanitorSpec })},
	{"JANITOR_MAX_AGE", duration(func(c *Config) *time.Duration { return &c.JanitorMaxAge })},
	{"CALLER_ID", str(func(c *Config) *string { return &c.CallerID })},
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	for _, b := range envBindings {
		v := getenv(envPrefix + b.name)
		if v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %w", ErrConfigInvalid, envPrefix, b.name, v, err)
		}
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch {
	case c.Cancel:
		check(c.SessionID != "" || c.Topic != "", "--cancel needs --session or a topic")
	case !c.Prune:
		check(c.Topic != "", "a topic is required")
	}
	check(oneOf(c.Provider, "openai", "http"), "provider %q is not openai or http", c.Provider)
	check(c.Provider != "http" || c.BaseURL != "", "provider http needs base_url")
	check(oneOf(c.LogFormat, "text", "json"), "log format %q is not text or json", c.LogFormat)
	check(c.Chapters >= 1, "chapters must be at least 1")
	check(c.RetryAttempts >= 1, "retry attempts must be at least 1")
	check(c.RequestsPerMinute >= 0, "requests per minute cannot be negative")
	check(c.Temperature >= 0 && c.Temperature <= 2, "temperature must be within [0, 2]")
	check(c.TopP > 0 && c.TopP <= 1, "top_p must be within (0, 1]")
	check(oneOf(c.CheckpointBackend, "libsql", "file", "redis"), "checkpoint backend %q is not libsql, file or redis", c.CheckpointBackend)
	check(c.CheckpointBackend != "redis" || c.RedisAddr != "", "checkpoint backend redis needs redis_addr")
	check(oneOf(c.PDFEngine, "service", "chromium", "none"), "pdf engine %q is not service, chromium or none", c.PDFEngine)
	check(c.PDFEngine != "service" || c.PDFURL != "", "pdf engine service needs pdf_url")
	check(c.QueueConcurrency >= 1 && c.QueueConcurrency <= 2, "concurrency must be 1 or 2")
	check(c.JanitorMaxAge > 0, "janitor max age must be positive")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
}

func oneOf(v string, options ...string) bool {
	return slices.Contains(options, v)
}
