// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// HARVESTER_CRAWL_SLEEP=2s.
const EnvPrefix = "HARVESTER"

// Config captures all knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	API      APIConfig      `mapstructure:"api"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Work     WorkConfig     `mapstructure:"work"`
	Publish  PublishConfig  `mapstructure:"publish"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CrawlConfig governs a single crawl run.
type CrawlConfig struct {
	DatasetPath     string        `mapstructure:"dataset_path"`
	NotReleasedPath string        `mapstructure:"notreleased_path"`
	DiscardedPath   string        `mapstructure:"discarded_path"`
	AppListPath     string        `mapstructure:"applist_path"`
	Sleep           time.Duration `mapstructure:"sleep"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	Retries         int           `mapstructure:"retries"`
	Autosave        int           `mapstructure:"autosave"`
	SkipNotReleased bool          `mapstructure:"skip_not_released"`
	Enrich          bool          `mapstructure:"enrich"`
	IDsFile         string        `mapstructure:"ids_file"`
	ProgressEvery   int           `mapstructure:"progress_every"`
	Jitter          float64       `mapstructure:"jitter"`
	Backup          bool          `mapstructure:"backup"`
}

// APIConfig locates the catalog endpoints.
type APIConfig struct {
	Currency      string        `mapstructure:"currency"`
	Language      string        `mapstructure:"language"`
	Timeout       time.Duration `mapstructure:"timeout"`
	AppListURL    string        `mapstructure:"applist_url"`
	DetailsURL    string        `mapstructure:"details_url"`
	EnrichmentURL string        `mapstructure:"enrichment_url"`
	EnrichmentRPS float64       `mapstructure:"enrichment_rps"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// PostgresConfig controls access to the shared database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig names the shared work queue.
type QueueConfig struct {
	Name         string        `mapstructure:"name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WorkConfig controls queue consumers.
type WorkConfig struct {
	Workers       int  `mapstructure:"workers"`
	Shuffle       bool `mapstructure:"shuffle"`
	ExitWhenEmpty bool `mapstructure:"exit_when_empty"`
}

// PublishConfig controls the downstream publisher.
type PublishConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Sink         string        `mapstructure:"sink"`
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Dataset      string        `mapstructure:"dataset"`
	LinkPrefix   string        `mapstructure:"link_prefix"`
	Follow       bool          `mapstructure:"follow"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BlockedTerms []string      `mapstructure:"blocked_terms"`
}

// PubSubConfig holds the topic used by the pubsub sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where checkpoint snapshots are copied.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig enables the status and metrics server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Sinks and archive providers.
const (
	SinkHTTP   = "http"
	SinkPubSub = "pubsub"
	SinkNoop   = "noop"

	ArchiveNoop  = "noop"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"dev-logs":     "logging.development",
	"metrics-addr": "metrics.addr",
	"sleep":        "crawl.sleep",
	"retries":      "crawl.retries",
	"autosave":     "crawl.autosave",
	"released":     "crawl.skip_not_released",
	"enrich":       "crawl.enrich",
	"ids-file":     "crawl.ids_file",
	"dataset":      "crawl.dataset_path",
	"currency":     "api.currency",
	"language":     "api.language",
	"dsn":          "postgres.dsn",
	"queue":        "queue.name",
	"workers":      "work.workers",
	"exit-empty":   "work.exit_when_empty",
	"batch-size":   "publish.batch_size",
	"sink":         "publish.sink",
	"follow":       "publish.follow",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags that were explicitly set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.dataset_path", "./data/games.json")
	v.SetDefault("crawl.notreleased_path", "./data/notreleased.json")
	v.SetDefault("crawl.discarded_path", "./data/discarted.json")
	v.SetDefault("crawl.applist_path", "./data/applist.json")
	v.SetDefault("crawl.sleep", "1.5s")
	v.SetDefault("crawl.backoff_cap", "4s")
	v.SetDefault("crawl.retries", 4)
	v.SetDefault("crawl.autosave", 100)
	v.SetDefault("crawl.skip_not_released", true)
	v.SetDefault("crawl.enrich", true)
	v.SetDefault("crawl.ids_file", "")
	v.SetDefault("crawl.progress_every", 25)
	v.SetDefault("crawl.jitter", 0.1)
	v.SetDefault("crawl.backup", true)
	v.SetDefault("api.currency", "us")
	v.SetDefault("api.language", "en")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.applist_url", "http://api.steampowered.com/ISteamApps/GetAppList/v2/")
	v.SetDefault("api.details_url", "http://store.steampowered.com/api/appdetails/")
	v.SetDefault("api.enrichment_url", "https://steamspy.com/api.php")
	v.SetDefault("api.enrichment_rps", 1.0)
	v.SetDefault("api.user_agent", "steam-harvester/1.0")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("queue.name", "appsToVisit")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("work.workers", 1)
	v.SetDefault("work.shuffle", true)
	v.SetDefault("work.exit_when_empty", false)
	v.SetDefault("publish.batch_size", 50)
	v.SetDefault("publish.sink", SinkNoop)
	v.SetDefault("publish.link_prefix", "https://store.steampowered.com/app/")
	v.SetDefault("publish.follow", false)
	v.SetDefault("publish.poll_interval", "5s")
	v.SetDefault("archive.provider", ArchiveNoop)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Sleep < 0 {
		return fmt.Errorf("crawl.sleep must be >= 0")
	}
	if c.Crawl.BackoffCap <= 0 {
		return fmt.Errorf("crawl.backoff_cap must be > 0")
	}
	if c.Crawl.Retries < 0 {
		return fmt.Errorf("crawl.retries must be >= 0 (0 retries forever)")
	}
	if c.Crawl.Autosave < 0 {
		return fmt.Errorf("crawl.autosave must be >= 0 (0 disables)")
	}
	if c.Crawl.Jitter < 0 || c.Crawl.Jitter > 1 {
		return fmt.Errorf("crawl.jitter must be within [0, 1]")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.Work.Workers <= 0 {
		return fmt.Errorf("work.workers must be > 0")
	}
	if c.Publish.BatchSize <= 0 {
		return fmt.Errorf("publish.batch_size must be > 0")
	}
	switch c.Publish.Sink {
	case SinkNoop:
	case SinkHTTP:
		if c.Publish.Endpoint == "" {
			return fmt.Errorf("publish.endpoint must be set when publish.sink is %q", SinkHTTP)
		}
	case SinkPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when publish.sink is %q", SinkPubSub)
		}
	default:
		return fmt.Errorf("unknown publish.sink %q", c.Publish.Sink)
	}
	switch c.Archive.Provider {
	case ArchiveNoop:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is %q", ArchiveLocal)
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.provider is %q", ArchiveGCS)
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	return nil
}

// RequirePostgres reports a configuration error when the shared database is
// not configured. Only the distributed commands need it.
func (c Config) RequirePostgres() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return fmt.Errorf("postgres.dsn is required for this command")
	}
	return nil
}
