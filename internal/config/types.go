package config

import "path/filepath"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Feed     FeedConfig     `json:"feed"`
	Resolver ResolverConfig `json:"resolver,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	// Token falls back to $TELEGRAM_TOKEN so the secret can stay out of the
	// config file.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// FeedConfig describes the single watched feed. All durations are Go duration
// strings (e.g. "500ms", "60s", "3m").
type FeedConfig struct {
	// URL falls back to $FEED_URL.
	URL string `json:"url,omitempty"`

	// PollInterval is the normal poll cadence (default "60s").
	PollInterval string `json:"poll_interval,omitempty"`

	// FailInterval is the backoff after a fetch/parse failure (default "180s").
	FailInterval string `json:"fail_interval,omitempty"`

	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type ResolverConfig struct {
	// Strategy is "torrent" (default) or "scrape"; fixed per deployment.
	Strategy      string `json:"strategy,omitempty"`
	CourtesyDelay string `json:"courtesy_delay,omitempty"`
	FetchTimeout  string `json:"fetch_timeout,omitempty"`
}

// StorageConfig controls the persistence directory shared by the subscription
// store, the feed cursor and the scrape failure artifacts.
type StorageConfig struct {
	// Driver is "file" (default) or "sqlite".
	Driver string `json:"driver,omitempty"`

	// Dir falls back to $STORE_DIR, then "./releasebot_store".
	Dir string `json:"dir,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

func (c StorageConfig) SubscriptionsPath() string {
	if c.Driver == "sqlite" || c.Driver == "sqlite3" {
		return filepath.Join(c.Dir, "subscriptions.db")
	}
	return filepath.Join(c.Dir, "subscriptions.json")
}

func (c StorageConfig) CursorPath() string { return filepath.Join(c.Dir, "last_seen.txt") }

func (c StorageConfig) ArtifactDir() string { return filepath.Join(c.Dir, "artifacts") }

type DispatchConfig struct {
	// QueueSize is the batch channel capacity (default 3). Larger values
	// trade memory for feed-miss risk on bursty feeds.
	QueueSize     int    `json:"queue_size,omitempty"`
	CourtesyDelay string `json:"courtesy_delay,omitempty"`
	FanoutLimit   int    `json:"fanout_limit,omitempty"`
}

// JanitorConfig controls failure-artifact pruning.
//
// Enabled is a pointer so an omitted field defaults to true while an explicit
// false still turns the janitor off.
type JanitorConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Schedule       string `json:"schedule,omitempty"`
	MaxArtifactAge string `json:"max_artifact_age,omitempty"`
}

func (c JanitorConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }
