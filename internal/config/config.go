package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Garmin  Garmin
	Input   Input
	Mailbox Mailbox
	Sync    Sync

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

type Garmin struct {
	Email    string `env:"GARMIN_EMAIL"`
	Password string `env:"GARMIN_PASSWORD"`

	// BaseURL and SSOURL exist so tests and regional deployments can
	// point the client elsewhere.
	BaseURL string `env:"GARMIN_BASE_URL" envDefault:"https://connectapi.garmin.com"`
	SSOURL  string `env:"GARMIN_SSO_URL" envDefault:"https://sso.garmin.com/sso"`

	Timeout time.Duration `env:"GARMIN_TIMEOUT" envDefault:"30s"`
}

type Input struct {
	Dir          string `env:"INPUT_DIR" envDefault:"./data"`
	FileMask     string `env:"INPUT_FILE_MASK" envDefault:"*.csv"`
	TimeFormat   string `env:"INPUT_TIME_FORMAT" envDefault:"2006-01-02 15:04:05"`
	TimeZone     string `env:"INPUT_TIME_ZONE" envDefault:"UTC"`
	WeightUnit   string `env:"INPUT_WEIGHT_UNIT" envDefault:"kg"`
	FilterByUser string `env:"INPUT_FILTER_USER"`

	MappingFile string `env:"INPUT_MAPPING_FILE"`
}

type Mailbox struct {
	Enabled  bool   `env:"IMAP_ENABLED" envDefault:"false"`
	Host     string `env:"IMAP_HOST"`
	Username string `env:"IMAP_USERNAME"`
	Password string `env:"IMAP_PASSWORD"`
	Folder   string `env:"IMAP_FOLDER" envDefault:"INBOX"`
}

type Sync struct {
	Concurrency    int           `env:"SYNC_CONCURRENCY" envDefault:"3"`
	ToleranceKG    float64       `env:"SYNC_TOLERANCE_KG" envDefault:"0.05"`
	Lookback       time.Duration `env:"SYNC_LOOKBACK" envDefault:"720h"`
	StatePath      string        `env:"SYNC_STATE_PATH"`
	TokenPath      string        `env:"SYNC_TOKEN_PATH"`
	DryRun         bool          `env:"SYNC_DRY_RUN" envDefault:"false"`
	DeleteExisting bool          `env:"SYNC_DELETE_EXISTING" envDefault:"false"`
}

func Read() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing config from env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 8 {
		return fmt.Errorf("SYNC_CONCURRENCY must be between 1 and 8, got %d", c.Sync.Concurrency)
	}
	if c.Sync.ToleranceKG < 0 {
		return fmt.Errorf("SYNC_TOLERANCE_KG must be non-negative, got %g", c.Sync.ToleranceKG)
	}
	if c.Mailbox.Enabled && c.Mailbox.Host == "" {
		return fmt.Errorf("IMAP_HOST is required when IMAP_ENABLED is set")
	}
	return nil
}
