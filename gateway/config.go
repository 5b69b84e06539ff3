package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/alovak/secureframe/widget"
	"github.com/alovak/secureframe/widget/models"
)

// Config is the configuration of the gateway application.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"localhost:9090"`
	// PublicURL prefixes frame links handed to browsers.
	PublicURL string `env:"PUBLIC_URL"`

	// Live selects the production payment page; TransactionURL overrides both endpoints.
	Live           bool     `env:"SECUREFRAME_LIVE"`
	TransactionURL string   `env:"SECUREFRAME_TRANSACTION_URL"`
	MerchantID     string   `env:"MERCHANT_ID"`
	Title          string   `env:"SECUREFRAME_TITLE"`
	Image          string   `env:"SECUREFRAME_IMAGE"`
	ReferenceName  string   `env:"SECUREFRAME_REFERENCE_NAME"`
	CardTypes      []string `env:"SECUREFRAME_CARD_TYPES" envSeparator:","`
	Template       string   `env:"SECUREFRAME_TEMPLATE"`
	ReturnURL      string   `env:"SECUREFRAME_RETURN_URL"`
	StyleURL       string   `env:"SECUREFRAME_STYLE_URL"`
	// DefaultKind is used when a session does not name one: PAYMENT, PRE_AUTH or STORE.
	DefaultKind      string        `env:"SECUREFRAME_DEFAULT_KIND" envDefault:"STORE"`
	DefaultAmount    int64         `env:"SECUREFRAME_DEFAULT_AMOUNT" envDefault:"100"`
	ResultTimeout    time.Duration `env:"SECUREFRAME_RESULT_TIMEOUT" envDefault:"15m"`
	Strict           bool          `env:"SECUREFRAME_STRICT_CORRELATION"`
	DropUnclassified bool          `env:"SECUREFRAME_DROP_UNCLASSIFIED"`
	SignTimeout      time.Duration `env:"SIGN_TIMEOUT" envDefault:"10s"`
	// SessionTTL evicts sessions nobody touched for that long. Zero keeps them until closed.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"1h"`

	// RepoBackend is pg or mem.
	RepoBackend string `env:"REPO_BACKEND" envDefault:"pg"`
	DBDSN       string `env:"DB_DSN"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	ReplayTTL     time.Duration `env:"REPLAY_TTL" envDefault:"24h"`

	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string        `env:"KAFKA_OUTCOME_TOPIC" envDefault:"secureframe.outcomes"`
	RetryMaxAttempts int           `env:"KAFKA_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay   time.Duration `env:"KAFKA_RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay    time.Duration `env:"KAFKA_RETRY_MAX_DELAY" envDefault:"10s"`
	RetryJitter      bool          `env:"KAFKA_RETRY_JITTER" envDefault:"true"`

	// SignerURL selects the remote signer; otherwise FINGERPRINT_KEY feeds the HMAC signer.
	SignerURL   string `env:"SIGNER_URL"`
	SignerToken string `env:"SIGNER_TOKEN"`

	HSMLibrary  string `env:"HSM_LIBRARY"`
	HSMSlot     uint   `env:"HSM_SLOT" envDefault:"0"`
	HSMPin      string `env:"HSM_PIN"`
	HSMKeyLabel string `env:"HSM_KEY_LABEL" envDefault:"secureframe-fingerprint"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:      "localhost:9090",
		DefaultKind:   "STORE",
		DefaultAmount: models.DefaultAmount,
		ResultTimeout: 15 * time.Minute,
		SignTimeout:   10 * time.Second,
		SessionTTL:    time.Hour,
		RepoBackend:   "mem",
		ReplayTTL:     24 * time.Hour,
		KafkaTopic:    "secureframe.outcomes",
		HSMKeyLabel:   "secureframe-fingerprint",
	}
}

// LoadConfig reads the environment, after loading files (default .env) when they exist.
func LoadConfig(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.kind(); err != nil {
		return err
	}
	switch c.RepoBackend {
	case "mem":
	case "pg":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for pg backend")
		}
	default:
		return fmt.Errorf("unsupported REPO_BACKEND=%s", c.RepoBackend)
	}
	return nil
}

func (c *Config) kind() (models.Kind, error) {
	if c.DefaultKind == "" {
		return models.KindStore, nil
	}
	k, ok := models.ParseKind(c.DefaultKind)
	if !ok {
		return "", fmt.Errorf("unsupported transaction kind %q", c.DefaultKind)
	}
	return k, nil
}

// WidgetOptions are the per-merchant options every session starts from.
func (c *Config) WidgetOptions() widget.Options {
	kind, _ := c.kind()
	opts := widget.Options{
		Live:              c.Live,
		TransactionURL:    c.TransactionURL,
		MerchantID:        c.MerchantID,
		Title:             c.Title,
		Image:             c.Image,
		ReferenceName:     c.ReferenceName,
		CardTypes:         c.CardTypes,
		Template:          c.Template,
		ReturnURL:         c.ReturnURL,
		StyleURL:          c.StyleURL,
		Kind:              kind,
		Amount:            c.DefaultAmount,
		ResultTimeout:     c.ResultTimeout,
		StrictCorrelation: c.Strict,
	}
	if c.DropUnclassified {
		opts.Unclassified = widget.UnclassifiedDrop
	}
	return opts
}
