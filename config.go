// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvNotifyURL overrides Config.Notify.URL.
const EnvNotifyURL = "AGEVERIFY_NOTIFY_URL"

var (
	errInvalidConfig = errors.New("invalid configuration")

	// envVarPattern matches ${VAR} and ${VAR:-default}.
	envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
)

// Duration is a time.Duration which is written as "30s" or "1m30s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// HexBytes is a byte string which is written as hex in YAML, e.g. "D392F000260101".
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	s = strings.NewReplacer(" ", "", ":", "").Replace(s)

	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid hex string: %w", value.Line, err)
	}

	*h = b

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (any, error) {
	return strings.ToUpper(hex.EncodeToString(h)), nil
}

// Config is the configuration of the ageverify command.
type Config struct {
	// Reader selects a reader by a case-insensitive substring of its name.
	Reader      string   `yaml:"reader"`
	LockTimeout Duration `yaml:"lock_timeout"`

	ThresholdYears int `yaml:"threshold_years"`

	// LoopInterval is the pause between attempts in loop mode.
	LoopInterval Duration `yaml:"loop_interval"`

	Card       CardConfig       `yaml:"card"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// CardConfig describes the file holding the birthdate.
type CardConfig struct {
	AID          HexBytes `yaml:"aid"`
	FileID       HexBytes `yaml:"file_id"`
	PINReference int      `yaml:"pin_reference"`

	// PINEnv names the environment variable holding the PIN. If the
	// variable is unset or empty, no PIN is verified.
	PINEnv string `yaml:"pin_env"`

	ChunkSize int `yaml:"chunk_size"`
	MaxChunks int `yaml:"max_chunks"`
}

// ExtractionConfig selects the BirthdateStrategy.
type ExtractionConfig struct {
	Strategy string `yaml:"strategy"`

	// OID of the certificate subject attribute in dotted notation.
	OID string `yaml:"oid"`
}

// NotifyConfig configures the HTTPNotifier.
type NotifyConfig struct {
	URL     string        `yaml:"url"`
	Timeout Duration      `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker of the HTTPNotifier.
type BreakerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Failures    uint32   `yaml:"failures"`
	OpenTimeout Duration `yaml:"open_timeout"`
}

// LogConfig configures the logger of the ageverify command.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the configuration for reading the birthdate from
// the card-face input support application of the Japanese Individual Number
// Card. The file ID is a placeholder which depends on the card profile.
func DefaultConfig() *Config {
	return &Config{
		LockTimeout:    Duration(DefaultLockTimeout),
		ThresholdYears: DefaultThresholdYears,
		LoopInterval:   Duration(2 * time.Second),
		Card: CardConfig{
			AID:          HexBytes{0xd3, 0x92, 0xf0, 0x00, 0x26, 0x01, 0x01},
			FileID:       HexBytes{0x00, 0x11},
			PINReference: DefaultPINReference,
			PINEnv:       "AGEVERIFY_PIN",
			ChunkSize:    DefaultChunkSize,
			MaxChunks:    DefaultMaxChunks,
		},
		Extraction: ExtractionConfig{
			Strategy: StrategyScan,
			OID:      OIDBirthdate.String(),
		},
		Notify: NotifyConfig{
			URL:     "http://localhost:8000/verify",
			Timeout: Duration(DefaultNotifyTimeout),
			Breaker: BreakerConfig{
				Failures:    3,
				OpenTimeout: Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a configuration file on top of DefaultConfig.
// An empty path returns the defaults. Environment overrides are applied in
// both cases.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()

		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return LoadConfigFromReader(f)
}

// LoadConfigFromReader parses a YAML configuration on top of DefaultConfig.
// References like ${VAR} and ${VAR:-default} are substituted from the
// environment.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)

		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}

		return m[2]
	})
}

func (c *Config) applyEnv() {
	if u := os.Getenv(EnvNotifyURL); u != "" {
		c.Notify.URL = u
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Card.AID) == 0 || len(c.Card.AID) > 16 {
		errs = append(errs, fmt.Errorf("card.aid: must be 1 to 16 bytes, got %d", len(c.Card.AID)))
	}

	if len(c.Card.FileID) == 0 {
		errs = append(errs, errors.New("card.file_id: must not be empty"))
	}

	if c.Card.PINReference < 0 || c.Card.PINReference > 0xff {
		errs = append(errs, fmt.Errorf("card.pin_reference: out of range: %d", c.Card.PINReference))
	}

	if c.Card.ChunkSize < 0 || c.Card.ChunkSize > maxShortLe {
		errs = append(errs, fmt.Errorf("card.chunk_size: must be 1 to %d, got %d", maxShortLe, c.Card.ChunkSize))
	}

	if c.Card.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("card.max_chunks: must not be negative, got %d", c.Card.MaxChunks))
	}

	if c.ThresholdYears <= 0 {
		errs = append(errs, fmt.Errorf("threshold_years: must be positive, got %d", c.ThresholdYears))
	}

	if _, err := c.strategy(); err != nil {
		errs = append(errs, fmt.Errorf("extraction: %w", err))
	}

	if c.Notify.URL == "" {
		errs = append(errs, errors.New("notify.url: must not be empty"))
	}

	if c.Notify.Breaker.Enabled && c.Notify.Breaker.Failures == 0 {
		errs = append(errs, errors.New("notify.breaker.failures: must be positive"))
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func (c *Config) strategy() (BirthdateStrategy, error) {
	var oid asn1.ObjectIdentifier

	if c.Extraction.OID != "" {
		var err error
		if oid, err = parseOID(c.Extraction.OID); err != nil {
			return nil, err
		}
	}

	return StrategyByName(c.Extraction.Strategy, oid)
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}

	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}

		oid = append(oid, n)
	}

	return oid, nil
}

// NewVerifier builds a Verifier which reads cards through drv.
//
// The PIN is read from the environment variable named by Card.PINEnv.
func (c *Config) NewVerifier(drv Driver, logger *zap.Logger, metrics *Metrics) (*Verifier, error) {
	strategy, err := c.strategy()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	n := &HTTPNotifier{
		URL:     c.Notify.URL,
		Timeout: c.Notify.Timeout.Duration(),
	}

	if b := c.Notify.Breaker; b.Enabled {
		log := logger.Named("notify")
		n.Breaker = NewBreaker("notify", b.Failures, b.OpenTimeout.Duration(), func(from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		})
	}

	var pin string
	if c.Card.PINEnv != "" {
		pin = os.Getenv(c.Card.PINEnv)
	}

	return &Verifier{
		Transport: &CardTransport{
			Driver:      drv,
			Reader:      c.Reader,
			LockTimeout: c.LockTimeout.Duration(),
		},
		File: FileRequest{
			AID:          c.Card.AID,
			PIN:          pin,
			PINReference: byte(c.Card.PINReference),
			FileID:       c.Card.FileID,
		},
		ChunkSize:      c.Card.ChunkSize,
		MaxChunks:      c.Card.MaxChunks,
		Strategy:       strategy,
		ThresholdYears: c.ThresholdYears,
		Notifier:       n,
		Logger:         logger,
		Metrics:        metrics,
	}, nil
}
