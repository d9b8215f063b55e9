package ledgerxgo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	EnvDBDriver  = "LEDGER_DB_DRIVER"
	EnvDBConnStr = "LEDGER_DB_CONN_STR"
	EnvHTTPAddr  = "LEDGER_HTTP_ADDR"
)

type Config struct {
	Database struct {
		Driver           string          `yaml:"driver"`
		ConnectionString string          `yaml:"conn_str"`
		MaxConns         int32           `yaml:"max_conns"`
		SampleAccounts   int             `yaml:"sample_accounts"`
		SampleBalance    decimal.Decimal `yaml:"sample_balance"`
	} `yaml:"database"`
	HTTP struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"http"`
	Service struct {
		MaxInFlight int64 `yaml:"max_in_flight"`
		Retry       struct {
			Attempts  int           `yaml:"attempts"`
			BaseDelay time.Duration `yaml:"base_delay"`
		} `yaml:"retry"`
		Breaker struct {
			MaxRequests         uint32        `yaml:"max_requests"`
			Interval            time.Duration `yaml:"interval"`
			Timeout             time.Duration `yaml:"timeout"`
			ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
		} `yaml:"breaker"`
	} `yaml:"service"`
	NodeID int64 `yaml:"node_id"`
}

// LoadConfig reads the YAML file at path, then applies a .env file in the
// working directory (if any) and LEDGER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfgfl, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer cfgfl.Close()

	var cfg Config
	if err = yaml.NewDecoder(cfgfl).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg.applyEnv()
	cfg.setDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDBConnStr); v != "" {
		c.Database.ConnectionString = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.SampleAccounts == 0 {
		c.Database.SampleAccounts = 25
	}
	if c.Database.SampleBalance.IsZero() {
		c.Database.SampleBalance = decimal.NewFromInt(200)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3000"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 5 * time.Second
	}
	if c.Service.MaxInFlight == 0 {
		c.Service.MaxInFlight = 64
	}
	if c.Service.Retry.Attempts == 0 {
		c.Service.Retry.Attempts = 5
	}
	if c.Service.Retry.BaseDelay == 0 {
		c.Service.Retry.BaseDelay = 10 * time.Millisecond
	}
	if c.Service.Breaker.MaxRequests == 0 {
		c.Service.Breaker.MaxRequests = 1
	}
	if c.Service.Breaker.Interval == 0 {
		c.Service.Breaker.Interval = 30 * time.Second
	}
	if c.Service.Breaker.Timeout == 0 {
		c.Service.Breaker.Timeout = 10 * time.Second
	}
	if c.Service.Breaker.ConsecutiveFailures == 0 {
		c.Service.Breaker.ConsecutiveFailures = 5
	}
	if c.NodeID == 0 {
		c.NodeID = 1
	}
}

func (c *Config) Validate() error {
	fields := map[string]string{}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		fields["database.driver"] = fmt.Sprintf("unsupported %q", c.Database.Driver)
	}
	if c.Database.ConnectionString == "" {
		fields["database.conn_str"] = "missing"
	}
	if c.Database.MaxConns < 0 {
		fields["database.max_conns"] = "negative"
	}
	if c.Service.Retry.Attempts < 0 {
		fields["service.retry.attempts"] = "negative"
	}
	if len(fields) > 0 {
		return ErrBadRequest{Fields: fields}
	}
	return nil
}
