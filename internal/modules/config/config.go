package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
	"hedge_bot/pkg/logger"
	"hedge_bot/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"

	// env overrides, read through viper with this prefix
	envPrefix = "HEDGE"
)

type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	MaxSlippage  float64       `yaml:"max_slippage"`
	// CloseTimeout ограничивает закрытие всех пар при остановке.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type EmailConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Sender     string `yaml:"sender"`
	Recipient  string `yaml:"recipient"`
}

type NotificationConfig struct {
	QueueSize int            `yaml:"queue_size"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Email     EmailConfig    `yaml:"email"`
}

type Config struct {
	TradingPair       string  `yaml:"trading_pair"`
	Leverage          int     `yaml:"leverage"`
	PositionSize      float64 `yaml:"position_size"`
	StopLossThreshold float64 `yaml:"stop_loss_threshold"`

	ProxyPool      []models.ProxyConfig       `yaml:"proxy_pool"`
	APICredentials []models.AccountCredential `yaml:"api_credentials"`
	HedgePairs     []models.HedgePairConfig   `yaml:"hedge_pairs"`

	Monitor      MonitorConfig      `yaml:"monitor"`
	Retry        retry.Policy       `yaml:"retry"`
	Notification NotificationConfig `yaml:"notification"`
	Log          logger.Config      `yaml:"log"`
	Tracing      tracing.Config     `yaml:"tracing"`

	DB      string `yaml:"db_dsn"`
	Service struct {
		Addr string `yaml:"addr"`
	} `yaml:"service"`
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = defaultConfigFile
	}
	return Load(filepath.Join(configDir, name))
}

// Load decodes and validates the file at path. A .env next to the working directory is
// loaded first so secrets can come from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	conf := defaults()
	if err := yaml.Unmarshal(raw, conf); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	applyEnv(conf)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func defaults() *Config {
	c := &Config{
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			ErrorBackoff: 60 * time.Second,
			MaxSlippage:  0.01,
			CloseTimeout: 2 * time.Minute,
		},
		Retry:        retry.DefaultPolicy(),
		Notification: NotificationConfig{QueueSize: 64},
		Log:          logger.Config{Level: "info"},
		Tracing:      tracing.Config{Host: "localhost", Port: 6831},
	}
	c.Notification.Email.SMTPPort = 587
	c.Service.Addr = ":8080"
	return c
}

// applyEnv overrides secrets from HEDGE_* variables.
func applyEnv(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("telegram_token"); s != "" {
		c.Notification.Telegram.Token = s
	}
	if s := v.GetString("db_dsn"); s != "" {
		c.DB = s
	}
	if s := v.GetString("smtp_password"); s != "" {
		c.Notification.Email.Password = s
	}
}

func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.TradingPair) == "" {
		add("trading_pair is required")
	}
	if c.Leverage <= 0 {
		add("leverage must be positive, got %d", c.Leverage)
	}
	if c.PositionSize <= 0 {
		add("position_size must be positive, got %v", c.PositionSize)
	}
	if c.StopLossThreshold <= 0 {
		add("stop_loss_threshold must be positive, got %v", c.StopLossThreshold)
	}

	if len(c.ProxyPool) == 0 {
		add("proxy_pool must not be empty")
	}
	proxies := make(map[string]struct{}, len(c.ProxyPool))
	for i, p := range c.ProxyPool {
		if p.Name == "" || p.Host == "" || p.Port <= 0 {
			add("proxy_pool[%d]: name, host and port are required", i)
		}
		if (p.Username == "") != (p.Password == "") {
			add("proxy_pool[%d] %q: username and password must be set together", i, p.Name)
		}
		proxies[p.Name] = struct{}{}
	}

	if len(c.APICredentials) < 2 {
		add("api_credentials needs at least 2 accounts, got %d", len(c.APICredentials))
	}
	accounts := make(map[string]struct{}, len(c.APICredentials))
	for i, a := range c.APICredentials {
		if a.AccountName == "" || a.APIKey == "" {
			add("api_credentials[%d]: account_name and api_key are required", i)
		}
		if !a.Network.Valid() {
			add("api_credentials[%d] %q: network must be mainnet or testnet, got %q", i, a.AccountName, a.Network)
		}
		if _, dup := accounts[a.AccountName]; dup {
			add("api_credentials[%d]: duplicate account_name %q", i, a.AccountName)
		}
		accounts[a.AccountName] = struct{}{}
		if a.Proxy != "" {
			if _, ok := proxies[a.Proxy]; !ok {
				add("api_credentials[%d] %q: unknown proxy %q", i, a.AccountName, a.Proxy)
			}
		}
	}

	for i, hp := range c.HedgePairs {
		if hp.LongAccount == "" || hp.ShortAccount == "" {
			add("hedge_pairs[%d]: long_account and short_account are required", i)
		}
		if hp.LongAccount != "" && hp.LongAccount == hp.ShortAccount {
			add("hedge_pairs[%d]: long and short account must differ", i)
		}
	}

	if c.Monitor.Interval <= 0 || c.Monitor.ErrorBackoff <= 0 {
		add("monitor.interval and monitor.error_backoff must be positive")
	}
	if c.Monitor.MaxSlippage < 0 || c.Monitor.MaxSlippage >= 1 {
		add("monitor.max_slippage must be in [0, 1), got %v", c.Monitor.MaxSlippage)
	}
	if c.Retry.BaseDelay < time.Second {
		add("retry.base_delay must be at least 1s, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Notification.Telegram.Enabled && (c.Notification.Telegram.Token == "" || c.Notification.Telegram.ChatID == 0) {
		add("notification.telegram: token and chat_id are required when enabled")
	}
	if e := c.Notification.Email; e.Enabled && (e.SMTPServer == "" || e.Sender == "" || e.Recipient == "") {
		add("notification.email: smtp_server, sender and recipient are required when enabled")
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Proxy returns the proxy named name, nil when name is empty.
func (c *Config) Proxy(name string) (*models.ProxyConfig, error) {
	if name == "" {
		return nil, nil
	}
	for i := range c.ProxyPool {
		if c.ProxyPool[i].Name == name {
			p := c.ProxyPool[i]
			return &p, nil
		}
	}
	return nil, errors.Errorf("proxy %q not found", name)
}

// Credential looks up an account by name.
func (c *Config) Credential(name string) (models.AccountCredential, bool) {
	for _, a := range c.APICredentials {
		if a.AccountName == name {
			return a, true
		}
	}
	return models.AccountCredential{}, false
}
