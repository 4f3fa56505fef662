// Package config provides environment-variable-first configuration loading
// with an optional YAML or TOML file as the base layer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the selectors.
const (
	StoreS3    = "s3"
	StoreMinIO = "minio"
	StoreFS    = "fs"

	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderSMTP   = "smtp"
	ProviderStdout = "stdout"

	NotifierSNS    = "sns"
	NotifierStdout = "stdout"

	ModeRewrite = "rewrite"
	ModeAttach  = "attach"
)

// Config holds the complete application configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Forward  ForwardConfig  `yaml:"forward" toml:"forward"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	Notify   NotifyConfig   `yaml:"notify" toml:"notify"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`

	// Region is the default AWS region for every AWS client.
	Region string `yaml:"region" toml:"region"`
}

// StorageConfig selects the blob store and its key prefixes.
type StorageConfig struct {
	Backend       string      `yaml:"backend" toml:"backend"`
	Bucket        string      `yaml:"bucket" toml:"bucket"`
	MessagePrefix string      `yaml:"message_prefix" toml:"message_prefix"`
	IndexPrefix   string      `yaml:"index_prefix" toml:"index_prefix"`
	ErrorPrefix   string      `yaml:"error_prefix" toml:"error_prefix"`
	MinIO         MinIOConfig `yaml:"minio" toml:"minio"`
	FSRoot        string      `yaml:"fs_root" toml:"fs_root"`
}

// MinIOConfig holds the S3-compatible endpoint settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Secure    bool   `yaml:"secure" toml:"secure"`
}

// ForwardConfig holds the forwarding behaviour.
type ForwardConfig struct {
	// EmailDomain is the relay's own verified domain used in encoded
	// sender addresses.
	EmailDomain string `yaml:"email_domain" toml:"email_domain"`

	// DestDomain replaces the domain of every recipient.
	DestDomain string `yaml:"dest_domain" toml:"dest_domain"`

	Mode                string `yaml:"mode" toml:"mode"`
	TestFailures        bool   `yaml:"test_failures" toml:"test_failures"`
	NotifyOnSendFailure bool   `yaml:"notify_on_send_failure" toml:"notify_on_send_failure"`
}

// ProviderConfig selects the outbound provider.
type ProviderConfig struct {
	Backend string      `yaml:"backend" toml:"backend"`
	SES     SESConfig   `yaml:"ses" toml:"ses"`
	Graph   GraphConfig `yaml:"graph" toml:"graph"`
	SMTP    SMTPConfig  `yaml:"smtp" toml:"smtp"`
}

// SESConfig holds AWS SES configuration. Empty keys fall back to the default
// credential chain.
type SESConfig struct {
	Region          string `yaml:"region" toml:"region"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" toml:"tenant_id"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	Sender       string `yaml:"sender" toml:"sender"`
}

// SMTPConfig holds the SMTP relay configuration.
type SMTPConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	StartTLS bool   `yaml:"starttls" toml:"starttls"`

	// InsecureSkipVerify disables relay certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// NotifyConfig selects the incident notification channel.
type NotifyConfig struct {
	Backend  string `yaml:"backend" toml:"backend"`
	TopicARN string `yaml:"topic_arn" toml:"topic_arn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file, or a TOML file when the
// path ends in .toml, as the base layer, then overrides with environment
// variables. Returns an error if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override file values
	cfg.applyEnvVars()

	return cfg, nil
}

// LoadAuto uses LoadFromFile when CONFIG_FILE is set and Load otherwise.
func LoadAuto() (*Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFromFile(path)
	}
	return Load()
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Provider.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// SESRegion returns the SES region, falling back to the default region.
func (c *Config) SESRegion() string {
	if c.Provider.SES.Region != "" {
		return c.Provider.SES.Region
	}
	return c.Region
}

// Validate reports every missing or unknown setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Forward.EmailDomain == "" {
		errs = append(errs, errors.New("EMAIL_DOM is required"))
	}
	if c.Forward.DestDomain == "" {
		errs = append(errs, errors.New("DEST_DOM is required"))
	}
	if !oneOf(c.Forward.Mode, ModeRewrite, ModeAttach) {
		errs = append(errs, fmt.Errorf("unknown forward mode %q", c.Forward.Mode))
	}

	switch c.Storage.Backend {
	case StoreS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required"))
		}
	case StoreMinIO:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required"))
		}
		if c.Storage.MinIO.Endpoint == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT is required"))
		}
	case StoreFS:
		if c.Storage.FSRoot == "" {
			errs = append(errs, errors.New("FS_ROOT is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Storage.Backend))
	}

	switch c.Provider.Backend {
	case ProviderSES, ProviderStdout:
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER are required"))
		}
	case ProviderSMTP:
		if c.Provider.SMTP.Addr == "" {
			errs = append(errs, errors.New("SMTP_RELAY_ADDR is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Backend))
	}

	switch c.Notify.Backend {
	case NotifierSNS:
		if c.Notify.TopicARN == "" {
			errs = append(errs, errors.New("NOTICE_TOPIC is required"))
		}
	case NotifierStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notify.Backend))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Storage.Backend = StoreS3
	c.Storage.MessagePrefix = "messages/"
	c.Storage.IndexPrefix = "index/"
	c.Storage.ErrorPrefix = "errors/"
	c.Storage.MinIO.Secure = true
	c.Forward.Mode = ModeRewrite
	c.Forward.NotifyOnSendFailure = true
	c.Provider.Backend = ProviderSES
	c.Notify.Backend = NotifierSNS
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.Region, "AWS_REGION")

	setString(&c.Storage.Backend, "STORE")
	setString(&c.Storage.Bucket, "S3_BUCKET")
	setString(&c.Storage.MessagePrefix, "S3_PREFIX_MSG")
	setString(&c.Storage.IndexPrefix, "S3_PREFIX_IDX")
	setString(&c.Storage.ErrorPrefix, "S3_PREFIX_ERR")
	setString(&c.Storage.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Storage.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Storage.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setBool(&c.Storage.MinIO.Secure, "MINIO_SECURE")
	setString(&c.Storage.FSRoot, "FS_ROOT")

	setString(&c.Forward.EmailDomain, "EMAIL_DOM")
	setString(&c.Forward.DestDomain, "DEST_DOM")
	if v := os.Getenv("FORWARD_MODE"); v != "" {
		c.Forward.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("TESTFAILURES"); v != "" {
		c.Forward.TestFailures = enabled(v)
	}
	setBool(&c.Forward.NotifyOnSendFailure, "NOTIFY_ON_SEND_FAILURE")

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider.Backend = strings.ToLower(v)
	}
	setString(&c.Provider.SES.Region, "SES_REGION")
	setString(&c.Provider.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Provider.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Provider.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Provider.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Provider.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Provider.Graph.Sender, "GRAPH_SENDER")
	setString(&c.Provider.SMTP.Addr, "SMTP_RELAY_ADDR")
	setString(&c.Provider.SMTP.Username, "SMTP_RELAY_USERNAME")
	setString(&c.Provider.SMTP.Password, "SMTP_RELAY_PASSWORD")
	setBool(&c.Provider.SMTP.StartTLS, "SMTP_RELAY_STARTTLS")
	setBool(&c.Provider.SMTP.InsecureSkipVerify, "SMTP_RELAY_INSECURE")

	if v := os.Getenv("NOTIFIER"); v != "" {
		c.Notify.Backend = strings.ToLower(v)
	}
	setString(&c.Notify.TopicARN, "NOTICE_TOPIC")

	// LOGLEVEL is the older spelling
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOGLEVEL")
	}
	if level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setBool ignores values strconv.ParseBool does not accept.
func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// enabled treats any value other than "false" and "0" as on.
func enabled(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
