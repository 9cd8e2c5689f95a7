package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/validator"
)

// Config holds all application configuration. It is built once at startup
// and passed down explicitly; nothing reads the environment after Load.
type Config struct {
	SSH         SSHConfig         `mapstructure:"ssh"`
	Baseline    BaselineConfig    `mapstructure:"baseline"`
	Report      ReportConfig      `mapstructure:"report"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Rules       RulesConfig       `mapstructure:"rules"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SSHConfig contains host inspection settings
type SSHConfig struct {
	Hosts                 []string      `env:"SSH_HOSTS" mapstructure:"hosts" validate:"omitempty,dive,required"`
	User                  string        `env:"SSH_USER" mapstructure:"user" validate:"required"`
	Port                  int           `env:"SSH_PORT" mapstructure:"port" validate:"min=1,max=65535"`
	KeyPath               string        `env:"SSH_KEY_PATH" mapstructure:"key_path"`
	KnownHostsPath        string        `env:"SSH_KNOWN_HOSTS" mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `env:"SSH_INSECURE_IGNORE_HOST_KEY" mapstructure:"insecure_ignore_host_key"`
	AgentSocket           string        `env:"SSH_AUTH_SOCK" mapstructure:"agent_socket"`
	Timeout               time.Duration `env:"SSH_TIMEOUT" mapstructure:"timeout" validate:"gt=0"`
	HostTimeout           time.Duration `env:"HOST_TIMEOUT" mapstructure:"host_timeout" validate:"min=0"`
	DockerCommand         string        `env:"DOCKER_COMMAND" mapstructure:"docker_command" validate:"required"`
	IncludeStopped        bool          `env:"INSPECT_ALL" mapstructure:"include_stopped"`
}

// BaselineConfig locates the declarative repositories
type BaselineConfig struct {
	AppsRepo          string `env:"APPS_REPO" mapstructure:"apps_repo"`
	InfraRepo         string `env:"INFRA_REPO" mapstructure:"infra_repo"`
	Target            string `env:"TARGET" mapstructure:"target"`
	DeployRoot        string `env:"DEPLOY_ROOT" mapstructure:"deploy_root"`
	StrictPrefixMatch bool   `env:"STRICT_PREFIX_MATCH" mapstructure:"strict_prefix_match"`
}

// ReportConfig controls report artifacts
type ReportConfig struct {
	OutputDir  string `env:"REPORT_OUTPUT_DIR" mapstructure:"output_dir" validate:"required"`
	Format     string `env:"REPORT_FORMAT" mapstructure:"format" validate:"oneof=json markdown md both"`
	TruncateAt int    `env:"REPORT_TRUNCATE" mapstructure:"truncate" validate:"min=0"`
	Sink       string `env:"REPORT_SINK" mapstructure:"sink" validate:"oneof=local s3 gcs"`
	Bucket     string `env:"REPORT_BUCKET" mapstructure:"bucket" validate:"required_unless=Sink local"`
	Prefix     string `env:"REPORT_PREFIX" mapstructure:"prefix"`
	// S3 settings
	Region          string `env:"AWS_REGION" mapstructure:"region"`
	Endpoint        string `env:"S3_ENDPOINT" mapstructure:"endpoint"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" mapstructure:"access_key_id"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" mapstructure:"secret_access_key"`
	// GCS settings
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS" mapstructure:"credentials_file"`
}

// RemediationConfig contains git and hosting API settings
type RemediationConfig struct {
	RepoPath       string        `env:"REMEDIATION_REPO_PATH" mapstructure:"repo_path"`
	Remote         string        `env:"GIT_REMOTE" mapstructure:"remote" validate:"required"`
	BaseBranch     string        `env:"GIT_BASE_BRANCH" mapstructure:"base_branch" validate:"required"`
	GitUserName    string        `env:"GIT_USER_NAME" mapstructure:"git_user_name"`
	GitUserEmail   string        `env:"GIT_USER_EMAIL" mapstructure:"git_user_email" validate:"omitempty,email"`
	Owner          string        `env:"GITHUB_OWNER" mapstructure:"owner"`
	Repo           string        `env:"GITHUB_REPO" mapstructure:"repo"`
	Token          string        `env:"GITHUB_TOKEN" mapstructure:"token"`
	AppID          int64         `env:"GITHUB_APP_ID" mapstructure:"app_id" validate:"min=0"`
	InstallationID int64         `env:"GITHUB_INSTALLATION_ID" mapstructure:"installation_id" validate:"min=0"`
	PrivateKeyPath string        `env:"GITHUB_PRIVATE_KEY_PATH" mapstructure:"private_key_path"`
	APIURL         string        `env:"GITHUB_API_URL" mapstructure:"api_url" validate:"url"`
	DryRun         bool          `env:"REMEDIATION_DRY_RUN" mapstructure:"dry_run"`
	Draft          bool          `env:"REMEDIATION_DRAFT" mapstructure:"draft"`
	Labels         []string      `env:"REMEDIATION_LABELS" mapstructure:"labels"`
	RateLimit      float64       `env:"GITHUB_RATE_LIMIT" mapstructure:"rate_limit" validate:"gt=0"`
	Timeout        time.Duration `env:"GITHUB_TIMEOUT" mapstructure:"timeout" validate:"gt=0"`
}

// RulesConfig points at an optional rule set file
type RulesConfig struct {
	File string `env:"RULES_FILE" mapstructure:"file"`
}

// HistoryConfig contains run history settings
type HistoryConfig struct {
	Enabled bool   `env:"HISTORY_ENABLED" mapstructure:"enabled"`
	Driver  string `env:"HISTORY_DRIVER" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN     string `env:"HISTORY_DSN" mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	TextfilePath string `env:"METRICS_TEXTFILE" mapstructure:"textfile"`
}

// WatchConfig contains scheduled detection settings
type WatchConfig struct {
	Schedule  string `env:"WATCH_SCHEDULE" mapstructure:"schedule" validate:"required"`
	Remediate bool   `env:"WATCH_REMEDIATE" mapstructure:"remediate"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `env:"LOG_FORMAT" mapstructure:"format" validate:"oneof=json console"` // json or console
}

// Load builds the configuration from the environment, after loading envFile
// when it exists, then overlays configFile when one is given. An empty
// envFile means ".env".
func Load(envFile, configFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load(envFile)

	cfg := &Config{
		SSH: SSHConfig{
			Hosts:                 getEnvAsList("SSH_HOSTS", nil),
			User:                  getEnv("SSH_USER", "root"),
			Port:                  getEnvAsInt("SSH_PORT", 22),
			KeyPath:               getEnv("SSH_KEY_PATH", homePath(".ssh", "id_ed25519")),
			KnownHostsPath:        getEnv("SSH_KNOWN_HOSTS", homePath(".ssh", "known_hosts")),
			InsecureIgnoreHostKey: getEnvAsBool("SSH_INSECURE_IGNORE_HOST_KEY", false),
			AgentSocket:           getEnv("SSH_AUTH_SOCK", ""),
			Timeout:               getEnvAsDuration("SSH_TIMEOUT", 10*time.Second),
			HostTimeout:           getEnvAsDuration("HOST_TIMEOUT", 2*time.Minute),
			DockerCommand:         getEnv("DOCKER_COMMAND", "docker"),
			IncludeStopped:        getEnvAsBool("INSPECT_ALL", false),
		},
		Baseline: BaselineConfig{
			AppsRepo:          getEnv("APPS_REPO", ""),
			InfraRepo:         getEnv("INFRA_REPO", ""),
			Target:            getEnv("TARGET", ""),
			DeployRoot:        getEnv("DEPLOY_ROOT", ""),
			StrictPrefixMatch: getEnvAsBool("STRICT_PREFIX_MATCH", true),
		},
		Report: ReportConfig{
			OutputDir:       getEnv("REPORT_OUTPUT_DIR", "./reports"),
			Format:          getEnv("REPORT_FORMAT", "both"),
			TruncateAt:      getEnvAsInt("REPORT_TRUNCATE", 80),
			Sink:            getEnv("REPORT_SINK", "local"),
			Bucket:          getEnv("REPORT_BUCKET", ""),
			Prefix:          getEnv("REPORT_PREFIX", "stackdrift/"),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Remediation: RemediationConfig{
			RepoPath:       getEnv("REMEDIATION_REPO_PATH", ""),
			Remote:         getEnv("GIT_REMOTE", "origin"),
			BaseBranch:     getEnv("GIT_BASE_BRANCH", "main"),
			GitUserName:    getEnv("GIT_USER_NAME", ""),
			GitUserEmail:   getEnv("GIT_USER_EMAIL", ""),
			Owner:          getEnv("GITHUB_OWNER", ""),
			Repo:           getEnv("GITHUB_REPO", ""),
			Token:          getEnv("GITHUB_TOKEN", ""),
			AppID:          int64(getEnvAsInt("GITHUB_APP_ID", 0)),
			InstallationID: int64(getEnvAsInt("GITHUB_INSTALLATION_ID", 0)),
			PrivateKeyPath: getEnv("GITHUB_PRIVATE_KEY_PATH", ""),
			APIURL:         getEnv("GITHUB_API_URL", "https://api.github.com"),
			DryRun:         getEnvAsBool("REMEDIATION_DRY_RUN", false),
			Draft:          getEnvAsBool("REMEDIATION_DRAFT", false),
			Labels:         getEnvAsList("REMEDIATION_LABELS", nil),
			RateLimit:      getEnvAsFloat("GITHUB_RATE_LIMIT", 1),
			Timeout:        getEnvAsDuration("GITHUB_TIMEOUT", 30*time.Second),
		},
		Rules: RulesConfig{
			File: getEnv("RULES_FILE", ""),
		},
		History: HistoryConfig{
			Enabled: getEnvAsBool("HISTORY_ENABLED", false),
			Driver:  getEnv("HISTORY_DRIVER", "sqlite"),
			DSN:     getEnv("HISTORY_DSN", "./stackdrift.db"),
		},
		Metrics: MetricsConfig{
			TextfilePath: getEnv("METRICS_TEXTFILE", ""),
		},
		Watch: WatchConfig{
			Schedule:  getEnv("WATCH_SCHEDULE", "@every 1h"),
			Remediate: getEnvAsBool("WATCH_REMEDIATE", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if configFile != "" {
		if err := cfg.MergeFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MergeFile overlays the keys present in a YAML config file. Keys absent
// from the file keep their current value.
func (c *Config) MergeFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) || stderrors.Is(err, os.ErrNotExist) {
			return errors.Config(fmt.Sprintf("config file %s not found", path), err)
		}
		return errors.Config(fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := v.Unmarshal(c); err != nil {
		return errors.Config(fmt.Sprintf("failed to decode config file %s", path), err)
	}
	return nil
}

// DefaultConfigFile returns $HOME/.stackdrift/config.yaml when it exists.
func DefaultConfigFile() string {
	p := homePath(".stackdrift", "config.yaml")
	if p == "" {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if errs := validator.New().Validate(c); len(errs) > 0 {
		return errors.Config("invalid configuration: "+validator.Join(errs), nil)
	}

	if c.Remediation.Token == "" && c.Remediation.AppID != 0 {
		if c.Remediation.InstallationID == 0 || c.Remediation.PrivateKeyPath == "" {
			return errors.Config("GITHUB_APP_ID requires GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY_PATH", nil)
		}
	}

	if c.History.Driver == "postgres" && c.History.Enabled && !strings.Contains(c.History.DSN, "://") && !strings.Contains(c.History.DSN, "=") {
		return errors.Config("HISTORY_DSN must be a postgres connection string", nil)
	}

	return nil
}

// RequireInspection checks the settings detection needs.
func (c *Config) RequireInspection() error {
	if len(c.SSH.Hosts) == 0 {
		return errors.Config("no hosts configured (set SSH_HOSTS or --hosts)", nil)
	}
	return c.RequireBaseline()
}

// RequireBaseline checks that the primary repository is configured.
func (c *Config) RequireBaseline() error {
	if c.Baseline.AppsRepo == "" {
		return errors.Config("no baseline repository configured (set APPS_REPO or --apps-repo)", nil)
	}
	return nil
}

// RequirePublishing checks the settings opening pull requests needs.
func (c *Config) RequirePublishing() error {
	r := c.Remediation
	if r.Owner == "" || r.Repo == "" {
		return errors.Config("GITHUB_OWNER and GITHUB_REPO are required to open pull requests", nil)
	}
	if r.Token == "" && r.AppID == 0 {
		return errors.Config("GITHUB_TOKEN or GitHub App credentials are required to open pull requests", nil)
	}
	return nil
}

// RemediationRepo is the working copy patched by remediation, which
// defaults to the apps repository.
func (c *Config) RemediationRepo() string {
	if c.Remediation.RepoPath != "" {
		return c.Remediation.RepoPath
	}
	return c.Baseline.AppsRepo
}

// Roots lists the configured repository roots, apps first.
func (c *Config) Roots() []string {
	var roots []string
	if c.Baseline.AppsRepo != "" {
		roots = append(roots, c.Baseline.AppsRepo)
	}
	if c.Baseline.InfraRepo != "" {
		roots = append(roots, c.Baseline.InfraRepo)
	}
	return roots
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma or whitespace separated value.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	fields := strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return defaultValue
	}
	return fields
}

func homePath(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, parts...)...)
}
