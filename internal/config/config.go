package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrCredentialsMissing is returned when the selected provider has no usable
// API credentials in the config file or the environment. It is surfaced
// before any cloud resource is touched.
var ErrCredentialsMissing = errors.New("cloud credentials missing")

// ProviderType identifies a supported cloud provider.
type ProviderType string

const (
	ProviderAWS         ProviderType = "aws"
	ProviderYandexCloud ProviderType = "yandex_cloud"
	ProviderGCP         ProviderType = "gcp"
)

// AWSConfig contains AWS connection parameters.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ImageID         string `yaml:"image_id"`
}

// YandexCloudConfig contains Yandex Cloud connection parameters.
type YandexCloudConfig struct {
	IAMToken string `yaml:"iam_token"`
	FolderID string `yaml:"folder_id"`
	ImageID  string `yaml:"image_id"`
}

// GCPConfig contains Google Cloud connection parameters.
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsPath string `yaml:"credentials_path"`
	Image           string `yaml:"image"`
}

// ProviderConfig is a discriminated union selecting one cloud provider.
type ProviderConfig struct {
	Type        ProviderType       `yaml:"type"`
	AWS         *AWSConfig         `yaml:"aws"`
	YandexCloud *YandexCloudConfig `yaml:"yandex_cloud"`
	GCP         *GCPConfig         `yaml:"gcp"`
}

// Config contains application configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`

	// DefaultRegion is used when the resource specification omits one.
	DefaultRegion string `yaml:"default_region"`

	// SessionBase is the directory holding per-run session directories.
	SessionBase string `yaml:"session_base"`

	// LoginUser is the account installed on provisioned instances.
	LoginUser string `yaml:"login_user"`

	// Polling parameters for instance/database readiness, in seconds.
	PollIntervalSec int `yaml:"poll_interval_seconds"`
	ComputeWaitSec  int `yaml:"compute_wait_seconds"`
	DatabaseWaitSec int `yaml:"database_wait_seconds"`

	// SetupCommands are run on the instance over SSH after provisioning.
	// Their content is opaque to the orchestrator.
	SetupCommands []string `yaml:"setup_commands"`
}

// PollInterval returns the readiness polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ComputeWait returns the maximum wait for an instance to become running.
func (c *Config) ComputeWait() time.Duration {
	return time.Duration(c.ComputeWaitSec) * time.Second
}

// DatabaseWait returns the maximum wait for a database to become ready.
func (c *Config) DatabaseWait() time.Duration {
	return time.Duration(c.DatabaseWaitSec) * time.Second
}

// Load loads configuration from the YAML file pointed at by CONFIG_PATH
// (default cloudforge.yaml), applies environment overrides and validates
// that the selected provider has credentials.
func Load() (*Config, error) {
	config := &Config{
		DefaultRegion:   "us-east-1",
		LoginUser:       "ubuntu",
		PollIntervalSec: 10,
		ComputeWaitSec:  300,
		DatabaseWaitSec: 600,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "cloudforge.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	applyEnvOverrides(config)

	if config.SessionBase == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		config.SessionBase = filepath.Join(home, ".cloudforge", "sessions")
	}
	config.SessionBase = os.ExpandEnv(config.SessionBase)

	if err := validateProvider(&config.Provider); err != nil {
		return nil, err
	}

	for i, cmd := range config.SetupCommands {
		config.SetupCommands[i] = os.ExpandEnv(cmd)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	switch config.Provider.Type {
	case ProviderAWS:
		if config.Provider.AWS == nil {
			config.Provider.AWS = &AWSConfig{}
		}
		a := config.Provider.AWS
		a.AccessKeyID = os.ExpandEnv(a.AccessKeyID)
		a.SecretAccessKey = os.ExpandEnv(a.SecretAccessKey)
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			a.AccessKeyID = v
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			a.SecretAccessKey = v
		}

	case ProviderYandexCloud:
		if config.Provider.YandexCloud == nil {
			config.Provider.YandexCloud = &YandexCloudConfig{}
		}
		y := config.Provider.YandexCloud
		y.IAMToken = os.ExpandEnv(y.IAMToken)
		y.FolderID = os.ExpandEnv(y.FolderID)
		if v := os.Getenv("YC_TOKEN"); v != "" {
			y.IAMToken = v
		}
		if v := os.Getenv("YC_FOLDER_ID"); v != "" {
			y.FolderID = v
		}

	case ProviderGCP:
		if config.Provider.GCP == nil {
			config.Provider.GCP = &GCPConfig{}
		}
		g := config.Provider.GCP
		g.ProjectID = os.ExpandEnv(g.ProjectID)
		g.CredentialsPath = os.ExpandEnv(g.CredentialsPath)
		if v := os.Getenv("GOOGLE_PROJECT_ID"); v != "" {
			g.ProjectID = v
		}
		if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
			g.CredentialsPath = v
		}
	}
}

func validateProvider(pc *ProviderConfig) error {
	switch pc.Type {
	case ProviderAWS:
		if pc.AWS == nil || pc.AWS.AccessKeyID == "" || pc.AWS.SecretAccessKey == "" {
			return fmt.Errorf("aws: %w (set access_key_id/secret_access_key or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)", ErrCredentialsMissing)
		}
	case ProviderYandexCloud:
		if pc.YandexCloud == nil || pc.YandexCloud.IAMToken == "" || pc.YandexCloud.FolderID == "" {
			return fmt.Errorf("yandex_cloud: %w (set iam_token/folder_id or YC_TOKEN/YC_FOLDER_ID)", ErrCredentialsMissing)
		}
	case ProviderGCP:
		if pc.GCP == nil || pc.GCP.ProjectID == "" {
			return fmt.Errorf("gcp: %w (set project_id or GOOGLE_PROJECT_ID)", ErrCredentialsMissing)
		}
	case "":
		return fmt.Errorf("provider type is required (set provider.type to aws, yandex_cloud or gcp)")
	default:
		return fmt.Errorf("unsupported provider type: %s", pc.Type)
	}
	return nil
}
