package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "TSUZURI"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultLogLevel        = "info"
	defaultTableBackend    = "sqlite"
	defaultTableName       = "TsuzuriTimelineDiary"
	defaultDatabasePath    = "tsuzuri.db"
	defaultAWSRegion       = "ap-northeast-1"
	defaultAuthIssuer      = "tsuzuri-gateway"
	defaultAuthAudience    = "tsuzuri-api"
	defaultMonthlyUploads  = 50
	defaultConsentVersion  = "2025-12-21"
	tableBackendDynamoDB   = "dynamodb"
	tableBackendSQLite     = "sqlite"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	AuthSigningSecret string
	AuthIssuer        string
	AuthAudience      string

	TableBackend string
	TableName    string
	DatabasePath string

	AWSRegion    string
	S3Bucket     string
	S3Endpoint   string
	CDNDomain    string

	MonthlyUploadLimit     int64
	ConsentRequiredVersion string
}

// UsesDynamoDB reports whether the DynamoDB table backend is selected.
func (c AppConfig) UsesDynamoDB() bool {
	return c.TableBackend == tableBackendDynamoDB
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("table.backend", defaultTableBackend)
	configViper.SetDefault("table.name", defaultTableName)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("aws.region", defaultAWSRegion)
	configViper.SetDefault("upload.monthly_limit", defaultMonthlyUploads)
	configViper.SetDefault("consent.required_version", defaultConsentVersion)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		LogLevel:               configViper.GetString("log.level"),
		AuthSigningSecret:      configViper.GetString("auth.signing_secret"),
		AuthIssuer:             configViper.GetString("auth.issuer"),
		AuthAudience:           configViper.GetString("auth.audience"),
		TableBackend:           strings.ToLower(strings.TrimSpace(configViper.GetString("table.backend"))),
		TableName:              configViper.GetString("table.name"),
		DatabasePath:           configViper.GetString("database.path"),
		AWSRegion:              configViper.GetString("aws.region"),
		S3Bucket:               configViper.GetString("s3.bucket"),
		S3Endpoint:             configViper.GetString("s3.endpoint"),
		CDNDomain:              configViper.GetString("cdn.domain"),
		MonthlyUploadLimit:     configViper.GetInt64("upload.monthly_limit"),
		ConsentRequiredVersion: configViper.GetString("consent.required_version"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.TableBackend {
	case tableBackendDynamoDB:
		if strings.TrimSpace(c.TableName) == "" {
			return fmt.Errorf("table.name is required for the dynamodb backend")
		}
	case tableBackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("table.backend must be %q or %q", tableBackendDynamoDB, tableBackendSQLite)
	}
	if strings.TrimSpace(c.S3Bucket) == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.MonthlyUploadLimit <= 0 {
		return fmt.Errorf("upload.monthly_limit must be positive")
	}
	return nil
}
