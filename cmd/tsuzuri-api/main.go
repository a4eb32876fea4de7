package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/auth"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/config"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/consent"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/logging"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/objectstore"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/quota"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/server"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/table"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/timeline"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/upload"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tsuzuri-api",
		Short: "Tsuzuri timeline diary backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("table-backend", defaults.GetString("table.backend"), "Table backend (dynamodb or sqlite)")
	cmd.PersistentFlags().String("table-name", defaults.GetString("table.name"), "DynamoDB table name")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("aws-region", defaults.GetString("aws.region"), "AWS region")
	cmd.PersistentFlags().String("s3-bucket", defaults.GetString("s3.bucket"), "User content bucket")
	cmd.PersistentFlags().String("s3-endpoint", defaults.GetString("s3.endpoint"), "Custom S3 endpoint (local runs)")
	cmd.PersistentFlags().String("cdn-domain", defaults.GetString("cdn.domain"), "Public distribution domain for images")
	cmd.PersistentFlags().Int64("monthly-upload-limit", defaults.GetInt64("upload.monthly_limit"), "Image uploads per user per month")
	cmd.PersistentFlags().String("consent-version", defaults.GetString("consent.required_version"), "Required consent version")
	cmd.PersistentFlags().String("signing-secret", "", "Gateway token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "table.backend", "table-backend")
	bindFlag(cmd, "table.name", "table-name")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "aws.region", "aws-region")
	bindFlag(cmd, "s3.bucket", "s3-bucket")
	bindFlag(cmd, "s3.endpoint", "s3-endpoint")
	bindFlag(cmd, "cdn.domain", "cdn-domain")
	bindFlag(cmd, "upload.monthly_limit", "monthly-upload-limit")
	bindFlag(cmd, "consent.required_version", "consent-version")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	tableClient, closeTable, err := openTable(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	if closeTable != nil {
		defer closeTable()
	}

	store, err := objectstore.New(ctx, objectstore.Config{
		Region:       appConfig.AWSRegion,
		Bucket:       appConfig.S3Bucket,
		Endpoint:     appConfig.S3Endpoint,
		PublicDomain: appConfig.CDNDomain,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewGatewayVerifier(auth.GatewayVerifierConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
	})
	if err != nil {
		return err
	}

	consentService, err := consent.NewService(consent.ServiceConfig{
		Table:           tableClient,
		RequiredVersion: appConfig.ConsentRequiredVersion,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	quotaService, err := quota.NewService(quota.ServiceConfig{
		Table:  tableClient,
		Limit:  appConfig.MonthlyUploadLimit,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	timelineService, err := timeline.NewService(timeline.ServiceConfig{
		Table:      tableClient,
		Images:     store,
		IDProvider: timeline.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	uploadService, err := upload.NewService(upload.ServiceConfig{
		Quota:  quotaService,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier: verifier,
		Consent:  consentService,
		Timeline: timelineService,
		Upload:   uploadService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("table_backend", appConfig.TableBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openTable(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (table.Client, func() error, error) {
	if appConfig.UsesDynamoDB() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(appConfig.AWSRegion))
		if err != nil {
			return nil, nil, err
		}
		client, err := table.NewDynamo(dynamodb.NewFromConfig(awsCfg), appConfig.TableName)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("dynamodb table selected", zap.String("table", appConfig.TableName))
		return client, nil, nil
	}

	client, err := table.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
