// Package boot provides shared cold-start bootstrap logic for the restyle
// binaries.
//
// Both the HTTP server and the Lambda need some subset of: AWS config, S3,
// DynamoDB, SSM parameter fetch, EventBridge and startup logging. Each
// binary's init is a short composition of these helpers.
package boot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/imagestore"
	"github.com/fpang/page-restyle/internal/logging"
	"github.com/fpang/page-restyle/internal/notify"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/store"
)

// Environment variables read at startup.
const (
	EnvBucket        = "RESTYLE_BUCKET"
	EnvPublicBaseURL = "RESTYLE_PUBLIC_BASE_URL"
	EnvTable         = "RESTYLE_TABLE"
	EnvEventBus      = "RESTYLE_EVENT_BUS"
	EnvCallTimeout   = "RESTYLE_CALL_TIMEOUT"
	EnvOriginSecret  = "RESTYLE_ORIGIN_SECRET"
	EnvAPIKeyParam   = "SSM_API_KEY_PARAM"
	EnvGeminiKey     = "GEMINI_API_KEY"
	EnvImageModel    = "GEMINI_IMAGE_MODEL"
)

// DefaultAPIKeyParam is the SSM parameter holding the server's Gemini key.
const DefaultAPIKeyParam = "/page-restyle/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitImageStore creates the S3-backed image store from RESTYLE_BUCKET and
// RESTYLE_PUBLIC_BASE_URL. Fatals if the bucket is not configured.
func InitImageStore(cfg aws.Config) *imagestore.S3Store {
	bucket := os.Getenv(EnvBucket)
	if bucket == "" {
		log.Fatal().Str("envVar", EnvBucket).Msg("Bucket environment variable is required")
	}
	return imagestore.NewS3Store(s3.NewFromConfig(cfg), bucket, os.Getenv(EnvPublicBaseURL))
}

// InitDynamo creates the DynamoDB page store from RESTYLE_TABLE. Fatals if
// the table is not configured.
func InitDynamo(cfg aws.Config) *store.DynamoStore {
	tableName := os.Getenv(EnvTable)
	if tableName == "" {
		log.Fatal().Str("envVar", EnvTable).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitNotifier returns an EventBridge notifier when RESTYLE_EVENT_BUS is set,
// nil otherwise.
func InitNotifier(cfg aws.Config) *notify.EventBridgeNotifier {
	bus := os.Getenv(EnvEventBus)
	if bus == "" {
		log.Info().Msg("Event bus not set, completion events disabled")
		return nil
	}
	return notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(cfg), bus)
}

// LoadGeminiKey fetches the server's Gemini API key from SSM Parameter Store
// if not already set via GEMINI_API_KEY. Fatals on error.
func LoadGeminiKey(ssmClient *ssm.Client) {
	if os.Getenv(EnvGeminiKey) != "" {
		return
	}
	paramName := logging.EnvOrDefault(EnvAPIKeyParam, DefaultAPIKeyParam)
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read API key from SSM")
	}
	os.Setenv(EnvGeminiKey, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
}

// CallTimeout parses RESTYLE_CALL_TIMEOUT. Invalid or non-positive values
// fall back to the orchestrator default with a warning.
func CallTimeout() time.Duration {
	raw := os.Getenv(EnvCallTimeout)
	if raw == "" {
		return restyle.DefaultCallTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("value", raw).Dur("default", restyle.DefaultCallTimeout).Msg("Invalid call timeout, using default")
		return restyle.DefaultCallTimeout
	}
	return d
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
