package boot

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/httpapi"
	"github.com/fpang/page-restyle/internal/imagestore"
	"github.com/fpang/page-restyle/internal/logging"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/restyler"
)

// APIOptions tunes the HTTP service built by NewAPI.
type APIOptions struct {
	// Name and Commit identify the binary in the startup log.
	Name   string
	Commit string
	// Model overrides the image model; empty uses GEMINI_IMAGE_MODEL or the
	// default.
	Model string
	// CallTimeout overrides RESTYLE_CALL_TIMEOUT when positive.
	CallTimeout time.Duration
	// JobContext bounds running jobs; cancelling it stops them between
	// segments.
	JobContext context.Context
	// BufferedResponses is set by transports that cannot stream, such as the
	// API Gateway proxy. The restyle route then answers 501.
	BufferedResponses bool
}

// NewAPI wires the full AWS-backed restyle service: DynamoDB pages and jobs,
// S3 images, the server's Gemini key from SSM and optional EventBridge
// notifications.
func NewAPI(clients AWSClients, opts APIOptions) http.Handler {
	initStart := time.Now()

	LoadGeminiKey(clients.SSM)
	serverKey, err := auth.GetAPIKey()
	if err != nil {
		log.Warn().Err(err).Msg("No server API key, only callers with their own key can restyle")
	}

	pages := InitDynamo(clients.Config)
	images := InitImageStore(clients.Config)
	notifier := InitNotifier(clients.Config)

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = CallTimeout()
	}
	cfg := restyle.Config{
		Store:       pages,
		Fetcher:     &imagestore.Router{S3: images, HTTP: imagestore.NewHTTPFetcher(nil)},
		Uploader:    images,
		CallTimeout: timeout,
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}

	model := opts.Model
	if model == "" {
		model = restyler.GetModelName()
	}
	originSecret := os.Getenv(EnvOriginSecret)
	if originSecret == "" {
		log.Warn().Msg("RESTYLE_ORIGIN_SECRET not set, origin verification disabled")
	}

	srv := httpapi.New(httpapi.Config{
		Store:             pages,
		Runner:            restyle.New(cfg),
		Keys:              auth.NewKeyResolver(pages, serverKey),
		OriginSecret:      originSecret,
		JobContext:        opts.JobContext,
		BufferedResponses: opts.BufferedResponses,
		NewRestyler: func(ctx context.Context, apiKey string) (restyle.Restyler, error) {
			return restyler.NewForKey(ctx, apiKey, model)
		},
	})

	StartupLog(opts.Name, initStart).
		CommitHash(opts.Commit).
		DynamoTable("pages", os.Getenv(EnvTable)).
		S3Bucket("images", os.Getenv(EnvBucket)).
		SSMParam("geminiKey", logging.EnvOrDefault(EnvAPIKeyParam, DefaultAPIKeyParam)).
		EventBus("completion", os.Getenv(EnvEventBus)).
		Feature("serverKey", serverKey != "").
		Feature("notifications", notifier != nil).
		Feature("originVerify", originSecret != "").
		Feature("restyleStream", !opts.BufferedResponses).
		Config("model", model).
		Config("callTimeout", timeout.String()).
		Log()

	return srv.Routes()
}
