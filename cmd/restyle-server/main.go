package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/boot"
	"github.com/fpang/page-restyle/internal/logging"
	"github.com/fpang/page-restyle/internal/restyler"
)

// CLI flags
var (
	portFlag        int
	modelFlag       string
	callTimeoutFlag time.Duration
	validateKeyFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "restyle-server",
	Short: "HTTP server for landing page section restyling",
	Long: `Restyle Server serves the restyle API: it regenerates the sections of a
landing page one after another with a consistent visual style and streams
progress to the caller as server-sent events.

Configuration comes from the environment (RESTYLE_TABLE, RESTYLE_BUCKET,
RESTYLE_PUBLIC_BASE_URL, RESTYLE_EVENT_BUS, GEMINI_API_KEY or
SSM_API_KEY_PARAM, RESTYLE_ORIGIN_SECRET); flags override a subset.

Examples:
  restyle-server
  restyle-server --port 9090
  restyle-server --model gemini-2.5-flash-image --call-timeout 2m`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", restyler.GetModelName(), "Gemini image model to use")
	rootCmd.Flags().DurationVar(&callTimeoutFlag, "call-timeout", 0, "Timeout for one image model call (default from RESTYLE_CALL_TIMEOUT or 90s)")
	rootCmd.Flags().BoolVar(&validateKeyFlag, "validate-key", false, "Validate the server API key against the model at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	// Cancelled on SIGINT/SIGTERM; running jobs stop between segments.
	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	handler := boot.NewAPI(boot.InitAWS(), boot.APIOptions{
		Name:        "restyle-server",
		Commit:      commitHash,
		Model:       modelFlag,
		CallTimeout: callTimeoutFlag,
		JobContext:  jobCtx,
	})

	if validateKeyFlag {
		validateServerKey(modelFlag)
	}

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		stopJobs()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Int("port", portFlag).Msg("Starting restyle server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func validateServerKey(model string) {
	apiKey, err := auth.GetAPIKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get API key")
	}
	ctx := context.Background()
	client, err := restyler.NewClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client for validation")
	}
	if err := auth.ValidateAPIKey(ctx, client, model); err != nil {
		log.Fatal().Err(err).Msg("Invalid API key")
	}
}
