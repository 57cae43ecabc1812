package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/imagestore"
	"github.com/fpang/page-restyle/internal/logging"
	"github.com/fpang/page-restyle/internal/metrics"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/restyler"
	"github.com/fpang/page-restyle/internal/sse"
	"github.com/fpang/page-restyle/internal/store"
)

const (
	localPageID = "local"
	localOwner  = "local"
)

// CLI flags
var (
	dirFlag         string
	outFlag         string
	mobileFlag      string
	modelFlag       string
	offsetFlags     []string
	peopleFlag      string
	textFlag        string
	patternFlag     bool
	objectsFlag     bool
	colorFlag       string
	layoutFlag      bool
	vibeFlag        string
	paletteFlag     []string
	descriptionFlag string
	callTimeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "restyle-cli",
	Short: "Restyle a directory of landing page section captures",
	Long: `Restyle CLI runs the restyle pipeline locally against a directory of
section screenshots, one image per section, ordered by file name. Restyled
images are written to the output directory and progress events are printed
to stdout in the same "data: <json>" framing the HTTP API streams.

Mobile captures, when given, are matched to desktop captures by file name.

Examples:
  restyle-cli --dir ./captures --color ocean
  restyle-cli --dir ./desktop --mobile ./mobile --people diversify --text copywriting
  restyle-cli --dir ./captures --layout --offset hero=40:0 --offset footer=-20:0`,
	Run: runMain,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&dirFlag, "dir", "d", "", "Directory of desktop section captures (required)")
	f.StringVarP(&outFlag, "out", "o", "restyled", "Directory restyled images are written to")
	f.StringVar(&mobileFlag, "mobile", "", "Directory of mobile section captures; enables the mobile pass")
	f.StringVarP(&modelFlag, "model", "m", restyler.GetModelName(), "Gemini image model to use")
	f.StringArrayVar(&offsetFlags, "offset", nil, "Boundary offset as id=top:bottom (repeatable); positive expands, negative crops")
	f.StringVar(&peopleFlag, "people", "", "Edit people: replace or diversify")
	f.StringVar(&textFlag, "text", "", "Edit text: nuance, copywriting or rewrite")
	f.BoolVar(&patternFlag, "pattern", false, "Edit background patterns")
	f.BoolVar(&objectsFlag, "objects", false, "Edit icons and objects")
	f.StringVar(&colorFlag, "color", "", "Recolor with a named scheme (ocean, sunset, forest, monochrome, pastel, midnight)")
	f.BoolVar(&layoutFlag, "layout", false, "Rearrange section layout")
	f.StringVar(&vibeFlag, "vibe", "", "Design hint: overall vibe")
	f.StringSliceVar(&paletteFlag, "palette", nil, "Design hint: palette colors")
	f.StringVar(&descriptionFlag, "description", "", "Design hint: free-form description")
	f.DurationVar(&callTimeoutFlag, "call-timeout", restyle.DefaultCallTimeout, "Timeout for one image model call")
	rootCmd.MarkFlagRequired("dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	// stdout carries the event stream.
	metrics.SetOutput(nil)

	req, err := buildRequest()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid options")
	}
	if err := req.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid options")
	}

	apiKey, err := auth.GetAPIKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get API key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	page, err := loadPage(localPageID, localOwner, dirFlag, mobileFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load captures")
	}
	pages := store.NewMemoryStore()
	if err := pages.PutPage(ctx, page); err != nil {
		log.Fatal().Err(err).Msg("Failed to store page")
	}

	out, err := imagestore.NewDirStore(outFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare output directory")
	}

	gemini, err := restyler.NewForKey(ctx, apiKey, modelFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	cfg := restyle.Config{
		Store:       pages,
		Fetcher:     &imagestore.Router{Dir: out},
		Uploader:    out,
		CallTimeout: callTimeoutFlag,
	}

	log.Info().
		Int("sections", len(page.Sections)).
		Str("out", out.Root()).
		Str("model", gemini.Model()).
		Strs("editOptions", req.EditOptions.Enabled()).
		Msg("Starting local restyle")

	stream := sse.NewWriter(os.Stdout)
	job, err := restyle.New(cfg).Run(ctx, restyle.Job{
		PageID:   localPageID,
		OwnerID:  localOwner,
		Request:  *req,
		Restyler: gemini,
	}, stream)
	if err != nil {
		log.Fatal().Err(err).Msg("Restyle failed")
	}
	log.Debug().Int("frames", stream.Frames()).Msg("Event stream closed")

	fmt.Fprintf(os.Stderr, "\n  Restyled %d of %d segments into %s\n\n", job.UpdatedCount, job.TotalCount, out.Root())
}

// buildRequest maps the edit flags onto a restyle request.
func buildRequest() (*restyle.Request, error) {
	req := &restyle.Request{IncludeMobile: mobileFlag != ""}
	opts := &req.EditOptions
	if peopleFlag != "" {
		opts.People = restyle.ModeOption{Enabled: true, Mode: strings.ToLower(peopleFlag)}
	}
	if textFlag != "" {
		opts.Text = restyle.ModeOption{Enabled: true, Mode: strings.ToLower(textFlag)}
	}
	opts.Pattern.Enabled = patternFlag
	opts.Objects.Enabled = objectsFlag
	if colorFlag != "" {
		opts.Color = restyle.ColorOption{Enabled: true, Scheme: strings.ToLower(colorFlag)}
	}
	opts.Layout.Enabled = layoutFlag

	design := &restyle.DesignDefinition{Vibe: vibeFlag, ColorPalette: paletteFlag, Description: descriptionFlag}
	if !design.IsEmpty() {
		req.DesignDefinition = design
	}

	for _, s := range offsetFlags {
		o, err := parseOffset(s)
		if err != nil {
			return nil, err
		}
		req.SectionBoundaries = append(req.SectionBoundaries, o)
	}
	return req, nil
}
