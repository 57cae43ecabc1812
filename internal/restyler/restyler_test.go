package restyler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/fpang/page-restyle/internal/assets"
	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/metrics"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(nil)
	m.Run()
}

func pngImage(t *testing.T, w, h int) compositor.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return compositor.Image{Data: buf.Bytes(), MIMEType: "image/png", Width: w, Height: h}
}

func TestTemperature(t *testing.T) {
	layout := restyle.EditOptions{Layout: restyle.Toggle{Enabled: true}}
	color := restyle.EditOptions{Color: restyle.ColorOption{Enabled: true, Scheme: "ocean"}}

	tests := []struct {
		name string
		opts restyle.EditOptions
		ref  bool
		want float32
	}{
		{"default", color, false, TemperatureDefault},
		{"reference", color, true, TemperatureWithReference},
		{"layout", layout, false, TemperatureLayout},
		{"layout with reference", layout, true, TemperatureLayoutWithReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Temperature(tt.opts, tt.ref); got != tt.want {
				t.Errorf("Temperature() = %v, want %v", got, tt.want)
			}
		})
	}
	if TemperatureWithReference >= TemperatureDefault || TemperatureLayout <= TemperatureDefault {
		t.Error("reference must lower and layout must raise the temperature")
	}
}

func TestEditLinesOrderAndModes(t *testing.T) {
	opts := restyle.EditOptions{
		Layout:  restyle.Toggle{Enabled: true},
		People:  restyle.ModeOption{Enabled: true, Mode: restyle.PeopleDiversify},
		Color:   restyle.ColorOption{Enabled: true, Scheme: "forest"},
		Text:    restyle.ModeOption{Enabled: true, Mode: restyle.TextCopywriting},
		Objects: restyle.Toggle{Enabled: true},
	}
	lines := EditLines(opts)
	prefixes := []string{"People:", "Text:", "Objects:", "Color:", "Layout:"}
	if len(lines) != len(prefixes) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(prefixes), lines)
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(lines[i], p) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], p)
		}
	}
	if !strings.Contains(lines[0], "diversify") {
		t.Errorf("people line ignores mode: %q", lines[0])
	}
	if !strings.Contains(lines[3], restyle.ColorSchemes["forest"]) {
		t.Errorf("color line missing palette: %q", lines[3])
	}
}

func TestBuildInstructionDeterministic(t *testing.T) {
	call := restyle.Call{
		Options:  restyle.EditOptions{Pattern: restyle.Toggle{Enabled: true}},
		Design:   &restyle.DesignDefinition{Vibe: "playful", ColorPalette: []string{"#ff0000", "#00ff00"}},
		Viewport: store.ViewportDesktop,
		Index:    2,
		Total:    5,
	}
	a, b := BuildInstruction(call), BuildInstruction(call)
	if a != b {
		t.Fatal("instruction is not deterministic")
	}
	for _, want := range []string{"section 3 of 5", "desktop", "Pattern:", "Vibe: playful", "#ff0000, #00ff00"} {
		if !strings.Contains(a, want) {
			t.Errorf("instruction missing %q:\n%s", want, a)
		}
	}
	if strings.Contains(a, "first section") {
		t.Error("non-first segment described as first")
	}

	call.Index = 0
	call.Design = nil
	first := BuildInstruction(call)
	if !strings.Contains(first, "first section") {
		t.Errorf("first segment not described as first:\n%s", first)
	}
	if strings.Contains(first, "Design direction") {
		t.Error("empty design definition should add no hints")
	}
}

func TestBuildContentsReferenceFirst(t *testing.T) {
	seg := pngImage(t, 4, 4)
	ref := pngImage(t, 8, 8)
	call := restyle.Call{Segment: seg, Options: restyle.EditOptions{Layout: restyle.Toggle{Enabled: true}}, Total: 2, Index: 1}

	contents := BuildContents(call)
	if len(contents) != 1 || len(contents[0].Parts) != 2 {
		t.Fatalf("without reference want 1 content with 2 parts, got %+v", contents)
	}

	call.Reference = &ref
	parts := BuildContents(call)[0].Parts
	if len(parts) != 4 {
		t.Fatalf("with reference want 4 parts, got %d", len(parts))
	}
	if parts[0].InlineData == nil || !bytes.Equal(parts[0].InlineData.Data, ref.Data) {
		t.Error("reference image must be the first part")
	}
	if parts[1].Text != assets.StyleReferencePrompt {
		t.Error("style instruction must follow the reference")
	}
	if parts[2].InlineData == nil || !bytes.Equal(parts[2].InlineData.Data, seg.Data) {
		t.Error("segment must follow the style instruction")
	}

	cfg := BuildConfig(call)
	if *cfg.Temperature != TemperatureLayoutWithReference {
		t.Errorf("temperature = %v", *cfg.Temperature)
	}
	if len(cfg.ResponseModalities) != 2 {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
}

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	model string
	calls int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	return f.resp, f.err
}

func imageResponse(data []byte, mime string, finish genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: finish,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: data, MIMEType: mime}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 20},
	}
}

func TestRestyle(t *testing.T) {
	seg := pngImage(t, 4, 4)
	out := pngImage(t, 6, 6)
	call := restyle.Call{Segment: seg, Options: restyle.EditOptions{Pattern: restyle.Toggle{Enabled: true}}, Total: 1}
	ctx := context.Background()

	t.Run("image returned", func(t *testing.T) {
		gen := &fakeGenerator{resp: imageResponse(out.Data, "", genai.FinishReasonStop)}
		r := New(gen, "test-model")
		img, err := r.Restyle(ctx, call)
		if err != nil || img == nil {
			t.Fatalf("Restyle = %v, %v", img, err)
		}
		if img.MIMEType != "image/png" {
			t.Errorf("sniffed MIME = %q", img.MIMEType)
		}
		if gen.model != "test-model" {
			t.Errorf("model = %q", gen.model)
		}
	})

	t.Run("safety stop", func(t *testing.T) {
		gen := &fakeGenerator{resp: imageResponse(out.Data, "image/png", genai.FinishReasonSafety)}
		img, err := New(gen, "m").Restyle(ctx, call)
		if img != nil || err != nil {
			t.Errorf("safety stop = %v, %v; want nil, nil", img, err)
		}
	})

	t.Run("text only", func(t *testing.T) {
		gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "I can't"}}},
		}}}}
		img, err := New(gen, "m").Restyle(ctx, call)
		if img != nil || err != nil {
			t.Errorf("text only = %v, %v; want nil, nil", img, err)
		}
	})

	t.Run("api error classified", func(t *testing.T) {
		gen := &fakeGenerator{err: genai.APIError{Code: 429, Message: "slow down"}}
		_, err := New(gen, "m").Restyle(ctx, call)
		var svcErr *auth.ServiceError
		if !errors.As(err, &svcErr) || svcErr.Type != auth.ErrTypeQuotaExceeded {
			t.Errorf("err = %v, want quota ServiceError", err)
		}
	})

	t.Run("deadline kept visible", func(t *testing.T) {
		gen := &fakeGenerator{err: context.DeadlineExceeded}
		_, err := New(gen, "m").Restyle(ctx, call)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want wrapped deadline", err)
		}
	})
}

func TestRestyleEmitsCallMetrics(t *testing.T) {
	var buf bytes.Buffer
	metrics.SetOutput(&buf)
	t.Cleanup(func() { metrics.SetOutput(nil) })

	out := pngImage(t, 6, 6)
	gen := &fakeGenerator{resp: imageResponse(out.Data, "image/png", genai.FinishReasonStop)}
	call := restyle.Call{Segment: pngImage(t, 4, 4), Options: restyle.EditOptions{Pattern: restyle.Toggle{Enabled: true}}, Total: 1}
	if _, err := New(gen, "m").Restyle(context.Background(), call); err != nil {
		t.Fatalf("Restyle: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &doc); err != nil {
		t.Fatalf("EMF output is not one JSON document: %v\n%s", err, buf.String())
	}
	if _, ok := doc["GeminiApiLatencyMs"].(float64); !ok {
		t.Errorf("GeminiApiLatencyMs missing: %v", doc)
	}
	if doc["GeminiApiCalls"] != float64(1) {
		t.Errorf("GeminiApiCalls = %v", doc["GeminiApiCalls"])
	}
	if doc["GeminiInputTokens"] != float64(10) || doc["GeminiOutputTokens"] != float64(20) {
		t.Errorf("token counts = %v, %v", doc["GeminiInputTokens"], doc["GeminiOutputTokens"])
	}
}

func TestGetModelName(t *testing.T) {
	t.Setenv(ModelEnv, "")
	if got := GetModelName(); got != DefaultModelName {
		t.Errorf("default = %q", got)
	}
	t.Setenv(ModelEnv, ModelGemini25FlashImage)
	if got := GetModelName(); got != ModelGemini25FlashImage {
		t.Errorf("override = %q", got)
	}
	if New(&fakeGenerator{}, "").Model() != ModelGemini25FlashImage {
		t.Error("New should fall back to GetModelName")
	}
}
