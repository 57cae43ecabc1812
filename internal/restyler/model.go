package restyler

import "os"

// Gemini image model IDs.
//
// | Model Name            | API Model ID                   | Use Case                      |
// |-----------------------|--------------------------------|-------------------------------|
// | Gemini 3 Pro Image    | gemini-3-pro-image-preview     | Highest fidelity edits        |
// | Gemini 2.5 Flash Image| gemini-2.5-flash-image         | Faster, cheaper edits         |
const (
	ModelGemini3ProImage    = "gemini-3-pro-image-preview"
	ModelGemini25FlashImage = "gemini-2.5-flash-image"
)

// DefaultModelName is the image model used when none is configured.
const DefaultModelName = ModelGemini3ProImage

// ModelEnv overrides the image model.
const ModelEnv = "GEMINI_IMAGE_MODEL"

// GetModelName returns the image model to use, resolved from:
// 1. GEMINI_IMAGE_MODEL environment variable (if set)
// 2. Default: gemini-3-pro-image-preview
func GetModelName() string {
	if env := os.Getenv(ModelEnv); env != "" {
		return env
	}
	return DefaultModelName
}
