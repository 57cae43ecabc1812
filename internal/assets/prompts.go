// Package assets provides the prompt text sent to the image model.
//
// Prompts are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// RestyleSystemPrompt is the system instruction for every restyle call.
//
//go:embed prompts/restyle-system.txt
var RestyleSystemPrompt string

// StyleReferencePrompt follows the style reference image in a request.
//
//go:embed prompts/style-reference.txt
var StyleReferencePrompt string

//go:embed prompts/restyle-instruction.txt
var restyleInstructionTemplate string

// template.Must panics on malformed templates, catching errors at program
// startup rather than at call time.
var restyleInstructionTmpl = template.Must(template.New("restyle").Parse(restyleInstructionTemplate))

// InstructionData holds the dynamic data injected into the restyle instruction.
type InstructionData struct {
	// Position is the 1-based index of the segment within its pass.
	Position int
	Total    int
	Viewport string
	First    bool
	// Edits is one line per enabled edit category, in fixed order.
	Edits []string
	// Hints is one line per design hint, empty when none were given.
	Hints []string
}

// RenderRestyleInstruction renders the per-segment instruction.
func RenderRestyleInstruction(data InstructionData) string {
	var buf bytes.Buffer
	// Execution errors are not expected with this template; whatever was
	// rendered is returned.
	_ = restyleInstructionTmpl.Execute(&buf, data)
	return buf.String()
}
