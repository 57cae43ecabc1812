package restyle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fpang/page-restyle/internal/boundary"
)

// MaxBoundaryOffset bounds the magnitude of a single boundary offset in pixels.
const MaxBoundaryOffset = 4096

// People edit modes.
const (
	PeopleReplace   = "replace"
	PeopleDiversify = "diversify"
)

// Text edit modes.
const (
	TextNuance      = "nuance"
	TextCopywriting = "copywriting"
	TextRewrite     = "rewrite"
)

// ColorSchemes maps each named palette key to the palette described to the
// image model.
var ColorSchemes = map[string]string{
	"ocean":      "deep navy, teal and seafoam accents on crisp white",
	"sunset":     "warm coral, amber and dusky violet gradients",
	"forest":     "moss green, bark brown and soft cream",
	"monochrome": "black, white and a range of neutral greys",
	"pastel":     "soft blush, mint, lavender and butter yellow",
	"midnight":   "near-black indigo backgrounds with electric blue highlights",
}

// Toggle is an edit category without a mode.
type Toggle struct {
	Enabled bool `json:"enabled"`
}

// ModeOption is an edit category with a mode selector.
type ModeOption struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`
}

// ColorOption selects a named color scheme.
type ColorOption struct {
	Enabled bool   `json:"enabled"`
	Scheme  string `json:"scheme,omitempty"`
}

// EditOptions is the fixed set of six edit categories a job may enable.
type EditOptions struct {
	People  ModeOption  `json:"people"`
	Text    ModeOption  `json:"text"`
	Pattern Toggle      `json:"pattern"`
	Objects Toggle      `json:"objects"`
	Color   ColorOption `json:"color"`
	Layout  Toggle      `json:"layout"`
}

// Enabled returns the names of the enabled categories in fixed order.
func (o EditOptions) Enabled() []string {
	var names []string
	if o.People.Enabled {
		names = append(names, "people")
	}
	if o.Text.Enabled {
		names = append(names, "text")
	}
	if o.Pattern.Enabled {
		names = append(names, "pattern")
	}
	if o.Objects.Enabled {
		names = append(names, "objects")
	}
	if o.Color.Enabled {
		names = append(names, "color")
	}
	if o.Layout.Enabled {
		names = append(names, "layout")
	}
	return names
}

// Any reports whether at least one category is enabled.
func (o EditOptions) Any() bool {
	return len(o.Enabled()) > 0
}

// DesignDefinition carries optional design hints for the image model.
type DesignDefinition struct {
	ColorPalette []string `json:"colorPalette,omitempty"`
	Typography   string   `json:"typography,omitempty"`
	Layout       string   `json:"layout,omitempty"`
	Vibe         string   `json:"vibe,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// IsEmpty reports whether no hint is set.
func (d *DesignDefinition) IsEmpty() bool {
	if d == nil {
		return true
	}
	return len(d.ColorPalette) == 0 && d.Typography == "" && d.Layout == "" && d.Vibe == "" && d.Description == ""
}

// Request is the body of a restyle trigger.
type Request struct {
	EditOptions       EditOptions         `json:"editOptions"`
	DesignDefinition  *DesignDefinition   `json:"designDefinition,omitempty"`
	IncludeMobile     bool                `json:"includeMobile"`
	SectionBoundaries []boundary.Override `json:"sectionBoundaries,omitempty"`
}

// FieldError names one violated request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a Request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid restyle request: " + strings.Join(parts, "; ")
}

// Validate checks a Request and returns a *ValidationError describing every
// violation, or nil.
func (r *Request) Validate() error {
	var fields []FieldError
	add := func(field, format string, args ...interface{}) {
		fields = append(fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	opts := r.EditOptions
	if !opts.Any() {
		add("editOptions", "at least one edit option must be enabled")
	}
	if opts.People.Enabled {
		switch opts.People.Mode {
		case "", PeopleReplace, PeopleDiversify:
		default:
			add("editOptions.people.mode", "must be one of %s, %s", PeopleReplace, PeopleDiversify)
		}
	}
	if opts.Text.Enabled {
		switch opts.Text.Mode {
		case "", TextNuance, TextCopywriting, TextRewrite:
		default:
			add("editOptions.text.mode", "must be one of %s, %s, %s", TextNuance, TextCopywriting, TextRewrite)
		}
	}
	if opts.Color.Enabled && opts.Color.Scheme != "" {
		if _, ok := ColorSchemes[opts.Color.Scheme]; !ok {
			add("editOptions.color.scheme", "unknown scheme %q (known: %s)", opts.Color.Scheme, strings.Join(schemeNames(), ", "))
		}
	}

	for i, b := range r.SectionBoundaries {
		prefix := fmt.Sprintf("sectionBoundaries[%d]", i)
		if strings.TrimSpace(b.SectionID) == "" {
			add(prefix+".id", "section id is required")
		}
		if abs(b.OffsetTop) > MaxBoundaryOffset {
			add(prefix+".boundaryOffsetTop", "magnitude must not exceed %d", MaxBoundaryOffset)
		}
		if abs(b.OffsetBottom) > MaxBoundaryOffset {
			add(prefix+".boundaryOffsetBottom", "magnitude must not exceed %d", MaxBoundaryOffset)
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func schemeNames() []string {
	names := make([]string, 0, len(ColorSchemes))
	for k := range ColorSchemes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
