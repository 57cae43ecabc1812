package restyler

import (
	"fmt"
	"strings"

	"github.com/fpang/page-restyle/internal/assets"
	"github.com/fpang/page-restyle/internal/restyle"
)

// Sampling temperatures. A style reference pulls the temperature down so the
// model copies rather than invents; a layout change pushes it up.
const (
	TemperatureDefault             float32 = 0.4
	TemperatureWithReference       float32 = 0.2
	TemperatureLayout              float32 = 0.7
	TemperatureLayoutWithReference float32 = 0.5
)

// Temperature picks the sampling temperature for a call.
func Temperature(opts restyle.EditOptions, hasReference bool) float32 {
	switch {
	case opts.Layout.Enabled && hasReference:
		return TemperatureLayoutWithReference
	case opts.Layout.Enabled:
		return TemperatureLayout
	case hasReference:
		return TemperatureWithReference
	default:
		return TemperatureDefault
	}
}

// EditLines returns one instruction line per enabled category in the fixed
// category order.
func EditLines(opts restyle.EditOptions) []string {
	var lines []string
	if opts.People.Enabled {
		switch opts.People.Mode {
		case restyle.PeopleDiversify:
			lines = append(lines, "People: keep every person in place but diversify the group across age, ethnicity and gender, matching each pose and framing.")
		default:
			lines = append(lines, "People: replace every person with a different, realistic person in the same pose, framing and lighting.")
		}
	}
	if opts.Text.Enabled {
		switch opts.Text.Mode {
		case restyle.TextCopywriting:
			lines = append(lines, "Text: rewrite headings and body copy as sharper marketing copy with the same meaning and roughly the same length.")
		case restyle.TextRewrite:
			lines = append(lines, "Text: replace all copy with new text for the same kind of product, keeping the length and hierarchy of each text block.")
		default:
			lines = append(lines, "Text: lightly reword the copy, keeping its meaning, length and hierarchy.")
		}
	}
	if opts.Pattern.Enabled {
		lines = append(lines, "Pattern: replace background patterns, textures and decorative shapes with a fresh, coherent set.")
	}
	if opts.Objects.Enabled {
		lines = append(lines, "Objects: swap icons, illustrations and product imagery for new ones that serve the same purpose.")
	}
	if opts.Color.Enabled {
		if palette, ok := restyle.ColorSchemes[opts.Color.Scheme]; ok {
			lines = append(lines, fmt.Sprintf("Color: recolor the section with the %s palette (%s).", opts.Color.Scheme, palette))
		} else {
			lines = append(lines, "Color: recolor the section with a new, harmonious palette.")
		}
	}
	if opts.Layout.Enabled {
		lines = append(lines, "Layout: rearrange the content blocks into a different, well balanced composition within the same bounds.")
	}
	return lines
}

// HintLines turns design hints into instruction lines. A nil or empty
// definition yields none.
func HintLines(d *restyle.DesignDefinition) []string {
	if d.IsEmpty() {
		return nil
	}
	var lines []string
	if len(d.ColorPalette) > 0 {
		lines = append(lines, "Palette: "+strings.Join(d.ColorPalette, ", "))
	}
	if d.Typography != "" {
		lines = append(lines, "Typography: "+d.Typography)
	}
	if d.Layout != "" {
		lines = append(lines, "Layout: "+d.Layout)
	}
	if d.Vibe != "" {
		lines = append(lines, "Vibe: "+d.Vibe)
	}
	if d.Description != "" {
		lines = append(lines, "Notes: "+d.Description)
	}
	return lines
}

// BuildInstruction renders the per-segment instruction. The same call always
// yields the same text.
func BuildInstruction(call restyle.Call) string {
	return assets.RenderRestyleInstruction(assets.InstructionData{
		Position: call.Index + 1,
		Total:    call.Total,
		Viewport: string(call.Viewport),
		First:    call.Index == 0,
		Edits:    EditLines(call.Options),
		Hints:    HintLines(call.Design),
	})
}
