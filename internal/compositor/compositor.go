package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/page-restyle/internal/boundary"
)

// Geometry is the realized layout of a forward transform. It is what the
// inverse transform needs to find the segment inside the service's output.
type Geometry struct {
	Width int `json:"width"`
	// OriginalHeight is the segment's own height after cropping.
	OriginalHeight int `json:"originalHeight"`
	ExpandedTop    int `json:"expandedTop"`
	ExpandedBottom int `json:"expandedBottom"`
	CropTop        int `json:"cropTop"`
	CropBottom     int `json:"cropBottom"`
}

// Expanded reports whether any neighbor pixels were stacked onto the segment.
func (g Geometry) Expanded() bool {
	return g.ExpandedTop > 0 || g.ExpandedBottom > 0
}

// Changed reports whether the forward transform altered the segment at all.
func (g Geometry) Changed() bool {
	return g.Expanded() || g.CropTop > 0 || g.CropBottom > 0
}

// TotalHeight is the height of the buffer that was sent to the service.
func (g Geometry) TotalHeight() int {
	return g.OriginalHeight + g.ExpandedTop + g.ExpandedBottom
}

// Forward builds the buffer sent to the restyling service. above and below
// are the neighboring segments; either may be nil, in which case that side is
// not expanded even if the plan asks for it. An identity plan, or a plan
// whose every side degraded away, returns own unchanged.
func Forward(own Image, plan boundary.Plan, above, below *Image) (Image, Geometry, error) {
	geo := Geometry{Width: own.Width, OriginalHeight: own.Height}
	if plan.IsIdentity() {
		return own, geo, nil
	}

	px, err := decode(own)
	if err != nil {
		return own, geo, err
	}
	bounds := px.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	geo.Width = width
	geo.OriginalHeight = height

	if plan.HasCrop() {
		top := min(plan.CropTop, height)
		bottom := min(plan.CropBottom, height-top)
		px = imaging.Crop(px, image.Rect(bounds.Min.X, bounds.Min.Y+top, bounds.Max.X, bounds.Max.Y-bottom))
		geo.CropTop = top
		geo.CropBottom = bottom
		geo.OriginalHeight = height - top - bottom
	}

	var topStrip, bottomStrip image.Image
	if plan.ExpandTop > 0 && above != nil {
		topStrip = edgeStrip(*above, width, plan.ExpandTop, true)
	}
	if plan.ExpandBottom > 0 && below != nil {
		bottomStrip = edgeStrip(*below, width, plan.ExpandBottom, false)
	}
	if topStrip != nil {
		geo.ExpandedTop = topStrip.Bounds().Dy()
	}
	if bottomStrip != nil {
		geo.ExpandedBottom = bottomStrip.Bounds().Dy()
	}

	if !geo.Changed() {
		return own, Geometry{Width: width, OriginalHeight: height}, nil
	}

	canvas := imaging.New(width, geo.TotalHeight(), color.NRGBA{})
	y := 0
	if topStrip != nil {
		canvas = imaging.Paste(canvas, topStrip, image.Pt(0, y))
		y += geo.ExpandedTop
	}
	canvas = imaging.Paste(canvas, px, image.Pt(0, y))
	y += geo.OriginalHeight
	if bottomStrip != nil {
		canvas = imaging.Paste(canvas, bottomStrip, image.Pt(0, y))
	}

	out, err := encode(canvas, "image/png")
	if err != nil {
		return own, Geometry{Width: width, OriginalHeight: height}, err
	}

	log.Debug().
		Int("width", width).
		Int("original_height", geo.OriginalHeight).
		Int("expanded_top", geo.ExpandedTop).
		Int("expanded_bottom", geo.ExpandedBottom).
		Int("crop_top", geo.CropTop).
		Int("crop_bottom", geo.CropBottom).
		Msg("Segment composited for restyle")

	return out, geo, nil
}

// edgeStrip scales a neighbor to width and returns up to want pixels from its
// bottom edge (fromBottom) or top edge. A neighbor that cannot be decoded
// yields nil so the caller proceeds without that side.
func edgeStrip(neighbor Image, width, want int, fromBottom bool) image.Image {
	px, err := decode(neighbor)
	if err != nil {
		log.Warn().Err(err).Bool("from_bottom", fromBottom).Msg("Neighbor segment unreadable, skipping expansion")
		return nil
	}
	px = scaleToWidth(px, width)

	b := px.Bounds()
	h := min(want, b.Dy())
	if h <= 0 {
		return nil
	}
	if fromBottom {
		return imaging.Crop(px, image.Rect(b.Min.X, b.Max.Y-h, b.Max.X, b.Max.Y))
	}
	return imaging.Crop(px, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+h))
}

// scaleToWidth resizes px proportionally so its width matches width.
func scaleToWidth(px image.Image, width int) image.Image {
	b := px.Bounds()
	if b.Dx() == width || b.Dx() == 0 {
		return px
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), px, b, draw.Over, nil)
	return dst
}

// Inverse extracts the segment's own region from the service's output. The
// service may return a different size than it was sent, so offsets are scaled
// by aiHeight / TotalHeight rather than applied 1:1. Without expansion the
// result is returned unchanged.
func Inverse(result Image, geo Geometry) (Image, error) {
	if !geo.Expanded() {
		return result, nil
	}
	if geo.TotalHeight() <= 0 {
		return result, fmt.Errorf("invalid geometry: total height %d", geo.TotalHeight())
	}

	px, err := decode(result)
	if err != nil {
		return result, err
	}
	b := px.Bounds()
	aiHeight := b.Dy()

	scale := float64(aiHeight) / float64(geo.TotalHeight())
	extractTop := int(math.Round(float64(geo.ExpandedTop) * scale))
	extractHeight := int(math.Round(float64(geo.OriginalHeight) * scale))
	if extractTop > aiHeight {
		extractTop = aiHeight
	}
	if extractTop+extractHeight > aiHeight {
		extractHeight = aiHeight - extractTop
	}
	if extractHeight <= 0 {
		return result, fmt.Errorf("nothing to extract: ai height %d, geometry %+v", aiHeight, geo)
	}

	region := imaging.Crop(px, image.Rect(b.Min.X, b.Min.Y+extractTop, b.Max.X, b.Min.Y+extractTop+extractHeight))

	log.Debug().
		Int("ai_height", aiHeight).
		Float64("scale", scale).
		Int("extract_top", extractTop).
		Int("extract_height", extractHeight).
		Msg("Segment cropped back from restyle output")

	return encode(region, result.MIMEType)
}

// Fit resizes img to exactly width x height. Images already at that size are
// returned unchanged, bytes included.
func Fit(img Image, width, height int) (Image, error) {
	if img.SameSize(width, height) {
		return img, nil
	}
	if width <= 0 || height <= 0 {
		return img, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	px, err := decode(img)
	if err != nil {
		return img, err
	}
	resized := imaging.Resize(px, width, height, imaging.Lanczos)
	return encode(resized, img.MIMEType)
}
