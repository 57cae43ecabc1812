// Package compositor builds the pixel buffers sent to the restyling service
// and maps the service's output back into a segment's native coordinate space.
//
// Decoding and encoding go through github.com/disintegration/imaging, which
// registers JPEG, PNG, GIF, BMP and TIFF. WebP input is decoded via
// golang.org/x/image/webp. Content types are sniffed from the bytes with
// github.com/h2non/filetype rather than trusted from upstream headers.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used whenever a JPEG segment has to be re-encoded.
const JPEGQuality = 92

// Image is an encoded raster plus its pixel dimensions.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// SameSize reports whether the image has exactly the given dimensions.
func (img Image) SameSize(width, height int) bool {
	return img.Width == width && img.Height == height
}

// Probe sniffs the content type and reads the dimensions of encoded image
// bytes without decoding the pixel data.
func Probe(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image data")
	}
	mimeType, err := SniffMIME(data)
	if err != nil {
		return Image{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("read image header (%s): %w", mimeType, err)
	}
	return Image{Data: data, MIMEType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
}

// SniffMIME returns the image MIME type detected from the leading bytes.
func SniffMIME(data []byte) (string, error) {
	kind, err := filetype.Image(data)
	if err != nil {
		return "", fmt.Errorf("sniff content type: %w", err)
	}
	if kind == filetype.Unknown {
		return "", fmt.Errorf("unrecognised image content")
	}
	return kind.MIME.Value, nil
}

// decode returns the pixels of an encoded image.
func decode(img Image) (image.Image, error) {
	px, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", img.MIMEType, err)
	}
	return px, nil
}

// encode serialises pixels, keeping JPEG sources as JPEG and writing every
// other format as PNG.
func encode(px image.Image, sourceMIME string) (Image, error) {
	var buf bytes.Buffer
	mimeType := "image/png"

	var err error
	if sourceMIME == "image/jpeg" {
		mimeType = "image/jpeg"
		err = imaging.Encode(&buf, px, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
	} else {
		err = imaging.Encode(&buf, px, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	}
	if err != nil {
		return Image{}, fmt.Errorf("encode %s: %w", mimeType, err)
	}

	b := px.Bounds()
	return Image{Data: buf.Bytes(), MIMEType: mimeType, Width: b.Dx(), Height: b.Dy()}, nil
}
