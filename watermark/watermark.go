// Package watermark stamps a mark (an overlay image, or a text fallback) onto
// a submitted image and re-encodes it as JPEG.
//
// The transformation is pure: it works on byte slices and never touches the
// filesystem. Callers own any temporary files.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMarkFraction = 0.25
	DefaultQuality      = 95
	DefaultText         = "VERIFIED"
	// upper bound on decoded pixels, checked before the full decode
	DefaultMaxPixels = 40_000_000
)

var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// DecodeError means the bytes could not be read as a supported image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PipelineError is a failure after a successful decode (compose or encode).
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("watermark %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	// Overlay image. When nil, Text is rendered instead.
	Mark image.Image
	// Width of the mark relative to the base image width; clamped to [0.25, 0.35].
	MarkFraction float64
	// 0 < Opacity <= 1; zero means fully opaque.
	Opacity float64
	// JPEG quality, 1-100.
	Quality int
	// Fallback text mark.
	Text      string
	MaxPixels int
}

// LoadMark reads and decodes the mark asset at path. A missing file (or an
// empty path) is not an error: it returns a nil image, and the pipeline falls
// back to the text mark.
func LoadMark(path string) (image.Image, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

// Apply decodes raw, stamps the mark centered on it, and returns JPEG bytes.
func (p *Pipeline) Apply(raw []byte) ([]byte, error) {
	base, err := p.decode(raw)
	if err != nil {
		return nil, err
	}

	b := base.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	// transparent regions of the submission end up white, not black
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), base, b.Min, draw.Over)

	if p.Mark != nil {
		p.stampImage(canvas)
	} else {
		if err := p.stampText(canvas); err != nil {
			return nil, &PipelineError{Stage: "compose", Err: err}
		}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, canvas, &jpeg.Options{Quality: p.quality()}); err != nil {
		return nil, &PipelineError{Stage: "encode", Err: err}
	}
	return out.Bytes(), nil
}

func (p *Pipeline) decode(raw []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	maxPixels := p.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)}
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

func (p *Pipeline) stampImage(canvas *image.RGBA) {
	cw, ch := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	mb := p.Mark.Bounds()
	mw := max(1, int(float64(cw)*p.markFraction()))
	mh := max(1, int(float64(mb.Dy())*float64(mw)/float64(mb.Dx())))

	scaled := image.NewRGBA(image.Rect(0, 0, mw, mh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), p.Mark, mb, draw.Over, nil)

	pos := image.Pt((cw-mw)/2, (ch-mh)/2)
	var mask image.Image
	if a := p.alpha(); a < 0xff {
		mask = image.NewUniform(color.Alpha{A: a})
	}
	draw.DrawMask(canvas, scaled.Bounds().Add(pos), scaled, image.Point{}, mask, image.Point{}, draw.Over)
}

func (p *Pipeline) markFraction() float64 {
	f := p.MarkFraction
	if f == 0 {
		return DefaultMarkFraction
	}
	return min(0.35, max(0.25, f))
}

func (p *Pipeline) quality() int {
	if p.Quality <= 0 || p.Quality > 100 {
		return DefaultQuality
	}
	return p.Quality
}

func (p *Pipeline) alpha() uint8 {
	if p.Opacity <= 0 || p.Opacity >= 1 {
		return 0xff
	}
	return uint8(p.Opacity * 0xff)
}
