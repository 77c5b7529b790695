package watermark

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var markFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gomonobold.TTF)
})

// fraction of the canvas width covered by the text mark
const textWidthFraction = 0.5

// Go Mono advance width, in ems
const monoAdvance = 0.6

func (p *Pipeline) stampText(canvas *image.RGBA) error {
	text := p.Text
	if text == "" {
		text = DefaultText
	}
	f, err := markFont()
	if err != nil {
		return err
	}

	cw, ch := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	size := float64(cw) * textWidthFraction / (monoAdvance * float64(len([]rune(text))))
	size = min(size, float64(ch)*0.5)
	size = max(size, 8)
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}
	defer face.Close()

	width := font.MeasureString(face, text)
	m := face.Metrics()
	x := (fixed.I(cw) - width) / 2
	y := (fixed.I(ch) + m.Ascent - m.Descent) / 2

	a := p.alpha()
	d := &font.Drawer{Dst: canvas, Face: face}

	// dark outline first, so the mark stays legible on light images
	d.Src = image.NewUniform(color.NRGBA{A: a / 2})
	outline := fixed.I(max(1, int(size/24)))
	for _, off := range [][2]fixed.Int26_6{
		{-outline, 0}, {outline, 0}, {0, -outline}, {0, outline},
		{-outline, -outline}, {outline, outline}, {-outline, outline}, {outline, -outline},
	} {
		d.Dot = fixed.Point26_6{X: x + off[0], Y: y + off[1]}
		d.DrawString(text)
	}

	d.Src = image.NewUniform(color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: a})
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(text)
	return nil
}
