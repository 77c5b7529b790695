package watermark

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, raw []byte) image.Image {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func rgb8(c color.Color) (uint8, uint8, uint8) {
	r, g, b, _ := c.RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

func TestApplyImageMark(t *testing.T) {
	assert := assert.New(t)

	base := encodePNG(t, solidImage(200, 100, color.White))
	p := Pipeline{Mark: solidImage(40, 20, color.RGBA{R: 0xff, A: 0xff})}

	out, err := p.Apply(base)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(200, img.Bounds().Dx())
	assert.Equal(100, img.Bounds().Dy())

	// mark is scaled to a quarter of the width (50x25) and centered
	r, g, b := rgb8(img.At(100, 50))
	assert.Greater(r, uint8(200))
	assert.Less(g, uint8(60))
	assert.Less(b, uint8(60))

	// corners untouched
	r, g, b = rgb8(img.At(5, 5))
	assert.Greater(r, uint8(240))
	assert.Greater(g, uint8(240))
	assert.Greater(b, uint8(240))
}

func TestApplyMarkOpacity(t *testing.T) {
	assert := assert.New(t)

	base := encodePNG(t, solidImage(200, 100, color.White))
	p := Pipeline{
		Mark:    solidImage(40, 20, color.RGBA{R: 0xff, A: 0xff}),
		Opacity: 0.5,
	}
	out, err := p.Apply(base)
	require.NoError(t, err)

	r, g, _ := rgb8(decodeJPEG(t, out).At(100, 50))
	assert.Greater(r, uint8(220))
	assert.Greater(g, uint8(90))
	assert.Less(g, uint8(170))
}

func TestApplyTextFallback(t *testing.T) {
	assert := assert.New(t)

	base := encodePNG(t, solidImage(400, 200, color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xff}))
	p := Pipeline{Text: "VOUCH"}
	out, err := p.Apply(base)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(400, img.Bounds().Dx())

	// some pixel in the middle band turned (near) white
	found := false
	for x := 100; x < 300 && !found; x++ {
		r, g, b := rgb8(img.At(x, 100))
		if r > 180 && g > 180 && b > 180 {
			found = true
		}
	}
	assert.True(found, "text mark not rendered in the middle of the image")
}

func TestApplyDecodeError(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	t.Chdir(dir)

	p := Pipeline{}
	_, err := p.Apply([]byte("definitely not an image"))
	var de *DecodeError
	assert.ErrorAs(err, &de)

	// truncated PNG: header parses, body doesn't
	full := encodePNG(t, solidImage(50, 50, color.White))
	_, err = p.Apply(full[:len(full)/2])
	assert.ErrorAs(err, &de)

	ents, err := os.ReadDir(dir)
	assert.NoError(err)
	assert.Empty(ents)
}

func TestApplyTooLarge(t *testing.T) {
	assert := assert.New(t)

	p := Pipeline{MaxPixels: 100}
	_, err := p.Apply(encodePNG(t, solidImage(20, 20, color.White)))
	var de *DecodeError
	assert.ErrorAs(err, &de)
	assert.ErrorIs(err, ErrImageTooLarge)
}

func TestMarkFractionClamp(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.25, (&Pipeline{}).markFraction())
	assert.Equal(0.25, (&Pipeline{MarkFraction: 0.1}).markFraction())
	assert.Equal(0.3, (&Pipeline{MarkFraction: 0.3}).markFraction())
	assert.Equal(0.35, (&Pipeline{MarkFraction: 0.9}).markFraction())
}

func TestLoadMark(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	img, err := LoadMark("")
	assert.NoError(err)
	assert.Nil(img)

	img, err = LoadMark(filepath.Join(dir, "missing.png"))
	assert.NoError(err)
	assert.Nil(img)

	good := filepath.Join(dir, "logo.png")
	require.NoError(t, os.WriteFile(good, encodePNG(t, solidImage(8, 4, color.Black)), 0o600))
	img, err = LoadMark(good)
	assert.NoError(err)
	assert.Equal(8, img.Bounds().Dx())

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))
	_, err = LoadMark(bad)
	var de *DecodeError
	assert.ErrorAs(err, &de)
}
