package cardcompositor

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestBilinearResizeDimensions(t *testing.T) {
	src := solidImage(200, 200, color.RGBA{10, 20, 30, 255})
	out := bilinearResize(src, 1080, 1080)
	assert.Equal(t, 1080, out.Bounds().Dx())
	assert.Equal(t, 1080, out.Bounds().Dy())
}

func TestSmartResizeProducesSquareOutput(t *testing.T) {
	c := New(1080)
	landscape := solidImage(1600, 900, color.RGBA{200, 200, 200, 255})
	out := c.smartResize(landscape)
	assert.Equal(t, 1080, out.Bounds().Dx())
	assert.Equal(t, 1080, out.Bounds().Dy())
}

func TestComposeCardWritesJPEG(t *testing.T) {
	dir := t.TempDir()
	src := solidImage(800, 800, color.RGBA{120, 50, 50, 255})
	srcPath := dir + "/src.jpg"

	f, err := os.Create(srcPath)
	assert.NoError(t, err)
	assert.NoError(t, jpeg.Encode(f, src, &jpeg.Options{Quality: 90}))
	assert.NoError(t, f.Close())

	c := New(1080)
	outPath := dir + "/card.jpg"
	err = c.ComposeCard(srcPath, outPath, decimal.NewFromInt(1299), decimal.NewFromInt(1999), 35, "KGS")
	assert.NoError(t, err)

	info, err := os.Stat(outPath)
	assert.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
