// Package cardcompositor implements the Product-Card Compositor
// (§4.7): center-crop-to-square, bilinear resample with sharpening on
// significant upscale, a price tag, a discount badge, and a
// watermark, grounded on original_source's product_card.py.
//
// No imaging library of any kind is present anywhere in the retrieved
// corpus (checked across every example repo's go.mod), so this
// package is built entirely on the standard library's image/*
// packages rather than adapting a third-party graphics stack — see
// the design notes for the explicit justification the repository's
// conventions require whenever a component falls back to the
// standard library.
package cardcompositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoding for image.Decode
	"os"

	"github.com/shopspring/decimal"
)

const (
	priceTagHeight  = 180
	priceTagMargin  = 30
	badgeMargin     = 24
	badgePadding    = 20
	watermarkMargin = 20
)

var (
	priceTagBG      = color.RGBA{255, 215, 0, 255}
	priceTagBorder  = color.RGBA{255, 140, 0, 255}
	discountBadgeBG = color.RGBA{220, 38, 38, 255}
	badgeTextColor  = color.RGBA{255, 255, 255, 255}
	newPriceColor   = color.RGBA{220, 38, 38, 255}
	oldPriceColor   = color.RGBA{100, 100, 100, 255}
	watermarkColor  = color.RGBA{255, 255, 255, 160}
)

// Compositor renders finished product card JPEGs at a fixed square
// dimension.
type Compositor struct {
	Size int // output edge length in pixels, e.g. 1080
}

func New(size int) *Compositor {
	return &Compositor{Size: size}
}

// ComposeCard loads the source image at srcPath, applies the full
// card treatment, and writes a JPEG to outPath.
func (c *Compositor) ComposeCard(srcPath, outPath string, priceLocal, oldPriceLocal decimal.Decimal, discountPct int, currencyCode string) error {
	src, err := loadImage(srcPath)
	if err != nil {
		return fmt.Errorf("failed to load source image: %w", err)
	}

	square := c.smartResize(src)
	card := toRGBA(square)

	drawPriceTag(card, priceLocal.IntPart(), oldPriceLocal.IntPart(), currencyCode, c.Size)
	if discountPct > 0 {
		drawDiscountBadge(card, discountPct, c.Size)
	}
	drawWatermark(card, "TULPAR EXPRESS", c.Size)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create card output file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, card, &jpeg.Options{Quality: 95}); err != nil {
		return fmt.Errorf("failed to encode card JPEG: %w", err)
	}
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// smartResize center-crops to square then resamples to Size,
// sharpening the result when the source edge was upscaled by more
// than 30% (matching original_source's _smart_resize threshold).
func (c *Compositor) smartResize(img image.Image) image.Image {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	edge := width
	if height < edge {
		edge = height
	}

	left := b.Min.X + (width-edge)/2
	top := b.Min.Y + (height-edge)/2
	cropRect := image.Rect(left, top, left+edge, top+edge)

	cropped := image.NewRGBA(image.Rect(0, 0, edge, edge))
	draw.Draw(cropped, cropped.Bounds(), img, cropRect.Min, draw.Src)

	resized := bilinearResize(cropped, c.Size, c.Size)

	if float64(c.Size) > float64(edge)*1.3 {
		resized = unsharpMask(resized)
	}
	return resized
}

func bilinearResize(src *image.RGBA, w, h int) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	xRatio := float64(sw) / float64(w)
	yRatio := float64(sh) / float64(h)

	for y := 0; y < h; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		y1 := y0 + 1
		if y1 >= sh {
			y1 = sh - 1
		}
		fy := sy - float64(y0)

		for x := 0; x < w; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			x1 := x0 + 1
			if x1 >= sw {
				x1 = sw - 1
			}
			fx := sx - float64(x0)

			c00 := src.RGBAAt(sb.Min.X+x0, sb.Min.Y+y0)
			c10 := src.RGBAAt(sb.Min.X+x1, sb.Min.Y+y0)
			c01 := src.RGBAAt(sb.Min.X+x0, sb.Min.Y+y1)
			c11 := src.RGBAAt(sb.Min.X+x1, sb.Min.Y+y1)

			dst.SetRGBA(x, y, color.RGBA{
				R: lerp2D(c00.R, c10.R, c01.R, c11.R, fx, fy),
				G: lerp2D(c00.G, c10.G, c01.G, c11.G, fx, fy),
				B: lerp2D(c00.B, c10.B, c01.B, c11.B, fx, fy),
				A: 255,
			})
		}
	}
	return dst
}

func lerp2D(c00, c10, c01, c11 uint8, fx, fy float64) uint8 {
	top := float64(c00)*(1-fx) + float64(c10)*fx
	bottom := float64(c01)*(1-fx) + float64(c11)*fx
	return uint8(top*(1-fy) + bottom*fy)
}

// unsharpMask applies a lightweight sharpening convolution to reduce
// perceived blur after a significant upscale.
func unsharpMask(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	const amount = 0.5
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			c := src.RGBAAt(x, y)
			n := src.RGBAAt(x, y-1)
			s := src.RGBAAt(x, y+1)
			e := src.RGBAAt(x+1, y)
			w := src.RGBAAt(x-1, y)

			sharpen := func(center, a, bb, cc, d uint8) uint8 {
				avg := (float64(a) + float64(bb) + float64(cc) + float64(d)) / 4
				v := float64(center) + amount*(float64(center)-avg)
				if v < 0 {
					return 0
				}
				if v > 255 {
					return 255
				}
				return uint8(v)
			}

			dst.SetRGBA(x, y, color.RGBA{
				R: sharpen(c.R, n.R, s.R, e.R, w.R),
				G: sharpen(c.G, n.G, s.G, e.G, w.G),
				B: sharpen(c.B, n.B, s.B, e.B, w.B),
				A: 255,
			})
		}
	}
	return dst
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.Color) {
	draw.Draw(img, image.Rect(x0, y0, x1, y1), &image.Uniform{C: col}, image.Point{}, draw.Over)
}

func drawPriceTag(card *image.RGBA, priceLocal, oldPriceLocal int64, currencyCode string, size int) {
	tagWidth := size - priceTagMargin*2
	tagX := priceTagMargin
	tagY := size - priceTagHeight - priceTagMargin

	fillRect(card, tagX-3, tagY-3, tagX+tagWidth+3, tagY+priceTagHeight+3, priceTagBorder)
	fillRect(card, tagX, tagY, tagX+tagWidth, tagY+priceTagHeight, priceTagBG)

	oldText := fmt.Sprintf("%d", oldPriceLocal)
	newText := fmt.Sprintf("%d", priceLocal)

	centerY := tagY + priceTagHeight/2
	startX := tagX + 60

	drawText(card, startX, centerY-16, oldText, 4, oldPriceColor)
	strikeY := centerY
	drawLine(card, startX-4, strikeY, startX+len(oldText)*4*6+4, strikeY, newPriceColor)

	arrowX := startX + len(oldText)*4*6 + 20
	drawText(card, arrowX, centerY-16, ">", 4, newPriceColor)

	newX := arrowX + 4*6 + 20
	drawText(card, newX, centerY-24, newText, 6, newPriceColor)

	currX := newX + len(newText)*6*6 + 20
	drawText(card, currX, centerY-16, currencyCode, 4, oldPriceColor)
}

func drawDiscountBadge(card *image.RGBA, discountPct, size int) {
	text := fmt.Sprintf("-%d%%", discountPct)
	scale := 4
	textWidth := len(text) * 6 * scale
	badgeWidth := textWidth + badgePadding*2
	badgeHeight := 7*scale + badgePadding*2

	badgeX := size - badgeWidth - badgeMargin
	badgeY := badgeMargin

	fillRect(card, badgeX, badgeY, badgeX+badgeWidth, badgeY+badgeHeight, discountBadgeBG)
	drawText(card, badgeX+badgePadding, badgeY+badgePadding, text, scale, badgeTextColor)
}

func drawWatermark(card *image.RGBA, text string, size int) {
	scale := 2
	y := size - priceTagHeight - priceTagMargin - 7*scale - watermarkMargin
	drawText(card, watermarkMargin, y, text, scale, watermarkColor)
}

// drawText rasterises text using the embedded bitmap font at the
// given integer scale; unrecognised runes render as a blank cell.
func drawText(img *image.RGBA, x, y int, text string, scale int, col color.Color) {
	cx := x
	for _, r := range text {
		bitmap, ok := glyphs[r]
		if !ok {
			cx += 6 * scale
			continue
		}
		for col_ := 0; col_ < 5; col_++ {
			line := bitmap[col_]
			for row := 0; row < 7; row++ {
				if line&(1<<uint(row)) != 0 {
					fillRect(img, cx+col_*scale, y+row*scale, cx+col_*scale+scale, y+row*scale+scale, col)
				}
			}
		}
		cx += 6 * scale
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.Color) {
	fillRect(img, x0, y0, x1, y0+3, col)
}
