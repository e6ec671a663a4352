package heuristic

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 600
	placeholderHeight = 400
)

// RenderPlaceholder synthesizes a preview image for documents that were
// never rasterized, embedding the filename and any detected amount so the
// user has something to look at.
func RenderPlaceholder(filename, amount string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))

	background := color.RGBA{R: 0xf5, G: 0xf5, B: 0xf0, A: 0xff}
	border := color.RGBA{R: 0xc0, G: 0xc0, B: 0xb8, A: 0xff}
	ink := color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}

	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	for x := 0; x < placeholderWidth; x++ {
		img.Set(x, 0, border)
		img.Set(x, placeholderHeight-1, border)
	}
	for y := 0; y < placeholderHeight; y++ {
		img.Set(0, y, border)
		img.Set(placeholderWidth-1, y, border)
	}

	lines := []string{
		"Document preview unavailable",
		"",
		truncateLine(filename, 70),
	}
	if amount != "" {
		lines = append(lines, "", "Detected total: $"+amount)
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: ink},
		Face: basicfont.Face7x13,
	}

	y := placeholderHeight/2 - len(lines)*16/2
	for _, line := range lines {
		if line != "" {
			width := drawer.MeasureString(line)
			drawer.Dot = fixed.Point26_6{
				X: fixed.I(placeholderWidth)/2 - width/2,
				Y: fixed.I(y),
			}
			drawer.DrawString(line)
		}
		y += 16
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
