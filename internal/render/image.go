// Package render draws formatted text into PNG images for photo replies.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	maxColumns = 80
	padding    = 12
)

// TextImage renders text as black-on-white monospace lines and returns the
// encoded PNG. Long lines are wrapped at maxColumns characters.
func TextImage(text string) ([]byte, error) {
	face := basicfont.Face7x13

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, wrapLine(line, maxColumns)...)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}

	longest := 1
	for _, line := range lines {
		if n := len([]rune(line)); n > longest {
			longest = n
		}
	}

	width := padding*2 + longest*face.Advance
	height := padding*2 + len(lines)*face.Height

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
	}
	for i, line := range lines {
		d.Dot = fixed.P(padding, padding+i*face.Height+face.Ascent)
		d.DrawString(line)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func wrapLine(line string, cols int) []string {
	runes := []rune(line)
	if len(runes) <= cols {
		return []string{line}
	}
	var wrapped []string
	for len(runes) > cols {
		wrapped = append(wrapped, string(runes[:cols]))
		runes = runes[cols:]
	}
	return append(wrapped, string(runes))
}
