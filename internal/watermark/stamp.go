// Package watermark stamps capture time and coordinates onto field photos
// and writes the result to replica files.
package watermark

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	padding = 5  // inside the box, before scaling
	margin  = 10 // from the image edges, after scaling
)

// Caption is the stamped line: "{capture time} | Lat/Lon: {lat}, {lon}".
func Caption(captured string, c *supervision.Coordinates) string {
	if c == nil {
		return captured + " | Lat/Lon: N/D"
	}
	return fmt.Sprintf("%s | Lat/Lon: %.6f, %.6f", captured, c.Lat, c.Lon)
}

// Stamp draws text in white on a black box anchored bottom-left of img.
// The 7x13 bitmap face is enlarged by scale with nearest-neighbour so the
// glyphs stay crisp.
func Stamp(img image.Image, text string, scale int) *image.NRGBA {
	if scale < 1 {
		scale = 1
	}
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil()
	th := face.Metrics().Height.Ceil()

	box := image.NewNRGBA(image.Rect(0, 0, tw+2*padding, th+2*padding))
	draw.Draw(box, box.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  box,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(padding, padding+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	scaled := imaging.Resize(box, box.Bounds().Dx()*scale, 0, imaging.NearestNeighbor)

	out := imaging.Clone(img)
	b := out.Bounds()
	y := b.Dy() - scaled.Bounds().Dy() - margin
	if y < 0 {
		y = 0
	}
	return imaging.Paste(out, scaled, image.Pt(margin, y))
}
