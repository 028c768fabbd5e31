package detect

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotator draws detection boxes and labels onto a copy of the image.
type Annotator struct {
	LineWidth int
}

// NewAnnotator returns an annotator with a 2px outline.
func NewAnnotator() *Annotator {
	return &Annotator{LineWidth: 2}
}

// Annotate returns a new image with every box outlined and captioned. The
// source image is not modified.
func (a *Annotator) Annotate(src image.Image, boxes []Box) *image.NRGBA {
	canvas := imaging.Clone(src)
	width := a.LineWidth
	if width <= 0 {
		width = 2
	}

	for _, b := range boxes {
		c := classColor(b.ClassID)
		r := b.Rect().Intersect(canvas.Bounds())
		if r.Empty() {
			continue
		}
		strokeRect(canvas, r, width, c)
		drawLabel(canvas, r, b.Label(), c)
	}
	return canvas
}

// classColor spreads class ids around the hue wheel with the golden angle so
// neighbouring classes get distinct colours.
func classColor(classID int) color.NRGBA {
	hue := math.Mod(float64(classID)*137.508, 360)
	c := colorful.Hsv(hue, 0.75, 0.95).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

func strokeRect(dst *image.NRGBA, r image.Rectangle, width int, c color.NRGBA) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}

func drawLabel(dst *image.NRGBA, box image.Rectangle, text string, bg color.NRGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()
	height := face.Height + 4

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	labelRect := image.Rect(box.Min.X, top, box.Min.X+textWidth+6, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, labelRect, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(labelRect.Min.X+3, labelRect.Min.Y+face.Ascent+2),
	}
	d.DrawString(text)
}
