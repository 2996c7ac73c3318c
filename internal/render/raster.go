package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var _ Surface = (*Raster)(nil)

// The bitmap face is 13 pixels tall; other sizes are scaled from it.
var face = basicfont.Face7x13

// Raster is an in-memory Surface.
type Raster struct {
	img *image.RGBA
}

// NewRaster allocates a white width x height surface.
func NewRaster(width, height int) *Raster {
	r := &Raster{img: image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))}
	r.Clear(White)
	return r
}

func (r *Raster) Size() (int, int) {
	b := r.img.Bounds()
	return b.Dx(), b.Dy()
}

// Image returns the backing image.
func (r *Raster) Image() *image.RGBA {
	return r.img
}

func (r *Raster) Clear(c color.RGBA) {
	draw.Draw(r.img, r.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (r *Raster) FillRect(x, y, w, h int, c color.RGBA) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(r.img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(r.img, rect, image.NewUniform(c), image.Point{}, draw.Src)
}

// Line draws a one-pixel line with Bresenham's algorithm. The segment is
// first cut to the rows [-1, h] along its own direction, so lines that leave
// the surface keep their slope.
func (r *Raster) Line(x0, y0, x1, y1 int, c color.RGBA) {
	_, h := r.Size()
	x0, y0, x1, y1, ok := clipRows(x0, y0, x1, y1, -1, h)
	if !ok {
		return
	}

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		r.img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (r *Raster) MeasureText(s string, size int) int {
	return font.MeasureString(face, s).Ceil() * size / face.Height
}

func (r *Raster) Text(s string, x, y, size int, c color.RGBA) {
	if s == "" || size <= 0 {
		return
	}
	if size == face.Height {
		d := font.Drawer{Dst: r.img, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y+face.Ascent)}
		d.DrawString(s)
		return
	}

	w := font.MeasureString(face, s).Ceil()
	glyphs := image.NewRGBA(image.Rect(0, 0, w, face.Height))
	d := font.Drawer{Dst: glyphs, Src: image.NewUniform(c), Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(s)

	dst := image.Rect(x, y, x+w*size/face.Height, y+size)
	draw.NearestNeighbor.Scale(r.img, dst, glyphs, glyphs.Bounds(), draw.Over, nil)
}

// EncodePNG returns the surface as a PNG image.
func (r *Raster) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// clipRows cuts the segment to lo <= y <= hi, moving each endpoint along
// the line. It reports false when the segment lies wholly outside.
func clipRows(x0, y0, x1, y1, lo, hi int) (int, int, int, int, bool) {
	if (y0 < lo && y1 < lo) || (y0 > hi && y1 > hi) {
		return 0, 0, 0, 0, false
	}
	cut := func(x, y, ox, oy int) (int, int) {
		edge := y
		switch {
		case y < lo:
			edge = lo
		case y > hi:
			edge = hi
		default:
			return x, y
		}
		t := float64(edge-y) / float64(oy-y)
		return x + int(math.Round(t*float64(ox-x))), edge
	}
	nx0, ny0 := cut(x0, y0, x1, y1)
	nx1, ny1 := cut(x1, y1, x0, y0)
	return nx0, ny0, nx1, ny1, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
