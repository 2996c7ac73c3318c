// Package render draws named time series into a chart region.
//
// Drawing goes through Surface, a narrow set of shape and text primitives, so
// the chart logic does not depend on any particular graphics toolkit. Raster
// provides an in-memory implementation backed by image.RGBA.
package render

import "image/color"

// Surface is the drawing toolkit consumed by the chart.
// Coordinates are pixels with the origin at the top-left corner.
type Surface interface {
	// Size returns the drawable width and height.
	Size() (width, height int)
	Clear(c color.RGBA)
	FillRect(x, y, w, h int, c color.RGBA)
	Line(x0, y0, x1, y1 int, c color.RGBA)
	// Text draws s with its top-left corner at (x, y); size is the line height.
	Text(s string, x, y, size int, c color.RGBA)
	MeasureText(s string, size int) int
}

// Point is a pixel position or extent.
type Point struct {
	X, Y int
}

// Palette.
var (
	White     = color.RGBA{0xff, 0xff, 0xff, 0xff}
	Black     = color.RGBA{0x00, 0x00, 0x00, 0xff}
	Gray      = color.RGBA{0x82, 0x82, 0x82, 0xff}
	LightGray = color.RGBA{0xf2, 0xf2, 0xf2, 0xff}
	Red       = color.RGBA{0xe6, 0x29, 0x37, 0xff}
	Blue      = color.RGBA{0x00, 0x79, 0xf1, 0xff}
)
