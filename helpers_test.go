package spritemill

// Synthetic fixtures. Images are built in code so tests carry no binary data.

func solidImage(w, h int, r, g, b, a uint8) *RasterImage {
	img := NewRasterImage(w, h)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = a
	}
	return img
}

// squareOnSolid paints a centered size×size square of fg color over a solid
// bg color.
func squareOnSolid(w, h, size int, bg, fg [3]uint8) *RasterImage {
	img := solidImage(w, h, bg[0], bg[1], bg[2], 255)
	x0 := (w - size) / 2
	y0 := (h - size) / 2
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			off := pixOffset(w, x, y)
			img.Pix[off] = fg[0]
			img.Pix[off+1] = fg[1]
			img.Pix[off+2] = fg[2]
		}
	}
	return img
}

// gradientImage produces a smooth two-axis color ramp with far more than 32
// distinct colors.
func gradientImage(w, h int) *RasterImage {
	img := NewRasterImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := pixOffset(w, x, y)
			img.Pix[off] = uint8(x * 255 / max(w-1, 1))
			img.Pix[off+1] = uint8(y * 255 / max(h-1, 1))
			img.Pix[off+2] = uint8((x + y) * 255 / max(w+h-2, 1))
			img.Pix[off+3] = 255
		}
	}
	return img
}

// distinctColors gathers the set of RGB triples among non-transparent pixels.
func distinctColors(img *RasterImage) map[[3]uint8]bool {
	out := make(map[[3]uint8]bool)
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			continue
		}
		out[[3]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2]}] = true
	}
	return out
}

func paletteRGBSet(pal Palette) map[[3]uint8]bool {
	out := make(map[[3]uint8]bool, len(pal))
	for _, c := range pal {
		r, g, b := c.RGB255()
		out[[3]uint8{r, g, b}] = true
	}
	return out
}
