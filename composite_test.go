package spritemill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pixelAt(img *RasterImage, x, y int) [4]uint8 {
	off := pixOffset(img.W, x, y)
	return [4]uint8{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]}
}

func TestCompositeDimensionMismatch(t *testing.T) {
	bg := solidImage(280, 200, 0, 0, 255, 255)
	fg := solidImage(300, 200, 255, 0, 0, 255)
	_, err := Composite(bg, fg, CompositeOptions{})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCompositeInvalidInputs(t *testing.T) {
	bg := solidImage(16, 16, 0, 0, 0, 255)
	_, err := Composite(nil, bg, CompositeOptions{})
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = Composite(bg, nil, CompositeOptions{})
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = Composite(bg, &RasterImage{}, CompositeOptions{})
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// A 280x200 foreground at scale 0.8 lands as a 224x160 box centered
// horizontally, rows 20 through 179 under the center anchor.
func TestCompositeCenterPlacement(t *testing.T) {
	bg := solidImage(280, 200, 0, 0, 255, 255)
	fg := solidImage(280, 200, 255, 0, 0, 255)

	out, err := Composite(bg, fg, CompositeOptions{Scale: 0.8, Anchor: AnchorCenter, PixelArt: true})
	require.NoError(t, err)
	require.Equal(t, 280, out.W)
	require.Equal(t, 200, out.H)

	red := [4]uint8{255, 0, 0, 255}
	blue := [4]uint8{0, 0, 255, 255}
	assert.Equal(t, red, pixelAt(out, 28, 20), "top-left corner of the scaled box")
	assert.Equal(t, red, pixelAt(out, 251, 179), "bottom-right corner of the scaled box")
	assert.Equal(t, blue, pixelAt(out, 27, 100), "left of the box")
	assert.Equal(t, blue, pixelAt(out, 252, 100), "right of the box")
	assert.Equal(t, blue, pixelAt(out, 140, 19), "above the box")
	assert.Equal(t, blue, pixelAt(out, 140, 180), "below the box")
}

func TestCompositeBottomAnchor(t *testing.T) {
	bg := solidImage(280, 200, 0, 0, 255, 255)
	fg := solidImage(280, 200, 255, 0, 0, 255)

	out, err := Composite(bg, fg, CompositeOptions{Scale: 0.8, Anchor: AnchorBottom, PixelArt: true})
	require.NoError(t, err)

	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixelAt(out, 140, 199), "bottom row belongs to the foreground")
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixelAt(out, 140, 40))
	assert.Equal(t, [4]uint8{0, 0, 255, 255}, pixelAt(out, 140, 39), "row above the box")
}

func TestCompositeVOffset(t *testing.T) {
	bg := solidImage(100, 100, 0, 0, 255, 255)
	fg := solidImage(100, 100, 255, 0, 0, 255)

	out, err := Composite(bg, fg, CompositeOptions{Scale: 0.5, VOffset: 10, PixelArt: true})
	require.NoError(t, err)

	// Box is 50 tall, centered at rows 25..74, then shifted down by 10.
	assert.Equal(t, [4]uint8{0, 0, 255, 255}, pixelAt(out, 50, 34))
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixelAt(out, 50, 35))
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixelAt(out, 50, 84))
	assert.Equal(t, [4]uint8{0, 0, 255, 255}, pixelAt(out, 50, 85))
}

func TestCompositeAlphaBlend(t *testing.T) {
	bg := solidImage(10, 10, 0, 0, 255, 255)

	// Fully transparent foreground leaves the background untouched.
	clear := solidImage(10, 10, 255, 0, 0, 0)
	out, err := Composite(bg, clear, CompositeOptions{Scale: 1, PixelArt: true})
	require.NoError(t, err)
	assert.Equal(t, bg.Pix, out.Pix)

	// Fully opaque foreground replaces it exactly.
	opaque := solidImage(10, 10, 255, 0, 0, 255)
	out, err = Composite(bg, opaque, CompositeOptions{Scale: 1, PixelArt: true})
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixelAt(out, 5, 5))

	// Half-transparent foreground blends source-over with rounding.
	half := solidImage(10, 10, 255, 0, 0, 128)
	out, err = Composite(bg, half, CompositeOptions{Scale: 1, PixelArt: true})
	require.NoError(t, err)
	assert.Equal(t, [4]uint8{128, 0, 127, 255}, pixelAt(out, 5, 5))
}

func TestCompositeDoesNotModifyInputs(t *testing.T) {
	bg := solidImage(20, 20, 0, 0, 255, 255)
	fg := solidImage(20, 20, 255, 0, 0, 255)
	bgCopy := append([]uint8(nil), bg.Pix...)
	fgCopy := append([]uint8(nil), fg.Pix...)

	_, err := Composite(bg, fg, CompositeOptions{})
	require.NoError(t, err)
	assert.Equal(t, bgCopy, bg.Pix)
	assert.Equal(t, fgCopy, fg.Pix)
}
