package spritemill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelizeZeroImage(t *testing.T) {
	_, err := Pixelize(&RasterImage{}, PixelizeOptions{}, nil)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestPixelizeInvalidResolution(t *testing.T) {
	img := gradientImage(64, 64)
	_, err := Pixelize(img, PixelizeOptions{Resolutions: []Resolution{{W: 0}}}, nil)
	require.ErrorIs(t, err, ErrInvalidImage)
}

// Bundle coherence: every output's color set is a subset of the shared
// palette, and because all sizes replicate one grid, the sets are identical
// across sizes.
func TestPixelizeBundleCoherence(t *testing.T) {
	img := gradientImage(1024, 576)
	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    256,
		MaxColors:   32,
		Resolutions: []Resolution{{W: 128}, {W: 256}, {W: 512}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, bundle.Images, 3)
	assert.LessOrEqual(t, len(bundle.Palette), 32)

	palSet := paletteRGBSet(bundle.Palette)
	var first map[[3]uint8]bool
	for res, img := range bundle.Images {
		colors := distinctColors(img)
		assert.LessOrEqual(t, len(colors), 32, "size %s", res)
		for c := range colors {
			assert.True(t, palSet[c], "size %s has color %v outside the palette", res, c)
		}
		if first == nil {
			first = colors
		} else {
			assert.Equal(t, first, colors, "size %s has a different color set", res)
		}
	}
}

func TestPixelizeOutputDimensions(t *testing.T) {
	img := gradientImage(1024, 576)
	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    64,
		MaxColors:   16,
		Resolutions: []Resolution{{W: 512}, {W: 280, H: 200}},
	}, nil)
	require.NoError(t, err)

	long := bundle.Images[Resolution{W: 512}]
	assert.Equal(t, 512, long.W)
	assert.Equal(t, 288, long.H, "long-edge sizes keep the grid aspect")

	exact := bundle.Images[Resolution{W: 280, H: 200}]
	assert.Equal(t, 280, exact.W)
	assert.Equal(t, 200, exact.H, "explicit sizes fix the canvas exactly")
}

func TestPixelizeBlockReplication(t *testing.T) {
	// A 4x4 grid upsampled to 8x8 must be made of uniform 2x2 blocks.
	img := gradientImage(4, 4)
	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    4,
		MaxColors:   32,
		Resolutions: []Resolution{{W: 8}},
	}, nil)
	require.NoError(t, err)

	out := bundle.Images[Resolution{W: 8}]
	require.Equal(t, 8, out.W)
	require.Equal(t, 8, out.H)
	for by := 0; by < 8; by += 2 {
		for bx := 0; bx < 8; bx += 2 {
			ref := pixOffset(8, bx, by)
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					off := pixOffset(8, bx+dx, by+dy)
					assert.Equal(t, out.Pix[ref:ref+4], out.Pix[off:off+4],
						"block at (%d,%d) is not uniform", bx, by)
				}
			}
		}
	}
}

func TestPixelizeReusesSuppliedPalette(t *testing.T) {
	img := gradientImage(128, 128)
	pal, _ := Quantize(img, 8)
	require.NotEmpty(t, pal)

	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    32,
		Resolutions: []Resolution{{W: 64}},
	}, pal)
	require.NoError(t, err)
	assert.Equal(t, pal, bundle.Palette, "a supplied palette is never recomputed")
	assert.False(t, bundle.Degraded)

	palSet := paletteRGBSet(pal)
	for c := range distinctColors(bundle.Images[Resolution{W: 64}]) {
		assert.True(t, palSet[c])
	}
}

func TestPixelizePreservesAlphaPerCell(t *testing.T) {
	img := solidImage(64, 64, 200, 10, 10, 255)
	// Transparent right half.
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			img.Pix[pixOffset(64, x, y)+3] = 0
		}
	}

	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    16,
		MaxColors:   4,
		Resolutions: []Resolution{{W: 16}},
	}, nil)
	require.NoError(t, err)

	out := bundle.Images[Resolution{W: 16}]
	for y := 0; y < 16; y++ {
		assert.Equal(t, uint8(255), out.Pix[pixOffset(16, 2, y)+3], "left half stays opaque")
		assert.Equal(t, uint8(0), out.Pix[pixOffset(16, 13, y)+3], "right half stays transparent")
	}
}

func TestPixelizeForceOpaque(t *testing.T) {
	img := solidImage(32, 32, 5, 5, 5, 0)
	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    8,
		Resolutions: []Resolution{{W: 8}},
		ForceOpaque: true,
	}, nil)
	require.NoError(t, err)
	out := bundle.Images[Resolution{W: 8}]
	for i := 3; i < len(out.Pix); i += 4 {
		assert.Equal(t, uint8(255), out.Pix[i])
	}
}
