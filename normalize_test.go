package spritemill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeZeroSize(t *testing.T) {
	_, err := Normalize(&RasterImage{}, 1.0)
	require.ErrorIs(t, err, ErrInvalidImage)

	_, err = Normalize(nil, 1.0)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestNormalizeInvalidRatio(t *testing.T) {
	img := solidImage(10, 10, 1, 2, 3, 255)
	_, err := Normalize(img, 0)
	require.ErrorIs(t, err, ErrInvalidImage)
	_, err = Normalize(img, -1.5)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestNormalizeCropsWidthToCenter(t *testing.T) {
	// Left third red, middle third green, right third blue. Cropping 600x200
	// to a 1:1 ratio must keep the green middle.
	img := NewRasterImage(600, 200)
	for y := 0; y < 200; y++ {
		for x := 0; x < 600; x++ {
			off := pixOffset(600, x, y)
			switch {
			case x < 200:
				img.Pix[off] = 255
			case x < 400:
				img.Pix[off+1] = 255
			default:
				img.Pix[off+2] = 255
			}
			img.Pix[off+3] = 255
		}
	}

	out, err := Normalize(img, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 200, out.W)
	assert.Equal(t, 200, out.H)
	for y := 0; y < out.H; y += 17 {
		for x := 0; x < out.W; x += 13 {
			off := pixOffset(out.W, x, y)
			assert.Equal(t, uint8(255), out.Pix[off+1], "pixel (%d,%d) should be green", x, y)
		}
	}
}

func TestNormalizeCropsHeight(t *testing.T) {
	img := solidImage(100, 400, 9, 9, 9, 255)
	out, err := Normalize(img, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 100, out.W)
	assert.Equal(t, 50, out.H)
}

func TestNormalizeAlreadyMatchingReturnsInput(t *testing.T) {
	img := solidImage(280, 200, 7, 7, 7, 255)
	out, err := Normalize(img, 1.4)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, ratio := range []float64{1.0, 1.4, 16.0 / 9.0, 0.75} {
		img := gradientImage(317, 201)
		once, err := Normalize(img, ratio)
		require.NoError(t, err)
		twice, err := Normalize(once, ratio)
		require.NoError(t, err)
		assert.Equal(t, once.W, twice.W, "ratio %v", ratio)
		assert.Equal(t, once.H, twice.H, "ratio %v", ratio)
		assert.Equal(t, once.Pix, twice.Pix, "ratio %v", ratio)
	}
}

// Small dimensions at extreme ratios leave a rounding error larger than the
// tolerance; the crop must still settle in one call.
func TestNormalizeIdempotentExtremeRatio(t *testing.T) {
	cases := []struct {
		w, h  int
		ratio float64
	}{
		{100, 14, 0.3},
		{7, 200, 3.0},
		{5, 333, 0.7},
		{900, 4, 2.5},
	}
	for _, tc := range cases {
		img := gradientImage(tc.w, tc.h)
		once, err := Normalize(img, tc.ratio)
		require.NoError(t, err)
		twice, err := Normalize(once, tc.ratio)
		require.NoError(t, err)
		assert.Equal(t, once.W, twice.W, "%dx%d at %v", tc.w, tc.h, tc.ratio)
		assert.Equal(t, once.H, twice.H, "%dx%d at %v", tc.w, tc.h, tc.ratio)
		assert.Equal(t, once.Pix, twice.Pix, "%dx%d at %v", tc.w, tc.h, tc.ratio)
	}
}
