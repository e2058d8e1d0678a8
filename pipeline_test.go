package spritemill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFixture(t *testing.T, img *RasterImage) []byte {
	t.Helper()
	data, err := img.EncodePNG()
	require.NoError(t, err)
	return data
}

func TestBuildPixelArtBundle(t *testing.T) {
	p := NewPipeline(nil)
	src := encodeFixture(t, gradientImage(512, 288))

	bundle, err := p.BuildPixelArtBundle(src, BundleOptions{
		GridSize:    64,
		MaxColors:   16,
		Resolutions: []Resolution{{W: 128}, {W: 256}},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(bundle.Palette), 16)
	require.Len(t, bundle.Images, 2)
	assert.Equal(t, 128, bundle.Images[Resolution{W: 128}].W)
	assert.Equal(t, 72, bundle.Images[Resolution{W: 128}].H)
	assert.Equal(t, 256, bundle.Images[Resolution{W: 256}].W)
}

func TestBuildPixelArtBundleRejectsGarbage(t *testing.T) {
	p := NewPipeline(nil)
	_, err := p.BuildPixelArtBundle([]byte("not an image"), DefaultBundleOptions())
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestBuildPixelArtBundleNormalizes(t *testing.T) {
	p := NewPipeline(nil)
	src := encodeFixture(t, gradientImage(512, 512))

	opt := BundleOptions{
		GridSize:    64,
		MaxColors:   16,
		Resolutions: []Resolution{{W: 128}},
		TargetRatio: 16.0 / 9.0,
	}
	bundle, err := p.BuildPixelArtBundle(src, opt)
	require.NoError(t, err)
	assert.Equal(t, 128, bundle.Images[Resolution{W: 128}].W)
	assert.Equal(t, 72, bundle.Images[Resolution{W: 128}].H, "source is cropped to the target aspect first")

	opt.PreserveFullImage = true
	bundle, err = p.BuildPixelArtBundle(src, opt)
	require.NoError(t, err)
	assert.Equal(t, 128, bundle.Images[Resolution{W: 128}].H, "full extent is kept when the crop is disabled")
}

func TestRemoveBackground(t *testing.T) {
	p := NewPipeline(nil)
	src := encodeFixture(t, squareOnSolid(256, 256, 80, [3]uint8{240, 240, 240}, [3]uint8{180, 40, 40}))

	cutout, err := p.RemoveBackground(src, DefaultMatteOptions())
	require.NoError(t, err)
	assert.True(t, cutout.Available)
	assert.Equal(t, uint8(0), cutout.Image.Pix[pixOffset(256, 2, 2)+3], "background corner is transparent")
	assert.Equal(t, uint8(255), cutout.Image.Pix[pixOffset(256, 128, 128)+3], "subject center stays opaque")
}

func TestRemoveBackgroundUnavailable(t *testing.T) {
	p := NewPipeline(nil)
	src := encodeFixture(t, gradientImage(128, 128))

	cutout, err := p.RemoveBackground(src, DefaultMatteOptions())
	require.NoError(t, err)
	assert.False(t, cutout.Available)
	for i := 3; i < len(cutout.Image.Pix); i += 4 {
		require.Equal(t, uint8(255), cutout.Image.Pix[i], "unavailable cutout must stay fully opaque")
	}
}

func TestCompositeOntoBackgroundMismatch(t *testing.T) {
	p := NewPipeline(nil)
	bg := encodeFixture(t, solidImage(280, 200, 0, 0, 255, 255))
	fg := encodeFixture(t, solidImage(300, 200, 255, 0, 0, 255))

	_, err := p.CompositeOntoBackground(bg, fg, CompositeOptions{})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = p.CompositeOntoBackground([]byte("junk"), fg, CompositeOptions{})
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestBuildAssetSharedPalette(t *testing.T) {
	p := NewPipeline(nil)
	bg := encodeFixture(t, gradientImage(256, 256))
	subject := encodeFixture(t, squareOnSolid(256, 256, 96, [3]uint8{245, 245, 245}, [3]uint8{30, 120, 60}))

	opt := DefaultAssetOptions()
	opt.Bundle.GridSize = 64
	opt.Bundle.MaxColors = 16
	opt.Bundle.Resolutions = []Resolution{{W: 64}, {W: 128}}

	asset, err := p.BuildAsset(bg, subject, opt)
	require.NoError(t, err)
	assert.True(t, asset.CutoutAvailable)
	require.Len(t, asset.Variants, 3)

	palSet := paletteRGBSet(asset.Palette)
	require.NotEmpty(t, palSet)
	for v, bundle := range asset.Variants {
		assert.Equal(t, asset.Palette, bundle.Palette, "variant %s must carry the shared palette", v)
		for res, img := range bundle.Images {
			for c := range distinctColors(img) {
				assert.Contains(t, palSet, c, "variant %s at %s uses a color outside the shared palette", v, res)
			}
		}
	}

	// The cutout keeps its transparency after quantization.
	cutout := asset.Variants[VariantCutout].Images[Resolution{W: 64}]
	assert.Equal(t, uint8(0), cutout.Pix[3], "cutout corner is background")
}

func TestBuildAssetRejectsGarbage(t *testing.T) {
	p := NewPipeline(nil)
	good := encodeFixture(t, solidImage(64, 64, 10, 10, 10, 255))

	_, err := p.BuildAsset([]byte("junk"), good, DefaultAssetOptions())
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = p.BuildAsset(good, []byte("junk"), DefaultAssetOptions())
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "composite", VariantComposite.String())
	assert.Equal(t, "cutout", VariantCutout.String())
	assert.Equal(t, "background", VariantBackground.String())
}
