package spritemill

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pipeline sequences the conversion stages per asset-creation request. Each
// invocation is a pure CPU transformation over in-memory buffers; independent
// invocations are safe to run in parallel.
type Pipeline struct {
	log *zap.Logger
}

func NewPipeline(log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{log: log}
}

type BundleOptions struct {
	GridSize  int
	MaxColors int
	// Resolutions lists the output sizes; empty means DefaultResolutions.
	Resolutions []Resolution
	// TargetRatio center-crops the source to this aspect before gridding;
	// zero keeps the source aspect.
	TargetRatio float64
	// PreserveFullImage disables the content crop so the full source extent
	// is retained (a character cutout must not lose its head or feet).
	PreserveFullImage bool
	ForceOpaque       bool
}

func DefaultBundleOptions() BundleOptions {
	return BundleOptions{
		GridSize:    DefaultGridSize,
		MaxColors:   MaxPaletteColors,
		Resolutions: DefaultResolutions,
	}
}

// BuildPixelArtBundle decodes src and produces the quantized multi-resolution
// bundle for it.
func (p *Pipeline) BuildPixelArtBundle(src []byte, opt BundleOptions) (*Bundle, error) {
	start := time.Now()
	img, err := DecodeRaster(src)
	if err != nil {
		return nil, err
	}
	if !opt.PreserveFullImage && opt.TargetRatio > 0 {
		img, err = Normalize(img, opt.TargetRatio)
		if err != nil {
			return nil, err
		}
	}
	bundle, err := Pixelize(img, PixelizeOptions{
		GridSize:    opt.GridSize,
		MaxColors:   opt.MaxColors,
		Resolutions: opt.Resolutions,
		ForceOpaque: opt.ForceOpaque,
	}, nil)
	if err != nil {
		return nil, err
	}
	if bundle.Degraded {
		p.log.Warn("palette quantization degraded",
			zap.Int("max_colors", opt.MaxColors))
	}
	p.log.Debug("pixel art bundle built",
		zap.Int("colors", len(bundle.Palette)),
		zap.Int("sizes", len(bundle.Images)),
		zap.Duration("took", time.Since(start)))
	return bundle, nil
}

// Cutout is the result of a background-removal request.
type Cutout struct {
	// Image is the source with the matte folded into its alpha channel.
	Image *RasterImage
	Matte *AlphaMatte
	// Available is false when background estimation failed and the matte is
	// fully opaque. Callers must branch on it instead of silently shipping a
	// cutout that still contains its background.
	Available bool
}

// RemoveBackground decodes src and separates the foreground subject from its
// background.
func (p *Pipeline) RemoveBackground(src []byte, opt MatteOptions) (*Cutout, error) {
	start := time.Now()
	img, err := DecodeRaster(src)
	if err != nil {
		return nil, err
	}
	matte, ok := ExtractMatte(img, opt)
	if !ok {
		p.log.Warn("background estimation failed, returning opaque matte",
			zap.Float64("threshold", opt.Threshold))
	}
	matted, err := matte.ApplyTo(img)
	if err != nil {
		return nil, err
	}
	p.log.Debug("background removed",
		zap.Bool("available", ok),
		zap.Duration("took", time.Since(start)))
	return &Cutout{Image: matted, Matte: matte, Available: ok}, nil
}

// CompositeOntoBackground decodes both byte buffers and blends the foreground
// cutout over the background.
func (p *Pipeline) CompositeOntoBackground(bgBytes, fgBytes []byte, opt CompositeOptions) (*RasterImage, error) {
	bg, err := DecodeRaster(bgBytes)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	fg, err := DecodeRaster(fgBytes)
	if err != nil {
		return nil, fmt.Errorf("foreground: %w", err)
	}
	return Composite(bg, fg, opt)
}

// Variant names one of the renderings produced for a single asset.
type Variant int

const (
	VariantComposite Variant = iota
	VariantCutout
	VariantBackground
)

func (v Variant) String() string {
	switch v {
	case VariantCutout:
		return "cutout"
	case VariantBackground:
		return "background"
	default:
		return "composite"
	}
}

type AssetOptions struct {
	Bundle    BundleOptions
	Matte     MatteOptions
	Composite CompositeOptions
}

func DefaultAssetOptions() AssetOptions {
	return AssetOptions{
		Bundle:    DefaultBundleOptions(),
		Matte:     DefaultMatteOptions(),
		Composite: CompositeOptions{Scale: DefaultCompositeScale, PixelArt: false},
	}
}

// Asset bundles the composite, cutout-only and background-only renderings of
// one subject+background pair. All three share a single Palette, which is
// what keeps the variants visually coherent across resolutions.
type Asset struct {
	Palette  Palette
	Variants map[Variant]*Bundle
	// CutoutAvailable is false when background removal was not possible; the
	// cutout variant then still contains its original background.
	CutoutAvailable bool
	// Degraded reports a degraded palette, see Quantize.
	Degraded bool
}

// BuildAsset runs the full flow once: matte the subject, composite it over
// the background, then pixelize all three variants against the palette
// derived from the composite. Built atomically; a failure in any variant
// fails the whole asset.
func (p *Pipeline) BuildAsset(bgBytes, subjectBytes []byte, opt AssetOptions) (*Asset, error) {
	start := time.Now()
	bg, err := DecodeRaster(bgBytes)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	subject, err := DecodeRaster(subjectBytes)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}

	matte, available := ExtractMatte(subject, opt.Matte)
	if !available {
		p.log.Warn("background estimation failed for subject, compositing opaque image")
	}
	cutout, err := matte.ApplyTo(subject)
	if err != nil {
		return nil, err
	}

	composite, err := Composite(bg, cutout, opt.Composite)
	if err != nil {
		return nil, err
	}

	// The palette comes from the composite and is threaded through the other
	// variants, never recomputed per variant.
	compositeBundle, err := p.buildVariant(composite, VariantComposite, nil, opt.Bundle)
	if err != nil {
		return nil, err
	}
	pal := compositeBundle.Palette

	cutoutBundle, err := p.buildVariant(cutout, VariantCutout, pal, opt.Bundle)
	if err != nil {
		return nil, err
	}
	backgroundBundle, err := p.buildVariant(bg, VariantBackground, pal, opt.Bundle)
	if err != nil {
		return nil, err
	}

	p.log.Info("asset built",
		zap.Int("colors", len(pal)),
		zap.Bool("cutout_available", available),
		zap.Bool("degraded", compositeBundle.Degraded),
		zap.Duration("took", time.Since(start)))

	return &Asset{
		Palette: pal,
		Variants: map[Variant]*Bundle{
			VariantComposite:  compositeBundle,
			VariantCutout:     cutoutBundle,
			VariantBackground: backgroundBundle,
		},
		CutoutAvailable: available,
		Degraded:        compositeBundle.Degraded,
	}, nil
}

// buildVariant pixelizes one variant. The cutout variant always keeps the
// full source extent (no content crop) and its alpha channel.
func (p *Pipeline) buildVariant(img *RasterImage, v Variant, pal Palette, opt BundleOptions) (*Bundle, error) {
	var err error
	if v != VariantCutout && !opt.PreserveFullImage && opt.TargetRatio > 0 {
		img, err = Normalize(img, opt.TargetRatio)
		if err != nil {
			return nil, err
		}
	}
	return Pixelize(img, PixelizeOptions{
		GridSize:    opt.GridSize,
		MaxColors:   opt.MaxColors,
		Resolutions: opt.Resolutions,
		ForceOpaque: opt.ForceOpaque && v != VariantCutout,
	}, pal)
}
