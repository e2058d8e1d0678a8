package spritemill

import (
	"fmt"
	"math"
)

// ratioTolerance is the relative tolerance within which an image counts as
// already matching the target aspect ratio.
const ratioTolerance = 1e-3

// Normalize center-crops img so that W/H matches targetRatio as closely as
// integer dimensions allow; the image is never padded, stretched or
// upsampled. The result is a fixed point: no strictly smaller crop of either
// dimension gets closer to the ratio, so a second call returns it unchanged.
// At extreme ratios on small images the 0.5px rounding error of the first
// crop can exceed what the other dimension absorbs, in which case both
// dimensions are cropped.
func Normalize(img *RasterImage, targetRatio float64) (*RasterImage, error) {
	if img == nil || img.W <= 0 || img.H <= 0 {
		return nil, fmt.Errorf("normalize: %w: zero-size image", ErrInvalidImage)
	}
	if targetRatio <= 0 || math.IsNaN(targetRatio) || math.IsInf(targetRatio, 0) {
		return nil, fmt.Errorf("normalize: %w: ratio %v", ErrInvalidImage, targetRatio)
	}

	current := float64(img.W) / float64(img.H)
	if math.Abs(current-targetRatio)/targetRatio <= ratioTolerance {
		return img, nil
	}

	out := img
	for {
		if newW := max(int(math.Round(float64(out.H)*targetRatio)), 1); newW < out.W {
			out = out.crop((out.W-newW)/2, 0, newW, out.H)
			continue
		}
		if newH := max(int(math.Round(float64(out.W)/targetRatio)), 1); newH < out.H {
			out = out.crop(0, (out.H-newH)/2, out.W, newH)
			continue
		}
		return out, nil
	}
}
