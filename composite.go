package spritemill

import (
	"fmt"
	"math"
)

// Anchor names the placement policy for the scaled foreground. Horizontal
// placement is always centered.
type Anchor int

const (
	// AnchorCenter centers vertically, shifted by VOffset.
	AnchorCenter Anchor = iota
	// AnchorBottom aligns the foreground's bottom edge with the canvas bottom.
	AnchorBottom
)

func (a Anchor) String() string {
	if a == AnchorBottom {
		return "bottom"
	}
	return "center"
}

type CompositeOptions struct {
	// Scale sets the foreground height as a fraction of the background
	// height, aspect preserved. Zero means DefaultCompositeScale.
	Scale  float64
	Anchor Anchor
	// VOffset shifts the foreground vertically (positive = down) under
	// AnchorCenter.
	VOffset int
	// PixelArt selects nearest-neighbor scaling so already-quantized images
	// do not get smooth gradients reintroduced.
	PixelArt bool
}

const DefaultCompositeScale = 0.8

// Composite scales fg, positions it per the anchor policy and alpha-blends
// it over bg. Both canvases must have identical dimensions; the background
// is never resized.
func Composite(bg, fg *RasterImage, opt CompositeOptions) (*RasterImage, error) {
	if bg == nil || bg.W <= 0 || bg.H <= 0 || fg == nil || fg.W <= 0 || fg.H <= 0 {
		return nil, fmt.Errorf("composite: %w: zero-size image", ErrInvalidImage)
	}
	if bg.W != fg.W || bg.H != fg.H {
		return nil, fmt.Errorf("composite: %w: background %dx%d, foreground %dx%d",
			ErrDimensionMismatch, bg.W, bg.H, fg.W, fg.H)
	}

	scale := opt.Scale
	if scale <= 0 {
		scale = DefaultCompositeScale
	}
	scale = min(scale, 1)

	targetH := max(int(math.Round(float64(bg.H)*scale)), 1)
	targetW := max(int(math.Round(float64(fg.W)*float64(targetH)/float64(fg.H))), 1)
	var scaled *RasterImage
	if opt.PixelArt {
		scaled = scaleNearest(fg, targetW, targetH)
	} else {
		scaled = scaleSmooth(fg, targetW, targetH)
	}

	x0 := (bg.W - targetW) / 2
	var y0 int
	switch opt.Anchor {
	case AnchorBottom:
		y0 = bg.H - targetH
	default:
		y0 = (bg.H-targetH)/2 + opt.VOffset
	}

	out := bg.Clone()
	for y := 0; y < targetH; y++ {
		oy := y0 + y
		if oy < 0 || oy >= bg.H {
			continue
		}
		for x := 0; x < targetW; x++ {
			ox := x0 + x
			if ox < 0 || ox >= bg.W {
				continue
			}
			srcOff := pixOffset(targetW, x, y)
			dstOff := pixOffset(bg.W, ox, oy)
			switch a := int(scaled.Pix[srcOff+3]); a {
			case 0:
				// Fully transparent: background shows through exactly.
			case 255:
				copy(out.Pix[dstOff:dstOff+4], scaled.Pix[srcOff:srcOff+4])
			default:
				inv := 255 - a
				out.Pix[dstOff] = uint8((int(scaled.Pix[srcOff])*a + int(out.Pix[dstOff])*inv + 127) / 255)
				out.Pix[dstOff+1] = uint8((int(scaled.Pix[srcOff+1])*a + int(out.Pix[dstOff+1])*inv + 127) / 255)
				out.Pix[dstOff+2] = uint8((int(scaled.Pix[srcOff+2])*a + int(out.Pix[dstOff+2])*inv + 127) / 255)
				outA := a + int(out.Pix[dstOff+3])*inv/255
				out.Pix[dstOff+3] = uint8(min(outA, 255))
			}
		}
	}
	return out, nil
}
