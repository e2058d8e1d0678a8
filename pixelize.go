package spritemill

import (
	"fmt"
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"
)

// DefaultGridSize is the logical grid long edge used when no size is given.
const DefaultGridSize = 256

// Resolution names one output size in a bundle. H == 0 means W is the long
// edge and the grid aspect is kept; otherwise the output canvas is exactly
// W×H.
type Resolution struct {
	W, H int
}

func (r Resolution) String() string {
	if r.H == 0 {
		return fmt.Sprintf("%d", r.W)
	}
	return fmt.Sprintf("%dx%d", r.W, r.H)
}

// DefaultResolutions is the output size set produced for every asset.
var DefaultResolutions = []Resolution{
	{W: 128},
	{W: 200},
	{W: 280, H: 200},
	{W: 256},
	{W: 512},
}

type PixelizeOptions struct {
	// GridSize bounds the logical grid's long edge. The effective grid is
	// additionally clamped to the smallest requested output, so every output
	// image is a pure block replication of one grid.
	GridSize int
	// MaxColors is the palette ceiling, at most MaxPaletteColors.
	MaxColors int
	// Resolutions lists the output sizes; empty means DefaultResolutions.
	Resolutions []Resolution
	// ForceOpaque discards the source alpha channel.
	ForceOpaque bool
}

// Bundle holds every resolution derived from one quantized grid and one
// shared Palette.
type Bundle struct {
	Palette Palette
	Images  map[Resolution]*RasterImage
	// Grid is the quantized logical grid all outputs derive from; callers may
	// cache it to regenerate resolutions without re-quantizing.
	Grid *RasterImage
	// Degraded reports a degraded palette, see Quantize.
	Degraded bool
}

// Pixelize downsamples img to a logical grid with an area-averaging filter,
// applies pal (deriving one from the grid when pal is nil), and
// block-replicates the quantized grid to every requested resolution. Bundles
// are built atomically: any failure discards all partial output.
func Pixelize(img *RasterImage, opt PixelizeOptions, pal Palette) (*Bundle, error) {
	if img == nil || img.W <= 0 || img.H <= 0 {
		return nil, fmt.Errorf("pixelize: %w: zero-size image", ErrInvalidImage)
	}
	resolutions := opt.Resolutions
	if len(resolutions) == 0 {
		resolutions = DefaultResolutions
	}
	for _, res := range resolutions {
		if res.W <= 0 || res.H < 0 {
			return nil, fmt.Errorf("pixelize: %w: resolution %dx%d", ErrInvalidImage, res.W, res.H)
		}
	}
	gridSize := opt.GridSize
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	for _, res := range resolutions {
		gridSize = min(gridSize, max(res.W, res.H))
	}

	gw, gh := gridDims(img.W, img.H, gridSize)
	grid := downsampleArea(img, gw, gh)

	degraded := false
	if pal == nil {
		// Quantize the small grid, not the full-resolution source: faster, and
		// it matches the block structure of the eventual pixel art.
		pal, degraded = Quantize(grid, opt.MaxColors)
	}
	quantized := remapToPalette(grid, pal, opt.ForceOpaque)

	images := make(map[Resolution]*RasterImage, len(resolutions))
	for _, res := range resolutions {
		outW, outH := res.W, res.H
		if outH == 0 {
			if gw >= gh {
				outH = max(int(math.Round(float64(gh)*float64(res.W)/float64(gw))), 1)
			} else {
				outH = res.W
				outW = max(int(math.Round(float64(gw)*float64(res.W)/float64(gh))), 1)
			}
		}
		// Block replication only; any smoothing filter here would defeat the
		// chunky-pixel aesthetic.
		images[res] = scaleNearest(quantized, outW, outH)
	}

	return &Bundle{
		Palette:  pal,
		Images:   images,
		Grid:     quantized,
		Degraded: degraded,
	}, nil
}

// gridDims fits the image into a grid whose long edge is at most size,
// preserving aspect and never upscaling.
func gridDims(w, h, size int) (int, int) {
	long := max(w, h)
	if long <= size {
		return w, h
	}
	if w >= h {
		return size, max(int(math.Round(float64(h)*float64(size)/float64(w))), 1)
	}
	return max(int(math.Round(float64(w)*float64(size)/float64(h))), 1), size
}

type cellAcc struct {
	r, g, b float64
	n       int
}

// downsampleArea box-filters img into a gw×gh grid. Color channels are the
// area average of the non-transparent pixels in each cell; alpha comes from
// the pixel nearest the cell center, so matte edges stay crisp instead of
// averaging into a gray halo.
func downsampleArea(img *RasterImage, gw, gh int) *RasterImage {
	acc := make([]cellAcc, gw*gh)
	for y := 0; y < img.H; y++ {
		cy := y * gh / img.H
		for x := 0; x < img.W; x++ {
			cx := x * gw / img.W
			off := pixOffset(img.W, x, y)
			if img.Pix[off+3] == 0 {
				continue
			}
			a := &acc[cy*gw+cx]
			a.r += float64(img.Pix[off])
			a.g += float64(img.Pix[off+1])
			a.b += float64(img.Pix[off+2])
			a.n++
		}
	}

	out := NewRasterImage(gw, gh)
	for cy := 0; cy < gh; cy++ {
		sy := min((cy*2+1)*img.H/(2*gh), img.H-1)
		for cx := 0; cx < gw; cx++ {
			sx := min((cx*2+1)*img.W/(2*gw), img.W-1)
			srcOff := pixOffset(img.W, sx, sy)
			dstOff := pixOffset(gw, cx, cy)
			if a := acc[cy*gw+cx]; a.n > 0 {
				n := float64(a.n)
				out.Pix[dstOff] = uint8(math.Round(a.r / n))
				out.Pix[dstOff+1] = uint8(math.Round(a.g / n))
				out.Pix[dstOff+2] = uint8(math.Round(a.b / n))
			} else {
				out.Pix[dstOff] = img.Pix[srcOff]
				out.Pix[dstOff+1] = img.Pix[srcOff+1]
				out.Pix[dstOff+2] = img.Pix[srcOff+2]
			}
			out.Pix[dstOff+3] = img.Pix[srcOff+3]
		}
	}
	return out
}

// remapToPalette snaps every cell to its nearest palette color.
func remapToPalette(grid *RasterImage, pal Palette, forceOpaque bool) *RasterImage {
	out := NewRasterImage(grid.W, grid.H)
	if len(pal) == 0 {
		copy(out.Pix, grid.Pix)
		return out
	}
	for i := 0; i < len(grid.Pix); i += 4 {
		c := colorful.Color{
			R: float64(grid.Pix[i]) / 255.0,
			G: float64(grid.Pix[i+1]) / 255.0,
			B: float64(grid.Pix[i+2]) / 255.0,
		}
		pr, pg, pb := pal[pal.Nearest(c)].RGB255()
		out.Pix[i] = pr
		out.Pix[i+1] = pg
		out.Pix[i+2] = pb
		if forceOpaque {
			out.Pix[i+3] = 255
		} else {
			out.Pix[i+3] = grid.Pix[i+3]
		}
	}
	return out
}

// scaleNearest resizes by nearest-neighbor sampling; with integer factors
// this is exact block replication.
func scaleNearest(src *RasterImage, w, h int) *RasterImage {
	srcImg := src.NRGBA()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), srcImg, srcImg.Bounds(), xdraw.Src, nil)
	return FromImage(dst)
}

// scaleSmooth resizes with a Catmull-Rom kernel for photographic content.
func scaleSmooth(src *RasterImage, w, h int) *RasterImage {
	srcImg := src.NRGBA()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), srcImg, srcImg.Bounds(), xdraw.Src, nil)
	return FromImage(dst)
}
