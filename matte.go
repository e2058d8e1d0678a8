package spritemill

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"gonum.org/v1/gonum/stat"
)

// AlphaMatte is a single-channel opacity map over its source image:
// 0 = background, 255 = opaque foreground.
type AlphaMatte struct {
	W, H int
	Pix  []uint8
}

type MatteOptions struct {
	// Threshold is the color-distance cutoff (Euclidean over 0-255 RGB
	// channels); pixels within Threshold of the estimated background color
	// are classified background.
	Threshold float64
	// UseEdgeRefinement smooths the matte boundary where the image has strong
	// gradients. Only pixels near the existing boundary are touched.
	UseEdgeRefinement bool
	// PreserveAntiAliasing gives boundary-band pixels a graduated alpha based
	// on their color distance, instead of a hard 0/255 staircase.
	PreserveAntiAliasing bool
	// BorderSize is the thickness in pixels of the border region sampled for
	// the background estimate. The subject is assumed centered; this is an
	// assumption about upstream generation, not a property of the algorithm.
	BorderSize int
	// VarianceTolerance is the maximum per-channel standard deviation of the
	// border samples for a confident background estimate.
	VarianceTolerance float64
}

func DefaultMatteOptions() MatteOptions {
	return MatteOptions{
		Threshold:            30,
		UseEdgeRefinement:    true,
		PreserveAntiAliasing: true,
		BorderSize:           10,
		VarianceTolerance:    24,
	}
}

const (
	// matteBandRadius bounds how far from the hard boundary refinement and
	// anti-aliasing may reach.
	matteBandRadius = 2
	// edgeGradThreshold is the minimum gradient magnitude treated as an edge.
	edgeGradThreshold = 24.0
)

// ExtractMatte estimates which pixels belong to the background and returns a
// per-pixel opacity map. The second return value reports whether background
// estimation succeeded; when it did not (border samples too varied), the
// matte is fully opaque and callers must treat the result as "background
// removal was not possible" rather than a valid cutout.
func ExtractMatte(img *RasterImage, opt MatteOptions) (*AlphaMatte, bool) {
	if img == nil || img.W <= 0 || img.H <= 0 {
		return &AlphaMatte{}, false
	}
	if opt.Threshold <= 0 {
		opt.Threshold = DefaultMatteOptions().Threshold
	}
	if opt.BorderSize <= 0 {
		opt.BorderSize = DefaultMatteOptions().BorderSize
	}
	if opt.VarianceTolerance <= 0 {
		opt.VarianceTolerance = DefaultMatteOptions().VarianceTolerance
	}

	bgR, bgG, bgB, ok := estimateBackground(img, opt.BorderSize, opt.VarianceTolerance)
	if !ok {
		return opaqueMatte(img.W, img.H), false
	}

	m := &AlphaMatte{W: img.W, H: img.H, Pix: make([]uint8, img.W*img.H)}
	dist := make([]float64, img.W*img.H)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			off := pixOffset(img.W, x, y)
			d := colorDistance(
				float64(img.Pix[off]), float64(img.Pix[off+1]), float64(img.Pix[off+2]),
				bgR, bgG, bgB,
			)
			i := y*img.W + x
			dist[i] = d
			if d <= opt.Threshold {
				m.Pix[i] = 0
			} else {
				m.Pix[i] = 255
			}
		}
	}

	if !opt.UseEdgeRefinement && !opt.PreserveAntiAliasing {
		return m, true
	}

	band := boundaryBand(m, matteBandRadius)
	if opt.UseEdgeRefinement {
		refineEdges(m, img, band)
	}
	if opt.PreserveAntiAliasing {
		antiAliasBand(m, dist, band, opt.Threshold)
	}
	return m, true
}

// ApplyTo folds the matte into the image's alpha channel, multiplying with
// any alpha already present. The input image is not modified. A matte from a
// different canvas cannot be applied.
func (m *AlphaMatte) ApplyTo(img *RasterImage) (*RasterImage, error) {
	if m.W != img.W || m.H != img.H {
		return nil, fmt.Errorf("apply matte: %w: matte %dx%d, image %dx%d",
			ErrDimensionMismatch, m.W, m.H, img.W, img.H)
	}
	out := img.Clone()
	for i := range m.Pix {
		off := i*4 + 3
		out.Pix[off] = uint8((int(out.Pix[off])*int(m.Pix[i]) + 127) / 255)
	}
	return out, nil
}

// EncodePNG renders the matte as a grayscale PNG.
func (m *AlphaMatte) EncodePNG() ([]byte, error) {
	gray := image.NewGray(image.Rect(0, 0, m.W, m.H))
	copy(gray.Pix, m.Pix)
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func opaqueMatte(w, h int) *AlphaMatte {
	m := &AlphaMatte{W: w, H: h, Pix: make([]uint8, w*h)}
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	return m
}

func colorDistance(r1, g1, b1, r2, g2, b2 float64) float64 {
	dr := r1 - r2
	dg := g1 - g2
	db := b1 - b2
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// estimateBackground samples the image border and returns the mean color.
// ok is false when any channel's standard deviation exceeds the tolerance,
// meaning the border is not uniform enough to trust.
func estimateBackground(img *RasterImage, borderSize int, tolerance float64) (r, g, b float64, ok bool) {
	borderSize = min(borderSize, min(img.W, img.H)/2)
	borderSize = max(borderSize, 1)

	var rs, gs, bs []float64
	sample := func(x, y int) {
		off := pixOffset(img.W, x, y)
		rs = append(rs, float64(img.Pix[off]))
		gs = append(gs, float64(img.Pix[off+1]))
		bs = append(bs, float64(img.Pix[off+2]))
	}
	for y := 0; y < img.H; y++ {
		inBandY := y < borderSize || y >= img.H-borderSize
		for x := 0; x < img.W; x++ {
			if inBandY || x < borderSize || x >= img.W-borderSize {
				sample(x, y)
			}
		}
	}
	if len(rs) == 0 {
		return 0, 0, 0, false
	}

	r = stat.Mean(rs, nil)
	g = stat.Mean(gs, nil)
	b = stat.Mean(bs, nil)
	maxStd := math.Sqrt(stat.Variance(rs, nil))
	maxStd = max(maxStd, math.Sqrt(stat.Variance(gs, nil)))
	maxStd = max(maxStd, math.Sqrt(stat.Variance(bs, nil)))
	return r, g, b, maxStd <= tolerance
}

// boundaryBand marks every pixel within radius of a hard matte boundary.
func boundaryBand(m *AlphaMatte, radius int) []bool {
	band := make([]bool, m.W*m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			i := y*m.W + x
			v := m.Pix[i]
			if x+1 < m.W && m.Pix[i+1] != v || y+1 < m.H && m.Pix[i+m.W] != v {
				band[i] = true
				if x+1 < m.W {
					band[i+1] = true
				}
				if y+1 < m.H {
					band[i+m.W] = true
				}
			}
		}
	}
	// Dilate to the requested radius.
	for rep := 0; rep < radius-1; rep++ {
		next := make([]bool, len(band))
		copy(next, band)
		for y := 0; y < m.H; y++ {
			for x := 0; x < m.W; x++ {
				if !band[y*m.W+x] {
					continue
				}
				if x > 0 {
					next[y*m.W+x-1] = true
				}
				if x+1 < m.W {
					next[y*m.W+x+1] = true
				}
				if y > 0 {
					next[(y-1)*m.W+x] = true
				}
				if y+1 < m.H {
					next[(y+1)*m.W+x] = true
				}
			}
		}
		band = next
	}
	return band
}

// refineEdges smooths the matte where the source image has a strong gradient,
// so silhouettes follow real edges instead of threshold staircase. Pixels
// outside the boundary band are never reclassified.
func refineEdges(m *AlphaMatte, img *RasterImage, band []bool) {
	grad := gradientMagnitude(img)
	src := make([]uint8, len(m.Pix))
	copy(src, m.Pix)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			i := y*m.W + x
			if !band[i] || grad[i] < edgeGradThreshold {
				continue
			}
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= m.W || ny < 0 || ny >= m.H {
						continue
					}
					sum += int(src[ny*m.W+nx])
					n++
				}
			}
			m.Pix[i] = uint8(sum / n)
		}
	}
}

// gradientMagnitude returns per-pixel |dI/dx| + |dI/dy| of the luminance.
func gradientMagnitude(img *RasterImage) []float64 {
	lum := make([]float64, img.W*img.H)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			off := pixOffset(img.W, x, y)
			lum[y*img.W+x] = 0.2126*float64(img.Pix[off]) +
				0.7152*float64(img.Pix[off+1]) +
				0.0722*float64(img.Pix[off+2])
		}
	}
	grad := make([]float64, img.W*img.H)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			x1 := min(x+1, img.W-1)
			y1 := min(y+1, img.H-1)
			i := y*img.W + x
			grad[i] = math.Abs(lum[y*img.W+x1]-lum[i]) + math.Abs(lum[y1*img.W+x]-lum[i])
		}
	}
	return grad
}

// antiAliasBand replaces hard 0/255 values inside the boundary band with a
// graduated alpha derived from the pixel's color distance, leaving pixels far
// from any boundary untouched.
func antiAliasBand(m *AlphaMatte, dist []float64, band []bool, threshold float64) {
	lo := threshold * 0.75
	width := threshold * 0.5
	for i, inBand := range band {
		if !inBand {
			continue
		}
		if m.Pix[i] != 0 && m.Pix[i] != 255 {
			continue // already softened by edge refinement
		}
		t := (dist[i] - lo) / width
		t = min(max(t, 0), 1)
		m.Pix[i] = uint8(math.Round(t * 255))
	}
}
