package spritemill

import (
	"image/color"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// MaxPaletteColors is the hard ceiling on palette size.
const MaxPaletteColors = 32

// minPaletteDistance is the minimum Lab distance allowed between any two
// palette entries; closer pairs collapse into one slot.
const minPaletteDistance = 0.02

const (
	lloydMaxIters    = 24
	lloydConvergeEps = 1e-4
	maxColorSamples  = 20000
)

// Palette is an ordered set of representative colors. One Palette is shared
// read-only across every resolution derived from the same source image.
type Palette []colorful.Color

type PaletteMethod int

const (
	// MethodLloyd is the primary method: Lloyd refinement in Lab space with
	// farthest-point seeding over dominant-color candidates. Output is
	// byte-identical across runs for a fixed input.
	MethodLloyd PaletteMethod = iota
	// MethodHistogram selects the top weighted dominant colors directly. It is
	// also the fallback when MethodLloyd does not converge.
	MethodHistogram
	// MethodKMeans uses randomized kmeans clustering. Not reproducible across
	// runs; the pipeline never selects it on its own.
	MethodKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case MethodHistogram:
		return "histogram"
	case MethodKMeans:
		return "kmeans"
	default:
		return "lloyd"
	}
}

// Quantize reduces img to at most maxColors representative colors using the
// deterministic primary method. The second return value reports a degraded
// palette: the quantizer fell back to the histogram method, or no opaque
// pixel was available to sample. Degraded output is preferred to failure, so
// Quantize never errors on numerical edge cases.
func Quantize(img *RasterImage, maxColors int) (Palette, bool) {
	return QuantizeWithMethod(img, maxColors, MethodLloyd)
}

func QuantizeWithMethod(img *RasterImage, maxColors int, method PaletteMethod) (Palette, bool) {
	if maxColors <= 0 || maxColors > MaxPaletteColors {
		maxColors = MaxPaletteColors
	}
	if img == nil || img.W == 0 || img.H == 0 {
		return nil, false
	}

	samples, distinct := collectLabSamples(img, maxColors)
	if len(samples) == 0 {
		// Fully transparent input: the placeholder represents no sampled
		// pixel, so the palette is degraded.
		return Palette{colorful.Color{R: 0.5, G: 0.5, B: 0.5}}, true
	}

	// Fewer distinct colors than requested: the palette is exactly the colors
	// actually present, not padded entries.
	if distinct != nil {
		pal := make(Palette, 0, len(distinct))
		for _, c := range distinct {
			pal = append(pal, c)
		}
		pal.SortByBrightness()
		return pal.dedupe(), false
	}

	switch method {
	case MethodHistogram:
		return histogramPalette(img, maxColors), false
	case MethodKMeans:
		if pal := kmeansPalette(samples, maxColors); len(pal) != 0 {
			return pal, false
		}
		return histogramPalette(img, maxColors), true
	default:
		if pal, ok := lloydPalette(img, samples, maxColors); ok {
			return pal, false
		}
		return histogramPalette(img, maxColors), true
	}
}

// collectLabSamples gathers Lab samples from every non-transparent pixel
// (stride-subsampled on large images) and, while the count stays within
// maxColors, the set of distinct colors present. A nil distinct slice means
// the image holds more distinct colors than maxColors.
func collectLabSamples(img *RasterImage, maxColors int) ([][3]float64, []colorful.Color) {
	step := 1
	if img.W*img.H > maxColorSamples {
		step = int(math.Sqrt(float64(img.W*img.H)/float64(maxColorSamples))) + 1
	}

	distinctSet := make(map[uint32]colorful.Color, maxColors+1)
	overflow := false
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			off := pixOffset(img.W, x, y)
			if img.Pix[off+3] == 0 {
				continue
			}
			key := uint32(img.Pix[off])<<16 | uint32(img.Pix[off+1])<<8 | uint32(img.Pix[off+2])
			if _, seen := distinctSet[key]; !seen {
				distinctSet[key] = colorful.Color{
					R: float64(img.Pix[off]) / 255.0,
					G: float64(img.Pix[off+1]) / 255.0,
					B: float64(img.Pix[off+2]) / 255.0,
				}
				if len(distinctSet) > maxColors {
					overflow = true
				}
			}
			if overflow {
				break
			}
		}
		if overflow {
			break
		}
	}

	samples := make([][3]float64, 0, min(img.W*img.H/(step*step)+1, maxColorSamples))
	for y := 0; y < img.H; y += step {
		for x := 0; x < img.W; x += step {
			off := pixOffset(img.W, x, y)
			if img.Pix[off+3] == 0 {
				continue
			}
			c := colorful.Color{
				R: float64(img.Pix[off]) / 255.0,
				G: float64(img.Pix[off+1]) / 255.0,
				B: float64(img.Pix[off+2]) / 255.0,
			}
			l, a, b := c.Lab()
			samples = append(samples, [3]float64{l, a, b})
		}
	}

	if overflow {
		return samples, nil
	}
	// Map iteration order is random; sort for a stable palette.
	keys := make([]uint32, 0, len(distinctSet))
	for k := range distinctSet {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]colorful.Color, 0, len(keys))
	for _, k := range keys {
		out = append(out, distinctSet[k])
	}
	return samples, out
}

// lloydPalette refines farthest-point seeds with Lloyd iterations in Lab
// space. Returns ok=false when the centers have not settled within the
// iteration cap.
func lloydPalette(img *RasterImage, samples [][3]float64, maxColors int) (Palette, bool) {
	seeds := seedCandidates(img, maxColors)
	if len(seeds) == 0 {
		return nil, false
	}

	centers := make([][3]float64, len(seeds))
	for i, c := range seeds {
		l, a, b := c.Lab()
		centers[i] = [3]float64{l, a, b}
	}

	k := len(centers)
	sums := make([][3]float64, k)
	counts := make([]int, k)
	converged := false
	for iter := 0; iter < lloydMaxIters; iter++ {
		for i := 0; i < k; i++ {
			sums[i] = [3]float64{}
			counts[i] = 0
		}
		for _, s := range samples {
			best := 0
			bestD := math.MaxFloat64
			for i := 0; i < k; i++ {
				d0 := s[0] - centers[i][0]
				d1 := s[1] - centers[i][1]
				d2 := s[2] - centers[i][2]
				d := d0*d0 + d1*d1 + d2*d2
				if d < bestD {
					bestD = d
					best = i
				}
			}
			sums[best][0] += s[0]
			sums[best][1] += s[1]
			sums[best][2] += s[2]
			counts[best]++
		}
		shift := 0.0
		for i := 0; i < k; i++ {
			if counts[i] == 0 {
				continue // empty cluster keeps its center
			}
			n := float64(counts[i])
			next := [3]float64{sums[i][0] / n, sums[i][1] / n, sums[i][2] / n}
			d0 := next[0] - centers[i][0]
			d1 := next[1] - centers[i][1]
			d2 := next[2] - centers[i][2]
			shift = max(shift, d0*d0+d1*d1+d2*d2)
			centers[i] = next
		}
		if shift < lloydConvergeEps*lloydConvergeEps {
			converged = true
			break
		}
	}
	if !converged {
		return nil, false
	}

	pal := make(Palette, 0, k)
	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}
		pal = append(pal, colorful.Lab(centers[i][0], centers[i][1], centers[i][2]).Clamped())
	}
	if len(pal) == 0 {
		return nil, false
	}
	pal.SortByBrightness()
	return pal.dedupe(), true
}

type weightedColor struct {
	col    colorful.Color
	weight float64
}

// seedCandidates picks up to k diverse, dominant seed colors. Candidates come
// from a histogram pass, so seeding stays deterministic.
func seedCandidates(img *RasterImage, k int) []colorful.Color {
	nCandidates := max(24, k*8)
	candidates := dominantcolor.FindWeight(img.NRGBA(), nCandidates)
	if len(candidates) == 0 {
		// Last resort: avoid an empty seed set that would break refinement.
		candidates = append(candidates, dominantcolor.Color{
			RGBA:   color.RGBA{R: 128, G: 128, B: 128, A: 255},
			Weight: 1.0,
		})
	}
	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		w := c.Weight
		if w <= 0 {
			w = 1e-6
		}
		weighted = append(weighted, weightedColor{col: col.Clamped(), weight: w})
	}
	return selectDiverseWeighted(weighted, k)
}

// selectDiverseWeighted greedily picks k colors, balancing Lab distance from
// the already-picked set against candidate weight. Seeded with the strongest
// color so the palette stays close to dominant tones.
func selectDiverseWeighted(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	type item struct {
		col colorful.Color
		lab [3]float64
		w   float64
	}
	items := make([]item, 0, len(cands))
	maxW := 0.0
	for _, c := range cands {
		col := c.col.Clamped()
		l, a, b := col.Lab()
		w := c.weight
		if w <= 0 {
			w = 1e-6
		}
		if w > maxW {
			maxW = w
		}
		items = append(items, item{col: col, lab: [3]float64{l, a, b}, w: w})
	}
	if k > len(items) {
		k = len(items)
	}
	if maxW <= 0 {
		maxW = 1.0
	}

	selectedIdx := make([]int, 0, k)
	selected := make([]bool, len(items))

	bestSeed := 0
	bestSeedW := items[0].w
	for i := 1; i < len(items); i++ {
		if items[i].w > bestSeedW {
			bestSeedW = items[i].w
			bestSeed = i
		}
	}
	selectedIdx = append(selectedIdx, bestSeed)
	selected[bestSeed] = true

	for len(selectedIdx) < k {
		bestIdx := -1
		bestScore := -1.0
		for i := range items {
			if selected[i] {
				continue
			}
			minD2 := math.MaxFloat64
			for _, s := range selectedIdx {
				d0 := items[i].lab[0] - items[s].lab[0]
				d1 := items[i].lab[1] - items[s].lab[1]
				d2 := items[i].lab[2] - items[s].lab[2]
				d2v := d0*d0 + d1*d1 + d2*d2
				if d2v < minD2 {
					minD2 = d2v
				}
			}
			normW := items[i].w / maxW
			score := math.Sqrt(minD2) * (0.55 + 0.45*math.Sqrt(normW))
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
	}

	out := make([]colorful.Color, 0, len(selectedIdx))
	for _, idx := range selectedIdx {
		out = append(out, items[idx].col)
	}
	return out
}

// histogramPalette is the bounded-effort fallback: top weighted dominant
// colors, diversified, no iteration involved.
func histogramPalette(img *RasterImage, k int) Palette {
	pal := Palette(seedCandidates(img, k))
	pal.SortByBrightness()
	return pal.dedupe()
}

// kmeansPalette clusters with randomized kmeans, for callers that want
// cluster quality over reproducibility. Returns nil when clustering fails.
func kmeansPalette(samples [][3]float64, k int) Palette {
	dataset := make(clusters.Observations, 0, len(samples))
	for _, s := range samples {
		// Cluster in Lab so distances stay perceptual.
		dataset = append(dataset, clusters.Coordinates{s[0], s[1], s[2]})
	}
	if len(dataset) == 0 {
		return nil
	}
	workK := min(max(k*4, k+2), len(dataset))
	if workK <= 0 {
		return nil
	}
	km := kmeans.New()
	cc, err := km.Partition(dataset, workK)
	if err != nil || len(cc) == 0 {
		return nil
	}
	slices.SortFunc(cc, func(a, b clusters.Cluster) int {
		na := len(a.Observations)
		nb := len(b.Observations)
		if na > nb {
			return -1
		}
		if na < nb {
			return 1
		}
		return 0
	})
	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		center := c.Center
		if len(center) < 3 {
			continue
		}
		col := colorful.Lab(center[0], center[1], center[2]).Clamped()
		w := float64(len(c.Observations))
		if w <= 0 {
			w = 1e-6
		}
		weighted = append(weighted, weightedColor{col: col, weight: w})
	}
	pal := Palette(selectDiverseWeighted(weighted, k))
	pal.SortByBrightness()
	return pal.dedupe()
}

// SortByBrightness orders colors from darkest to brightest, so the first
// entry is the darkest (background) color.
func (p Palette) SortByBrightness() {
	slices.SortFunc(p, func(a, b colorful.Color) int {
		ri, gi, bi := a.LinearRgb()
		rj, gj, bj := b.LinearRgb()
		yi := 0.2126*ri + 0.7152*gi + 0.0722*bi
		yj := 0.2126*rj + 0.7152*gj + 0.0722*bj
		if yi < yj {
			return -1
		}
		if yi > yj {
			return 1
		}
		return 0
	})
}

// dedupe drops entries closer than minPaletteDistance to an earlier entry,
// preserving order.
func (p Palette) dedupe() Palette {
	out := make(Palette, 0, len(p))
	for _, c := range p {
		dup := false
		for _, kept := range out {
			if kept.DistanceLab(c) < minPaletteDistance {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// Nearest returns the index of the palette entry closest to c in Lab space.
func (p Palette) Nearest(c colorful.Color) int {
	best := 0
	bestD := math.MaxFloat64
	for i, entry := range p {
		d := entry.DistanceLab(c)
		if d < bestD {
			bestD = d
			best = i
		}
	}
	return best
}

// Hex renders the palette as #rrggbb strings for persistence.
func (p Palette) Hex() []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Hex()
	}
	return out
}
