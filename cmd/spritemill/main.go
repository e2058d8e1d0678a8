package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spritemill/spritemill"
)

func main() {
	root := &cobra.Command{
		Use:           "spritemill",
		Short:         "Convert images to pixel-art sprites, cut out subjects and composite scenes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(pixelateCmd(), cutoutCmd(), compositeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newPipeline(verbose bool) (*spritemill.Pipeline, func()) {
	if !verbose {
		return spritemill.NewPipeline(nil), func() {}
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return spritemill.NewPipeline(nil), func() {}
	}
	return spritemill.NewPipeline(log), func() { _ = log.Sync() }
}

func pixelateCmd() *cobra.Command {
	var (
		outDir    string
		gridSize  int
		maxColors int
		sizes     string
		preserve  bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "pixelate <image>",
		Short: "Produce a multi-resolution pixel-art bundle from one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opt := spritemill.DefaultBundleOptions()
			opt.GridSize = gridSize
			opt.MaxColors = maxColors
			opt.PreserveFullImage = preserve
			if sizes != "" {
				opt.Resolutions, err = parseResolutions(sizes)
				if err != nil {
					return err
				}
			}

			pipe, flush := newPipeline(verbose)
			defer flush()
			bundle, err := pipe.BuildPixelArtBundle(data, opt)
			if err != nil {
				return err
			}
			if bundle.Degraded {
				fmt.Fprintln(os.Stderr, "warning: palette quantization degraded")
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			for res, img := range bundle.Images {
				png, err := img.EncodePNG()
				if err != nil {
					return err
				}
				name := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", base, res))
				if err := os.WriteFile(name, png, 0o644); err != nil {
					return err
				}
				fmt.Println(name)
			}
			fmt.Printf("palette: %s\n", strings.Join(bundle.Palette.Hex(), " "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().IntVar(&gridSize, "grid-size", spritemill.DefaultGridSize, "logical grid long edge")
	cmd.Flags().IntVar(&maxColors, "max-colors", spritemill.MaxPaletteColors, "palette ceiling")
	cmd.Flags().StringVar(&sizes, "sizes", "", "output sizes, e.g. 128,256,280x200")
	cmd.Flags().BoolVar(&preserve, "preserve-full", false, "keep the full source extent, no content crop")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages")
	return cmd
}

func cutoutCmd() *cobra.Command {
	var (
		outFile   string
		matteFile string
		threshold float64
		noEdge    bool
		noAA      bool
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "cutout <image>",
		Short: "Remove the background from one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opt := spritemill.DefaultMatteOptions()
			opt.Threshold = threshold
			opt.UseEdgeRefinement = !noEdge
			opt.PreserveAntiAliasing = !noAA

			pipe, flush := newPipeline(verbose)
			defer flush()
			cutout, err := pipe.RemoveBackground(data, opt)
			if err != nil {
				return err
			}
			if !cutout.Available {
				fmt.Fprintln(os.Stderr, "warning: background could not be estimated, output is fully opaque")
			}

			png, err := cutout.Image.EncodePNG()
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, png, 0o644); err != nil {
				return err
			}
			if matteFile != "" {
				mattePNG, err := cutout.Matte.EncodePNG()
				if err != nil {
					return err
				}
				if err := os.WriteFile(matteFile, mattePNG, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "cutout.png", "output file")
	cmd.Flags().StringVar(&matteFile, "matte", "", "also write the matte as a grayscale PNG")
	cmd.Flags().Float64Var(&threshold, "threshold", spritemill.DefaultMatteOptions().Threshold, "background color-distance cutoff")
	cmd.Flags().BoolVar(&noEdge, "no-edge-refinement", false, "skip edge-aware boundary refinement")
	cmd.Flags().BoolVar(&noAA, "no-antialiasing", false, "hard 0/255 matte, no graduated edge")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages")
	return cmd
}

func compositeCmd() *cobra.Command {
	var (
		outFile  string
		scale    float64
		anchor   string
		pixelArt bool
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "composite <background> <cutout>",
		Short: "Blend a cutout over a background of the same canvas size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bg, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fg, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			opt := spritemill.CompositeOptions{
				Scale:    scale,
				PixelArt: pixelArt,
			}
			if anchor == "bottom" {
				opt.Anchor = spritemill.AnchorBottom
			}

			pipe, flush := newPipeline(verbose)
			defer flush()
			out, err := pipe.CompositeOntoBackground(bg, fg, opt)
			if err != nil {
				return err
			}
			png, err := out.EncodePNG()
			if err != nil {
				return err
			}
			return os.WriteFile(outFile, png, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "composite.png", "output file")
	cmd.Flags().Float64Var(&scale, "scale", spritemill.DefaultCompositeScale, "cutout height as a fraction of background height")
	cmd.Flags().StringVar(&anchor, "anchor", "center", "placement policy: center or bottom")
	cmd.Flags().BoolVar(&pixelArt, "pixel-art", false, "nearest-neighbor scaling for already-quantized inputs")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages")
	return cmd
}

func parseResolutions(s string) ([]spritemill.Resolution, error) {
	var out []spritemill.Resolution
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if w, h, found := strings.Cut(part, "x"); found {
			wi, err := strconv.Atoi(w)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q", part)
			}
			hi, err := strconv.Atoi(h)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q", part)
			}
			out = append(out, spritemill.Resolution{W: wi, H: hi})
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q", part)
		}
		out = append(out, spritemill.Resolution{W: n})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sizes in %q", s)
	}
	return out, nil
}
