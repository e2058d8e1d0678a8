package spritemill

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
)

// RasterImage is a row-major interleaved RGBA byte buffer. Every pipeline
// stage consumes one RasterImage and produces a fresh one; buffers are never
// shared across stage boundaries.
type RasterImage struct {
	W, H int
	Pix  []uint8 // Interleaved RGBA in [0,255], len = W*H*4
}

func pixOffset(w, x, y int) int {
	return (y*w + x) * 4
}

func NewRasterImage(w, h int) *RasterImage {
	return &RasterImage{
		W:   w,
		H:   h,
		Pix: make([]uint8, w*h*4),
	}
}

// DecodeRaster decodes PNG or JPEG bytes into a RasterImage.
func DecodeRaster(data []byte) (*RasterImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode: %w: zero-size image", ErrInvalidImage)
	}
	return FromImage(img), nil
}

func FromImage(img image.Image) *RasterImage {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Stride == nrgba.Rect.Dx()*4 && nrgba.Rect.Min == (image.Point{}) {
		out := NewRasterImage(nrgba.Rect.Dx(), nrgba.Rect.Dy())
		copy(out.Pix, nrgba.Pix)
		return out
	}
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	out := NewRasterImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := pixOffset(w, x, y)
			if a > 0 && a < 0xffff {
				// RGBA() is alpha-premultiplied; recover straight color.
				out.Pix[off] = uint8((r * 0xffff / a) >> 8)
				out.Pix[off+1] = uint8((g * 0xffff / a) >> 8)
				out.Pix[off+2] = uint8((b * 0xffff / a) >> 8)
			} else {
				out.Pix[off] = uint8(r >> 8)
				out.Pix[off+1] = uint8(g >> 8)
				out.Pix[off+2] = uint8(b >> 8)
			}
			out.Pix[off+3] = uint8(a >> 8)
		}
	}
	return out
}

// NRGBA copies the buffer into an image.NRGBA, which shares the same
// interleaved layout.
func (r *RasterImage) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, r.W, r.H))
	copy(out.Pix, r.Pix)
	return out
}

func (r *RasterImage) Clone() *RasterImage {
	out := NewRasterImage(r.W, r.H)
	copy(out.Pix, r.Pix)
	return out
}

func (r *RasterImage) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.NRGBA()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// crop copies the w×h window at (x0, y0) into a new image.
func (r *RasterImage) crop(x0, y0, w, h int) *RasterImage {
	out := NewRasterImage(w, h)
	for y := 0; y < h; y++ {
		srcOff := pixOffset(r.W, x0, y0+y)
		dstOff := pixOffset(w, 0, y)
		copy(out.Pix[dstOff:dstOff+w*4], r.Pix[srcOff:srcOff+w*4])
	}
	return out
}
