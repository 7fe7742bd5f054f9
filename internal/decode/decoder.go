package decode

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/types"
)

// bytesPerPixel is the footprint of one RGBA pixel.
const bytesPerPixel = 4

// ImageDecoder decodes PNG, JPEG, GIF and WebP data.
type ImageDecoder struct {
	// Scaler resamples images when the factor is above 1.
	// Defaults to draw.ApproxBiLinear.
	Scaler draw.Scaler
}

// NewImageDecoder creates a decoder with the default scaler.
func NewImageDecoder() *ImageDecoder {
	return &ImageDecoder{Scaler: draw.ApproxBiLinear}
}

// Probe reads the image header and returns its dimensions.
func (d *ImageDecoder) Probe(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, errors.Decode(err).WithComponent("decode").WithOperation("probe")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, errors.NewError(errors.ErrCodeDecode, "image has no pixels").
			WithComponent("decode").
			WithOperation("probe")
	}
	return cfg.Width, cfg.Height, nil
}

// Decode decodes data and shrinks it by factor in each dimension.
func (d *ImageDecoder) Decode(data []byte, factor int) (*types.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Decode(err).WithComponent("decode").WithOperation("decode")
	}
	if factor < 1 {
		factor = 1
	}

	bounds := src.Bounds()
	if factor == 1 {
		return newImage(src, bounds.Dx(), bounds.Dy(), 1), nil
	}

	w := max(bounds.Dx()/factor, 1)
	h := max(bounds.Dy()/factor, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	scaler := d.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	return newImage(dst, w, h, factor), nil
}

func newImage(pixels image.Image, w, h, factor int) *types.Image {
	return &types.Image{
		Pixels:    pixels,
		Width:     w,
		Height:    h,
		Factor:    factor,
		SizeBytes: int64(w) * int64(h) * bytesPerPixel,
	}
}

// DecodeWithPolicy probes data, picks a factor with policy, and decodes.
func DecodeWithPolicy(decoder types.Decoder, policy Policy, data []byte) (*types.Image, error) {
	factor := 1
	if policy.LimitSize {
		w, h, err := decoder.Probe(data)
		if err != nil {
			return nil, err
		}
		factor = policy.Factor(w, h)
	}
	return decoder.Decode(data, factor)
}
