package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/types"
)

func TestComputeFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height int
		floor         int
		want          int
	}{
		{"documented example", 800, 600, 120, 4},
		{"already below floor", 100, 100, 120, 1},
		{"exactly twice the floor", 240, 240, 120, 2},
		{"just under twice the floor", 239, 240, 120, 1},
		{"limited by smaller side", 4000, 300, 120, 2},
		{"large square", 4096, 4096, 128, 32},
		{"floor of one", 1024, 1, 1, 1},
		{"zero floor", 800, 600, 0, 1},
		{"zero size", 0, 600, 120, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFactor(tt.width, tt.height, tt.floor)
			assert.Equal(t, tt.want, got)
			if got > 1 {
				assert.GreaterOrEqual(t, tt.width/got, tt.floor)
				assert.GreaterOrEqual(t, tt.height/got, tt.floor)
			}
		})
	}
}

func TestPolicyFactor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, DefaultPolicy().Factor(800, 600))
	assert.Equal(t, 4, Policy{LimitSize: true, SizeLimit: 120}.Factor(800, 600))
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return buf.Bytes()
}

func TestImageDecoder_Probe(t *testing.T) {
	t.Parallel()

	d := NewImageDecoder()
	w, h, err := d.Probe(encodePNG(t, 40, 30))
	require.NoError(t, err)
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)

	_, _, err = d.Probe([]byte("definitely not an image"))
	assert.True(t, errors.IsDecode(err))
}

func TestImageDecoder_Decode(t *testing.T) {
	t.Parallel()

	d := NewImageDecoder()
	data := encodePNG(t, 64, 32)

	full, err := d.Decode(data, 1)
	require.NoError(t, err)
	assert.Equal(t, 64, full.Width)
	assert.Equal(t, 32, full.Height)
	assert.Equal(t, 1, full.Factor)
	assert.Equal(t, int64(64*32*4), full.SizeBytes)

	half, err := d.Decode(data, 4)
	require.NoError(t, err)
	assert.Equal(t, 16, half.Width)
	assert.Equal(t, 8, half.Height)
	assert.Equal(t, 4, half.Factor)
	assert.Equal(t, image.Rect(0, 0, 16, 8), half.Pixels.Bounds())

	tiny, err := d.Decode(data, 128)
	require.NoError(t, err)
	assert.Equal(t, 1, tiny.Width)
	assert.Equal(t, 1, tiny.Height)
}

func TestImageDecoder_DecodeJPEG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 10)), nil))

	got, err := NewImageDecoder().Decode(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Width)
	assert.Equal(t, 1, got.Factor)
}

func TestImageDecoder_DecodeGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewImageDecoder().Decode([]byte{0x89, 'P', 'N', 'G', 0, 0}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsDecode(err))
}

type countingDecoder struct {
	types.Decoder
	probes  int
	factors []int
}

func (c *countingDecoder) Probe(data []byte) (int, int, error) {
	c.probes++
	return c.Decoder.Probe(data)
}

func (c *countingDecoder) Decode(data []byte, factor int) (*types.Image, error) {
	c.factors = append(c.factors, factor)
	return c.Decoder.Decode(data, factor)
}

func TestDecodeWithPolicy(t *testing.T) {
	t.Parallel()

	data := encodePNG(t, 800, 600)

	t.Run("size limiting disabled skips probe", func(t *testing.T) {
		d := &countingDecoder{Decoder: NewImageDecoder()}
		got, err := DecodeWithPolicy(d, DefaultPolicy(), data)
		require.NoError(t, err)
		assert.Equal(t, 0, d.probes)
		assert.Equal(t, []int{1}, d.factors)
		assert.Equal(t, 800, got.Width)
	})

	t.Run("size limiting applies computed factor", func(t *testing.T) {
		d := &countingDecoder{Decoder: NewImageDecoder()}
		got, err := DecodeWithPolicy(d, Policy{LimitSize: true, SizeLimit: 120}, data)
		require.NoError(t, err)
		assert.Equal(t, 1, d.probes)
		assert.Equal(t, []int{4}, d.factors)
		assert.Equal(t, 200, got.Width)
		assert.Equal(t, 150, got.Height)
	})

	t.Run("probe failure is a decode error", func(t *testing.T) {
		_, err := DecodeWithPolicy(NewImageDecoder(), Policy{LimitSize: true, SizeLimit: 120}, []byte("junk"))
		assert.True(t, errors.IsDecode(err))
	})
}
