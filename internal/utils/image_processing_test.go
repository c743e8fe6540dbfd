package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLetterbox_PreservesAspectAndUnmaps(t *testing.T) {
	img := solidImage(200, 100, color.White)

	canvas, info, err := Letterbox(img, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, canvas.Bounds().Dx())
	assert.Equal(t, 64, canvas.Bounds().Dy())
	assert.InDelta(t, 0.32, info.Scale, 1e-9)
	assert.Equal(t, 0, info.PadX)
	assert.Equal(t, 16, info.PadY)

	x, y := info.Unmap(32, 32)
	assert.InDelta(t, 100.0, x, 1e-6)
	assert.InDelta(t, 50.0, y, 1e-6)
}

func TestLetterbox_Errors(t *testing.T) {
	_, _, err := Letterbox(nil, 64)
	require.Error(t, err)

	_, _, err = Letterbox(solidImage(4, 4, color.White), 0)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "letterbox", ipe.Operation)
}

func TestNormalizeImage_PlanarLayout(t *testing.T) {
	img := solidImage(2, 1, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	data, w, h, err := NormalizeImage(img)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1, h)
	require.Len(t, data, 6)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 0.0, data[2], 1e-6)
	assert.InDelta(t, 0.2, data[4], 1e-6)
}

func TestCrop(t *testing.T) {
	img := solidImage(10, 10, color.Black)
	c := Crop(img, image.Rect(2, 2, 6, 8))
	require.NotNil(t, c)
	assert.Equal(t, 4, c.Bounds().Dx())
	assert.Equal(t, 6, c.Bounds().Dy())

	assert.Nil(t, Crop(img, image.Rect(20, 20, 30, 30)))
}

func TestEqualizeGray(t *testing.T) {
	t.Run("flat image stays flat", func(t *testing.T) {
		out := EqualizeGray(solidImage(4, 4, color.Gray{Y: 80}))
		for _, v := range out.Pix {
			assert.Equal(t, uint8(80), v)
		}
	})

	t.Run("two levels stretch to full range", func(t *testing.T) {
		img := solidImage(4, 2, color.Gray{Y: 100})
		for x := range 4 {
			img.Set(x, 1, color.Gray{Y: 120})
		}
		out := EqualizeGray(img)
		assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
		assert.Equal(t, uint8(255), out.GrayAt(0, 1).Y)
	})
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(3, 2, color.White)))

	img, format, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, _, err = DecodeImage([]byte("definitely not an image"))
	require.Error(t, err)

	_, _, err = DecodeImage(nil)
	require.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shelf.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(5, 4, color.White)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 4, meta.Height)

	_, _, err = LoadImage(filepath.Join(dir, "shelf.tiff"))
	require.Error(t, err)
}

func TestSniffContentType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(1, 1, color.White)))
	assert.Equal(t, "image/png", SniffContentType(buf.Bytes()))
	assert.True(t, AllowedUploadTypes[SniffContentType(buf.Bytes())])
	assert.False(t, AllowedUploadTypes[SniffContentType([]byte("%PDF-1.4"))])
}

func TestIsSupportedImage(t *testing.T) {
	cases := map[string]bool{
		"a.jpg": true, "b.JPEG": true, "c.png": true, "d.bmp": true,
		"e.webp": true, "f.gif": true, "g.tiff": false, "h": false,
	}
	for path, ok := range cases {
		assert.Equal(t, ok, IsSupportedImage(path), path)
	}
}
