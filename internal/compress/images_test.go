package compress

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/maneesh/pdfsqueeze/internal/pdftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReencodeJPEGShrinksHighQuality(t *testing.T) {
	raw := pdftest.JPEG(400, 300, 100, false)

	out, w, h, ok := reencodeJPEG(raw, 75, 2000)
	require.True(t, ok)
	assert.Less(t, len(out), len(raw))
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
}

func TestReencodeJPEGDownscales(t *testing.T) {
	raw := pdftest.JPEG(800, 400, 95, false)

	out, w, h, ok := reencodeJPEG(raw, 75, 200)
	require.True(t, ok)
	assert.Equal(t, 200, w)
	assert.Equal(t, 100, h)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
}

func TestReencodeJPEGKeepsGray(t *testing.T) {
	raw := pdftest.JPEG(600, 600, 100, true)

	out, _, _, ok := reencodeJPEG(raw, 60, 300)
	require.True(t, ok)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, isGray := img.(*image.Gray)
	assert.True(t, isGray)
}

func TestReencodeJPEGSkipsWhenNotSmaller(t *testing.T) {
	raw := pdftest.JPEG(200, 200, 20, false)

	_, _, _, ok := reencodeJPEG(raw, 95, 2000)
	assert.False(t, ok)
}

func TestReencodeJPEGRejectsGarbage(t *testing.T) {
	_, _, _, ok := reencodeJPEG([]byte("not a jpeg"), 75, 2000)
	assert.False(t, ok)
}
