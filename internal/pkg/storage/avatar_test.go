package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessAvatarCropsToSquareJPEG(t *testing.T) {
	out, err := ProcessAvatar(bytes.NewReader(pngBytes(t, 640, 300)))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, AvatarSize, img.Bounds().Dx())
	assert.Equal(t, AvatarSize, img.Bounds().Dy())
}

func TestProcessAvatarRejectsGarbage(t *testing.T) {
	_, err := ProcessAvatar(strings.NewReader("definitely not an image"))
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestLocalStoreSave(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "/uploads/avatars")

	jpeg, err := ProcessAvatar(bytes.NewReader(pngBytes(t, 32, 32)))
	require.NoError(t, err)

	url, err := store.Save(context.Background(), 12, jpeg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/avatars/12/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	path := filepath.Join(dir, strings.TrimPrefix(url, "/uploads/avatars/"))
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = imaging.Decode(bytes.NewReader(saved))
	assert.NoError(t, err)
}
