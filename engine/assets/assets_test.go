package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLibraryLoadsBlobsRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "standard.vert.spv"), []byte{1, 2, 3, 4})
	writeFile(t, filepath.Join(dir, "post", "tonemap.comp.spv"), []byte{5, 6, 7, 8})
	writeFile(t, filepath.Join(dir, "README.md"), []byte("not a shader"))
	writeFile(t, filepath.Join(dir, "empty.frag.spv"), nil)

	lib, err := NewShaderLibrary(dir, false)
	require.NoError(t, err)
	defer lib.Close()

	assert.Equal(t, []string{"standard.vert", "tonemap.comp"}, lib.Names())
	blob, err := lib.Get("standard.vert")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, blob)

	info, ok := lib.Info("tonemap.comp")
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, uint64(4), info.Size)

	_, err = lib.Get("missing")
	assert.ErrorIs(t, err, ErrShaderNotFound)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestMissingDirectoryIsEmpty(t *testing.T) {
	lib, err := NewShaderLibrary(filepath.Join(t.TempDir(), "nope"), true)
	require.NoError(t, err)
	assert.Empty(t, lib.Names())
	require.NoError(t, lib.Close())
}

func TestPutNotifiesOnReplace(t *testing.T) {
	lib := NewMemoryShaderLibrary()
	var calls atomic.Int32
	lib.OnReload(func(name string, version uint64) {
		assert.Equal(t, "a", name)
		assert.Equal(t, uint64(2), version)
		calls.Add(1)
	})
	lib.Put("a", []byte{1})
	assert.Equal(t, int32(0), calls.Load())
	lib.Put("a", []byte{2})
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "standard.frag.spv")
	writeFile(t, path, []byte{1, 1, 1, 1})

	lib, err := NewShaderLibrary(dir, true)
	require.NoError(t, err)
	defer lib.Close()

	reloaded := make(chan uint64, 8)
	lib.OnReload(func(name string, version uint64) {
		if name != "standard.frag" {
			return
		}
		select {
		case reloaded <- version:
		default:
		}
	})

	writeFile(t, path, []byte{2, 2, 2, 2})
	select {
	case v := <-reloaded:
		assert.GreaterOrEqual(t, v, uint64(2))
	case <-time.After(5 * time.Second):
		t.Fatal("shader was not reloaded")
	}
	assert.Eventually(t, func() bool {
		blob, err := lib.Get("standard.frag")
		return err == nil && blob[0] == 2
	}, 5*time.Second, 10*time.Millisecond)

	// new blobs in new directories are picked up too
	writeFile(t, filepath.Join(dir, "extra", "late.comp.spv"), []byte{9, 9, 9, 9})
	assert.Eventually(t, func() bool {
		_, err := lib.Get("late.comp")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, err := lib.Get("standard.frag")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLoadTexture(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(dir, "albedo.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	lib := NewMemoryShaderLibrary()
	decoded, err := lib.LoadTexture(filepath.Join(dir, "albedo.png"))
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.Bounds().Dx())
	assert.Equal(t, 2, decoded.Bounds().Dy())

	_, err = lib.LoadTexture(filepath.Join(dir, "albedo.exr"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = lib.LoadTexture(filepath.Join(dir, "standard.spv"))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	writeFile(t, filepath.Join(dir, "broken.png"), []byte("garbage"))
	_, err = lib.LoadTexture(filepath.Join(dir, "broken.png"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
