package dataset

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mental-cdss/internal/vision"
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestEnsureLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root, []string{"Depresi", "Normal"}))
	require.DirExists(t, filepath.Join(root, "train", "Depresi"))
	require.DirExists(t, filepath.Join(root, "train", "Normal"))
}

func TestDiscoverClassesLexicalOrder(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	writePNG(t, filepath.Join(train, "Normal", "b.png"), color.RGBA{A: 255})
	writePNG(t, filepath.Join(train, "Depresi", "a.png"), color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(train, "Depresi", "nested", "c.png"), color.RGBA{R: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(train, "Normal", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(train, ".cache"), 0o755))

	classes, err := DiscoverClasses(train)
	require.NoError(t, err)
	require.Equal(t, []string{"Depresi", "Normal"}, Names(classes))
	require.Len(t, classes[0].Files, 2)
	require.Len(t, classes[1].Files, 1)
	require.NoError(t, CheckClasses(classes))
}

func TestCheckClassesSingleClass(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	writePNG(t, filepath.Join(train, "Depresi", "a.png"), color.RGBA{A: 255})
	require.NoError(t, os.MkdirAll(filepath.Join(train, "Normal"), 0o755))

	classes, err := DiscoverClasses(train)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	require.ErrorIs(t, CheckClasses(classes), ErrInsufficientTrainingData)
}

func TestDiscoverClassesMissingDir(t *testing.T) {
	_, err := DiscoverClasses(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestLoaderBatches(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, filepath.Join(train, "Depresi", name), color.RGBA{R: uint8(80 * i), A: 255})
		writePNG(t, filepath.Join(train, "Normal", name), color.RGBA{G: uint8(80 * i), A: 255})
	}
	classes, err := DiscoverClasses(train)
	require.NoError(t, err)

	l, err := NewLoader(classes, vision.NewPreprocessor(16), 4, 1)
	require.NoError(t, err)
	require.Equal(t, 6, l.Len())
	require.Equal(t, 2, l.NumBatches())

	ctx := context.Background()
	first, err := l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first.Inputs, 4)
	require.Len(t, first.Inputs[0], 16*16*3)

	second, err := l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second.Inputs, 2)

	_, err = l.Next(ctx)
	require.ErrorIs(t, err, io.EOF)

	seen := map[int]int{}
	for _, lbl := range append(first.Labels, second.Labels...) {
		seen[lbl]++
	}
	require.Equal(t, map[int]int{0: 3, 1: 3}, seen)

	l.Reset()
	again, err := l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, again.Inputs, 4)
}

func TestLoaderCorruptImage(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	require.NoError(t, os.MkdirAll(filepath.Join(train, "Depresi"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(train, "Depresi", "bad.png"), []byte("nope"), 0o644))
	classes, err := DiscoverClasses(train)
	require.NoError(t, err)

	l, err := NewLoader(classes, vision.NewPreprocessor(16), 2, 1)
	require.NoError(t, err)
	_, err = l.Next(context.Background())
	require.ErrorIs(t, err, vision.ErrInvalidImage)
}

func TestLoaderOversizedImage(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	require.NoError(t, os.MkdirAll(filepath.Join(train, "Depresi"), 0o755))

	// PNG signature plus an IHDR declaring 60000x60000 RGBA.
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 60000)
	binary.BigEndian.PutUint32(ihdr[4:], 60000)
	ihdr[8], ihdr[9] = 8, 6
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	require.NoError(t, os.WriteFile(filepath.Join(train, "Depresi", "huge.png"), buf.Bytes(), 0o644))

	classes, err := DiscoverClasses(train)
	require.NoError(t, err)
	l, err := NewLoader(classes, vision.NewPreprocessor(16), 1, 1)
	require.NoError(t, err)
	_, err = l.Next(context.Background())
	require.ErrorIs(t, err, vision.ErrInvalidImage)
}

func TestLoaderCancelled(t *testing.T) {
	train := filepath.Join(t.TempDir(), "train")
	writePNG(t, filepath.Join(train, "Depresi", "a.png"), color.RGBA{A: 255})
	classes, err := DiscoverClasses(train)
	require.NoError(t, err)

	l, err := NewLoader(classes, vision.NewPreprocessor(16), 2, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
