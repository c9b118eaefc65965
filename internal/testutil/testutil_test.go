package testutil

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoFile(t *testing.T) {
	path := RepoFile(t, "go.mod")
	assert.Equal(t, "go.mod", filepath.Base(path))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "nested/medicines.csv", []byte(MedicinesCSV))
	assert.Equal(t, filepath.Join(dir, "nested", "medicines.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, MedicinesCSV, string(data))
}

func TestTextImage(t *testing.T) {
	img := TextImage(DefaultTextImageConfig())
	assert.Equal(t, MediumSize.Width, img.Bounds().Dx())
	assert.Equal(t, MediumSize.Height, img.Bounds().Dy())

	gray := image.NewGray(img.Bounds())
	for y := range img.Bounds().Dy() {
		for x := range img.Bounds().Dx() {
			gray.Set(x, y, img.At(x, y))
		}
	}
	assert.Positive(t, InkCount(gray))
}

func TestRotatedBarGrowsCanvas(t *testing.T) {
	assert.Equal(t, 100, RotatedBar(100, 60, 10, 0).Bounds().Dx())
	assert.Greater(t, RotatedBar(100, 60, 10, 10).Bounds().Dx(), 100)
}

func TestGrayDiff(t *testing.T) {
	a := image.NewGray(image.Rect(0, 0, 2, 2))
	b := image.NewGray(image.Rect(0, 0, 2, 2))
	b.SetGray(0, 0, color.Gray{Y: 255})
	assert.InDelta(t, 0.25, GrayDiff(a, b), 1e-9)
	assert.InDelta(t, 1, GrayDiff(a, image.NewGray(image.Rect(0, 0, 1, 1))), 1e-9)
}
