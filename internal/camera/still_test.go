package camera

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestStillSource_Sequence(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 1, 1))
	b := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src := NewStillSource(a, b)

	for i, want := range []image.Image{a, b} {
		got, err := src.Read()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("Read %d returned unexpected frame", i)
		}
	}

	if _, err := src.Read(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Expected ErrEndOfStream, got %v", err)
	}
}

func TestStillSource_Loop(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src := NewStillSource(a)
	src.Loop = true

	for i := 0; i < 5; i++ {
		if _, err := src.Read(); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
	}
}

func TestStillSource_Close(t *testing.T) {
	src := NewStillSource(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	_ = src.Close()

	if !src.Closed() {
		t.Error("Expected source to report closed")
	}
	if _, err := src.Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestStillOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, createTestJPEG(), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	src, err := StillOpener(path)(context.Background())
	if err != nil {
		t.Fatalf("StillOpener failed: %v", err)
	}
	defer src.Close()

	img, err := src.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if img.Bounds().Dx() != 100 {
		t.Errorf("Expected width 100, got %d", img.Bounds().Dx())
	}
}

func TestStillOpener_Missing(t *testing.T) {
	if _, err := StillOpener(filepath.Join(t.TempDir(), "missing.jpg"))(context.Background()); err == nil {
		t.Error("Expected error for missing file")
	}
}
