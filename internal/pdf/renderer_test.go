package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestOrderedPageFiles(t *testing.T) {
	dir := t.TempDir()
	names := []string{"page-03.jpg", "page-01.jpg", "page-02.jpg", "other.txt", "page-01.ppm"}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got, err := orderedPageFiles(dir, "page")
	if err != nil {
		t.Fatalf("orderedPageFiles: %v", err)
	}
	want := []string{"page-01.jpg", "page-02.jpg", "page-03.jpg"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestImageSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	w, h, err := ImageSize(buf.Bytes())
	if err != nil {
		t.Fatalf("ImageSize: %v", err)
	}
	if w != 320 || h != 180 {
		t.Errorf("size = %dx%d, want 320x180", w, h)
	}

	if _, _, err := ImageSize([]byte("not an image")); err == nil {
		t.Error("expected error for invalid data")
	}
}

func TestNewRendererDefaultsDPI(t *testing.T) {
	if r := NewRenderer(0); r.DPI != 120 {
		t.Errorf("DPI = %d, want 120", r.DPI)
	}
	if r := NewRenderer(200); r.DPI != 200 {
		t.Errorf("DPI = %d, want 200", r.DPI)
	}
}
