package isoi

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

func writeImages(t *testing.T, dir string) {
	t.Helper()
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 10)
	}
	raw, err := os.Create(filepath.Join(dir, RawImageFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(raw, gray, nil); err != nil {
		t.Fatal(err)
	}
	raw.Close()

	rgba := image.NewRGBA(image.Rect(0, 0, 5, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 5; x++ {
			rgba.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	processed, err := os.Create(filepath.Join(dir, ProcessedImageFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(processed, rgba, nil); err != nil {
		t.Fatal(err)
	}
	processed.Close()
}

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir)

	layer, _ := metadata.DatasetDefaults("zempolich_2024")
	md, err := metadata.Resolve(metadata.Base(), layer)
	if err != nil {
		t.Fatal(err)
	}
	i, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := nwb.NewFile("id", "session", time.Now())
	if err := i.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	m, ok := f.Module("intrinsic_signal_optical_imaging")
	if !ok {
		t.Fatalf("Expected imaging module")
	}
	o, ok := m.Get("Images")
	if !ok {
		t.Fatalf("Expected Images container")
	}
	images := o.(*nwb.Images)
	if len(images.Images) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(images.Images))
	}
	raw := images.Images[0]
	if raw.Name != "BloodvesselPattern" || raw.RGB() {
		t.Errorf("Expected grayscale BloodvesselPattern, got %s rgb=%v", raw.Name, raw.RGB())
	}
	if s := raw.Data.Shape(); s[0] != 3 || s[1] != 4 {
		t.Errorf("Expected shape [3 4], got %v", s)
	}
	pix := raw.Data.(*nwb.Array[uint8]).Values
	if pix[5] != 50 {
		t.Errorf("Expected pixel 50, got %d", pix[5])
	}
	processed := images.Images[1]
	if !processed.RGB() {
		t.Errorf("Expected RGB processed image, got shape %v", processed.Data.Shape())
	}
	if _, ok := f.Device("IntrinsicSignalCamera"); !ok {
		t.Errorf("Expected imaging camera device")
	}
}

func TestNew_MissingImage(t *testing.T) {
	if _, err := New(t.TempDir(), nil); err == nil {
		t.Errorf("Expected error for empty folder")
	}
}
