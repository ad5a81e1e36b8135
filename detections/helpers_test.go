package detections

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// writePNG writes a w x h image filled with c and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, dir, name, img)
}

func encodePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-5
}

// slot builds one decoder slot.
func slot(cx, cy, w, h, objectness float32, classes ...float32) []float32 {
	return append([]float32{cx, cy, w, h, objectness}, classes...)
}

// rawOutput stacks slots into a [1, N, stride] output.
func rawOutput(slots ...[]float32) RawOutput {
	var data []float32
	for _, s := range slots {
		data = append(data, s...)
	}
	stride := int64(0)
	if len(slots) > 0 {
		stride = int64(len(slots[0]))
	}
	return RawOutput{Data: data, Shape: []int64{1, int64(len(slots)), stride}}
}

func isMockLabel(label string) bool {
	for _, l := range MockLabels {
		if l == label {
			return true
		}
	}
	return false
}
