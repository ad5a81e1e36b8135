package detections

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Tutortoise/freshtrack-service/models"
)

// MockGenerator synthesizes detections with the same shape and value
// ranges as live output. It is safe for concurrent use.
type MockGenerator struct {
	labels []string
	mu     sync.Mutex
	rng    *rand.Rand
}

func NewMockGenerator(labels []string, seed int64) *MockGenerator {
	if len(labels) == 0 {
		labels = MockLabels
	}
	return &MockGenerator{
		labels: append([]string(nil), labels...),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NewRandomMockGenerator seeds from the clock.
func NewRandomMockGenerator(labels []string) *MockGenerator {
	return NewMockGenerator(labels, time.Now().UnixNano())
}

// Generate returns 1 to 3 detections. Confidence is in [0.8, 1.0), x and y
// in [0, 0.6), width and height in [0.1, 0.3).
func (g *MockGenerator) Generate() []models.Detection {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := g.rng.Intn(3) + 1
	detections := make([]models.Detection, 0, count)
	for i := 0; i < count; i++ {
		detections = append(detections, models.Detection{
			Label:      g.labels[g.rng.Intn(len(g.labels))],
			Confidence: 0.8 + g.rng.Float64()*0.2,
			BBox: models.BoundingBox{
				X:      g.rng.Float64() * 0.6,
				Y:      g.rng.Float64() * 0.6,
				Width:  0.1 + g.rng.Float64()*0.2,
				Height: 0.1 + g.rng.Float64()*0.2,
			},
		})
	}

	return detections
}
