package detections

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/freshtrack-service/models"
	"github.com/sirupsen/logrus"
)

// Mode is fixed for the lifetime of a Pipeline.
type Mode int

const (
	ModeMock Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "mock"
}

type Config struct {
	Engine        EngineConfig
	Catalog       Catalog
	MockLabels    []string
	ConfThreshold float64
	NMSThreshold  float64
	// BoxCoordsPixels means the model reports boxes in input pixels.
	BoxCoordsPixels bool
}

// Stats are monotonically increasing request counters.
type Stats struct {
	Requests  int64 `json:"requests"`
	Live      int64 `json:"live"`
	Mock      int64 `json:"mock"`
	Fallbacks int64 `json:"fallbacks"`
}

// Result is the outcome of one request. Source is the path that produced
// Detections, which is ModeMock for a live pipeline that fell back.
type Result struct {
	Detections []models.Detection
	Source     Mode
	Fallback   bool
}

// Pipeline owns the resolved mode, the engine and the catalog. It is built
// once at startup and shared by all requests.
type Pipeline struct {
	mode         Mode
	availability Availability
	engine       Engine
	catalog      Catalog
	mock         *MockGenerator
	log          logrus.FieldLogger

	inputSize    int
	decode       DecodeParams
	nmsThreshold float64

	requests  atomic.Int64
	live      atomic.Int64
	mocked    atomic.Int64
	fallbacks atomic.Int64
}

// New resolves the mode through Initialize and returns a ready pipeline.
func New(cfg Config, log logrus.FieldLogger) *Pipeline {
	availability, engine := Initialize(cfg.Engine, log)
	return newPipeline(cfg, availability, engine, NewRandomMockGenerator(cfg.MockLabels), log)
}

func newPipeline(cfg Config, availability Availability, engine Engine, mock *MockGenerator, log logrus.FieldLogger) *Pipeline {
	size := cfg.Engine.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}
	confThreshold := cfg.ConfThreshold
	if confThreshold <= 0 {
		confThreshold = DefaultConfThreshold
	}
	nmsThreshold := cfg.NMSThreshold
	if nmsThreshold <= 0 {
		nmsThreshold = DefaultNMSThreshold
	}
	catalog := cfg.Catalog
	if catalog.Len() == 0 {
		catalog = DefaultCatalog()
	}
	coordScale := float32(1)
	if cfg.BoxCoordsPixels {
		coordScale = float32(size)
	}

	mode := ModeMock
	if availability == Ready && engine != nil {
		mode = ModeLive
	}

	p := &Pipeline{
		mode:         mode,
		availability: availability,
		engine:       engine,
		catalog:      catalog,
		mock:         mock,
		log:          log,
		inputSize:    size,
		decode: DecodeParams{
			ConfThreshold: float32(confThreshold),
			CoordScale:    coordScale,
		},
		nmsThreshold: nmsThreshold,
	}

	log.WithFields(logrus.Fields{
		"mode":         mode.String(),
		"availability": availability.String(),
	}).Info("Detection pipeline initialized")
	return p
}

func (p *Pipeline) Mode() Mode {
	return p.mode
}

func (p *Pipeline) Availability() Availability {
	return p.availability
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Requests:  p.requests.Load(),
		Live:      p.live.Load(),
		Mock:      p.mocked.Load(),
		Fallbacks: p.fallbacks.Load(),
	}
}

// PoolMetrics reports session pool metrics when a live engine exposes them.
func (p *Pipeline) PoolMetrics() (PoolSnapshot, bool) {
	if m, ok := p.engine.(interface{ Metrics() PoolSnapshot }); ok {
		return m.Metrics(), true
	}
	return PoolSnapshot{}, false
}

func (p *Pipeline) Close() error {
	if p.engine == nil {
		return nil
	}
	return p.engine.Close()
}

// ProcessImage detects food items in the image at path and removes the file
// before returning. Live-path failures degrade to mock output; only a
// missing path or a cancelled ctx is returned as an error.
func (p *Pipeline) ProcessImage(ctx context.Context, path string) (Result, error) {
	if path == "" {
		return Result{}, ErrNoImage
	}
	defer p.cleanup(path)

	p.requests.Add(1)
	timings := &models.ProcessingTimings{RequestID: fmt.Sprintf("%d", time.Now().UnixNano())}
	start := time.Now()
	defer func() {
		timings.Total = time.Since(start)
		p.logTimings(timings)
	}()

	if p.mode == ModeMock {
		p.mocked.Add(1)
		return Result{Detections: p.mock.Generate(), Source: ModeMock}, nil
	}

	detections, err := p.detectLive(ctx, path, timings)
	if err == nil {
		p.live.Add(1)
		return Result{Detections: detections, Source: ModeLive}, nil
	}

	// The caller went away; there is nobody to serve a fallback to.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	p.fallbacks.Add(1)
	p.mocked.Add(1)
	p.log.WithFields(logrus.Fields{
		"request_id": timings.RequestID,
		"stage":      stageOf(err),
		"path":       path,
	}).WithError(err).Warn("Live detection failed, falling back to mock detections")

	return Result{Detections: p.mock.Generate(), Source: ModeMock, Fallback: true}, nil
}

func (p *Pipeline) detectLive(ctx context.Context, path string, timings *models.ProcessingTimings) ([]models.Detection, error) {
	decodeStart := time.Now()
	img, err := loadImage(path)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, err
	}

	resizeStart := time.Now()
	resized := resize(img, p.inputSize)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	tensor := packTensor(resized)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	raw, err := p.engine.Infer(ctx, tensor)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, err
	}

	postStart := time.Now()
	candidates, err := Decode(raw, p.catalog, p.decode)
	timings.Postprocess = time.Since(postStart)
	if err != nil {
		return nil, err
	}

	nmsStart := time.Now()
	kept := Suppress(candidates, p.nmsThreshold)
	timings.Suppression = time.Since(nmsStart)

	return kept, nil
}

func (p *Pipeline) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("path", path).Warn("Failed to remove processed image")
	}
}

func (p *Pipeline) logTimings(t *models.ProcessingTimings) {
	p.log.WithFields(logrus.Fields{
		"request_id":   t.RequestID,
		"mode":         p.mode.String(),
		"image_decode": t.ImageDecode,
		"resize":       t.Resize,
		"preprocess":   t.Preprocess,
		"inference":    t.Inference,
		"postprocess":  t.Postprocess,
		"suppression":  t.Suppression,
		"total":        t.Total,
	}).Debug("Processing times")
}
