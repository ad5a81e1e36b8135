package detections

import "time"

const (
	DefaultInputSize        = 640
	DefaultConfThreshold    = 0.5
	DefaultNMSThreshold     = 0.4
	DefaultInferenceTimeout = 10 * time.Second
	DefaultPoolSize         = 1
	AcquireTimeout          = 5 * time.Second

	// boxParams is cx, cy, w, h, objectness ahead of the class scores.
	boxParams = 5
	channels  = 3
)
