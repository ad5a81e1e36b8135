package models

import "time"

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width*height.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// AdvisoryRecord is the storage guidance attached to a detected label.
type AdvisoryRecord struct {
	Storage         string  `json:"storage"`
	ShelfLife       int     `json:"shelf_life"`
	Tips            string  `json:"tips"`
	SignsOfSpoilage string  `json:"signs_of_spoilage"`
	Status          string  `json:"status"`
	WasteDisposal   *string `json:"waste_disposal"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Suppression time.Duration
	Total       time.Duration
}
