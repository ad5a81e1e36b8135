package storage

import (
	"strings"
	"time"

	"github.com/Tutortoise/freshtrack-service/models"
	"github.com/sirupsen/logrus"
)

// Strategy resolves a normalized label to a record, or reports no match.
type Strategy interface {
	Name() string
	Match(store *Store, key string) (models.AdvisoryRecord, bool, error)
}

// ExactMatch looks the key up directly.
type ExactMatch struct{}

func (ExactMatch) Name() string { return "exact" }

func (ExactMatch) Match(store *Store, key string) (models.AdvisoryRecord, bool, error) {
	return store.Get(key)
}

// ContainsMatch returns the first stored key (in key order) that contains
// the label or is contained by it.
type ContainsMatch struct{}

func (ContainsMatch) Name() string { return "contains" }

func (ContainsMatch) Match(store *Store, key string) (models.AdvisoryRecord, bool, error) {
	if key == "" {
		return models.AdvisoryRecord{}, false, nil
	}
	entries, err := store.All()
	if err != nil {
		return models.AdvisoryRecord{}, false, err
	}
	for _, e := range entries {
		if strings.Contains(e.Item, key) || strings.Contains(key, e.Item) {
			return e.AdvisoryRecord, true, nil
		}
	}
	return models.AdvisoryRecord{}, false, nil
}

// Advisor answers "how should I store this?" for detected labels.
type Advisor struct {
	store      *Store
	strategies []Strategy
	log        logrus.FieldLogger
}

// NewAdvisor tries strategies in order; with none given it uses exact then
// contains matching.
func NewAdvisor(store *Store, log logrus.FieldLogger, strategies ...Strategy) *Advisor {
	if len(strategies) == 0 {
		strategies = []Strategy{ExactMatch{}, ContainsMatch{}}
	}
	return &Advisor{store: store, strategies: strategies, log: log}
}

// Lookup never fails: store errors are logged and the next strategy is
// tried, ending with UnknownAdvisory.
func (a *Advisor) Lookup(label string) models.AdvisoryRecord {
	key := NormalizeKey(label)
	for _, s := range a.strategies {
		rec, ok, err := s.Match(a.store, key)
		if err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"label":    label,
				"strategy": s.Name(),
			}).Warn("Advisory lookup failed")
			continue
		}
		if ok {
			return rec
		}
	}
	return UnknownAdvisory()
}

// RemainingLife is an advisory with the shelf life left since detection.
type RemainingLife struct {
	models.AdvisoryRecord
	RemainingLife int       `json:"remaining_life"`
	DetectionDate time.Time `json:"detection_date"`
	DaysElapsed   int       `json:"days_elapsed"`
}

// RemainingLife subtracts whole days elapsed since detectedAt from the
// shelf life, flooring at zero. A detection time in the future counts as
// zero days elapsed.
func (a *Advisor) RemainingLife(label string, detectedAt, now time.Time) RemainingLife {
	rec := a.Lookup(label)

	elapsed := int(now.Sub(detectedAt) / (24 * time.Hour))
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := rec.ShelfLife - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return RemainingLife{
		AdvisoryRecord: rec,
		RemainingLife:  remaining,
		DetectionDate:  detectedAt,
		DaysElapsed:    elapsed,
	}
}
