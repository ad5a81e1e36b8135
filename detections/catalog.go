package detections

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Catalog maps model class indices to labels. It is read-only after
// construction and shared by all requests.
type Catalog struct {
	labels []string
}

// FoodClasses is the label order the food freshness model was trained with.
var FoodClasses = []string{
	"Fresh_Apple", "Fresh_Banana", "Fresh_Potato", "Fresh_Carrot", "Fresh_Orange",
	"Fresh_Beef", "Fresh_Chicken", "Fresh_Pork", "Fresh_Manggo", "Fresh_Pepper",
	"Fresh_Cucumber", "Fresh_Strawberry", "Fresh_Okra",
	"Rotten_Apple", "Rotten_Banana", "Rotten_Potato", "Rotten_Carrot", "Rotten_Orange",
	"Rotten_Beef", "Rotten_Chicken", "Rotten_Pork", "Rotten_Manggo", "Rotten_Pepper",
	"Rotten_Cucumber", "Rotten_Strawberry", "Rotten_Okra",
}

// MockLabels is the subset the mock generator draws from.
var MockLabels = []string{
	"Fresh_Apple", "Fresh_Banana", "Fresh_Carrot", "Fresh_Orange",
	"Rotten_Apple", "Rotten_Banana", "Rotten_Potato", "Rotten_Chicken",
}

func NewCatalog(labels []string) Catalog {
	return Catalog{labels: append([]string(nil), labels...)}
}

// DefaultCatalog returns the built-in food catalog.
func DefaultCatalog() Catalog {
	return NewCatalog(FoodClasses)
}

// LoadCatalog reads one label per line. Blank lines are skipped.
func LoadCatalog(file string) (Catalog, error) {
	f, err := os.Open(file)
	if err != nil {
		return Catalog{}, fmt.Errorf("error opening labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return Catalog{}, fmt.Errorf("error reading labels file: %w", err)
	}
	if len(labels) == 0 {
		return Catalog{}, fmt.Errorf("labels file %s is empty", file)
	}

	return NewCatalog(labels), nil
}

// Label returns the label for index, or class_<index> when the catalog has
// no entry for it.
func (c Catalog) Label(index int) string {
	if index >= 0 && index < len(c.labels) {
		return c.labels[index]
	}
	return fmt.Sprintf("class_%d", index)
}

func (c Catalog) Len() int {
	return len(c.labels)
}
