package storage

import "github.com/Tutortoise/freshtrack-service/models"

const (
	StatusFresh   = "Fresh"
	StatusRotten  = "Rotten"
	StatusUnknown = "Unknown"
)

func strPtr(s string) *string {
	return &s
}

var (
	compostDisposal = strPtr("Compost if no mold, otherwise dispose in sealed bag in trash")
	meatDisposal    = strPtr("Double-bag in plastic and dispose in trash. Do not compost meat products.")
)

// UnknownAdvisory is returned for labels no stored record matches.
func UnknownAdvisory() models.AdvisoryRecord {
	return models.AdvisoryRecord{
		Storage:         "Store in cool, dry place",
		ShelfLife:       7,
		Tips:            "Check regularly for signs of spoilage",
		SignsOfSpoilage: "Mold, soft spots, off odor",
		Status:          StatusUnknown,
	}
}

func fresh(storage string, shelfLife int, tips, signs string) models.AdvisoryRecord {
	return models.AdvisoryRecord{
		Storage:         storage,
		ShelfLife:       shelfLife,
		Tips:            tips,
		SignsOfSpoilage: signs,
		Status:          StatusFresh,
	}
}

func rotten(signs string, disposal *string) models.AdvisoryRecord {
	return models.AdvisoryRecord{
		Storage:         "DISPOSE IMMEDIATELY",
		ShelfLife:       0,
		Tips:            "Do not consume - dispose safely",
		SignsOfSpoilage: signs,
		Status:          StatusRotten,
		WasteDisposal:   disposal,
	}
}

const coldMeat = "Refrigerate at 32-40°F (0-4°C)"

// DefaultAdvisories seeds an empty store, keyed by model label.
var DefaultAdvisories = map[string]models.AdvisoryRecord{
	"Fresh_Apple":      fresh("Refrigerate in crisper drawer", 14, "Store away from other fruits to prevent ripening", "Soft spots, mold, wrinkled skin"),
	"Fresh_Banana":     fresh("Store at room temperature until ripe, then refrigerate", 7, "Keep away from other fruits, wrap stem in plastic", "Black spots, mushy texture, strong odor"),
	"Fresh_Orange":     fresh("Store at room temperature or refrigerate", 14, "Store in mesh bag for air circulation", "Soft spots, mold, dry texture"),
	"Fresh_Manggo":     fresh("Store at room temperature until ripe, then refrigerate", 7, "Store away from other fruits", "Soft spots, mold, wrinkled skin"),
	"Fresh_Strawberry": fresh("Refrigerate in original container", 7, "Don't wash until ready to use", "Mold, soft spots, wrinkled skin"),
	"Fresh_Potato":     fresh("Store in cool, dark, dry place", 30, "Keep away from onions", "Green spots, soft spots, sprouting"),
	"Fresh_Carrot":     fresh("Refrigerate in plastic bag", 21, "Remove green tops before storing", "Soft texture, white spots, mold"),
	"Fresh_Pepper":     fresh("Refrigerate in plastic bag", 7, "Store in crisper drawer", "Soft spots, mold, wrinkled skin"),
	"Fresh_Cucumber":   fresh("Refrigerate in plastic bag", 7, "Store away from ethylene-producing fruits", "Soft spots, mold, wrinkled skin"),
	"Fresh_Okra":       fresh("Refrigerate in plastic bag", 7, "Store in high humidity drawer", "Soft texture, mold, wrinkled skin"),
	"Fresh_Beef":       fresh(coldMeat, 3, "Store on bottom shelf to prevent cross-contamination", "Gray color, slimy texture, strong odor"),
	"Fresh_Chicken":    fresh(coldMeat, 2, "Store on bottom shelf to prevent cross-contamination", "Gray color, slimy texture, strong odor"),
	"Fresh_Pork":       fresh(coldMeat, 3, "Store on bottom shelf to prevent cross-contamination", "Gray color, slimy texture, strong odor"),

	"Rotten_Apple":      rotten("Mold, soft spots, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Banana":     rotten("Black spots, mushy texture, strong odor", compostDisposal),
	"Rotten_Orange":     rotten("Mold, soft spots, dry texture, strong odor", compostDisposal),
	"Rotten_Manggo":     rotten("Mold, soft spots, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Strawberry": rotten("Mold, soft spots, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Potato":     rotten("Green spots, soft spots, mold, strong odor", compostDisposal),
	"Rotten_Carrot":     rotten("Soft texture, white spots, mold, strong odor", compostDisposal),
	"Rotten_Pepper":     rotten("Mold, soft spots, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Cucumber":   rotten("Mold, soft spots, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Okra":       rotten("Soft texture, mold, wrinkled skin, strong odor", compostDisposal),
	"Rotten_Beef":       rotten("Gray color, slimy texture, strong foul odor", meatDisposal),
	"Rotten_Chicken":    rotten("Gray color, slimy texture, strong foul odor", meatDisposal),
	"Rotten_Pork":       rotten("Gray color, slimy texture, strong foul odor", meatDisposal),
}
