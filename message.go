package main

import (
	"fmt"

	"github.com/Tutortoise/freshtrack-service/storage"
)

const (
	MsgNoItems = "We couldn't recognize any food items in the photo. Try a closer, well-lit shot with the items clearly visible."

	MsgAllFresh = "Everything looks fresh! Check the storage tips below to keep your food at its best for longer."

	MsgRottenFound = "We found %d spoiled item(s). Please dispose of them safely and keep them away from your fresh food."
)

func getDetectionMessage(dets []EnrichedDetection) string {
	if len(dets) == 0 {
		return MsgNoItems
	}

	rotten := 0
	for _, d := range dets {
		if d.Storage.Status == storage.StatusRotten {
			rotten++
		}
	}
	if rotten > 0 {
		return fmt.Sprintf(MsgRottenFound, rotten)
	}
	return MsgAllFresh
}
