package detect

import "math"

// Size filters to avoid false positives on small or distant blobs.
const (
	personClassName     = "person"
	personMinConfidence = 0.55
	minPersonHeight     = 100 // minimum height in pixels
	minPersonWidth      = 40  // minimum width in pixels
	minPersonArea       = 8000
)

// ApplyFilters reduces raw engine output to the persons that pass the
// filtering policy: class "person", confidence >= 0.55, height >= 100px,
// width >= 40px, area >= 8000px². Survivors get sequential 1-based IDs in
// detection order and confidences rounded to 2 decimals.
func ApplyFilters(raws []RawDetection) []Person {
	persons := make([]Person, 0, len(raws))

	for _, raw := range raws {
		if raw.ClassName != personClassName {
			continue
		}
		if raw.Confidence < personMinConfidence {
			continue
		}
		if raw.BBox.Height() < minPersonHeight || raw.BBox.Width() < minPersonWidth || raw.BBox.Area() < minPersonArea {
			continue
		}

		persons = append(persons, Person{
			ID:         len(persons) + 1,
			Confidence: math.Round(raw.Confidence*100) / 100,
			BBox:       raw.BBox,
		})
	}

	return persons
}

// AvgConfidence returns the mean confidence of the given persons, or 0
// when the slice is empty.
func AvgConfidence(persons []Person) float64 {
	if len(persons) == 0 {
		return 0
	}
	var sum float64
	for _, p := range persons {
		sum += p.Confidence
	}
	return sum / float64(len(persons))
}
