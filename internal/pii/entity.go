package pii

// Entity is one detected PII span in the analyzed text. Offset and Length
// are UTF-16 code units, as reported by the language service, not bytes.
type Entity struct {
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	Subcategory     string  `json:"subcategory,omitempty"`
	ConfidenceScore float64 `json:"confidenceScore"`
	Offset          int     `json:"offset"`
	Length          int     `json:"length"`
}

// Label returns the bracketed placeholder an entity is replaced with.
func (e Entity) Label() string {
	if e.Subcategory != "" {
		return "[" + e.Category + ":" + e.Subcategory + "]"
	}
	return "[" + e.Category + "]"
}

// FilterConfidence returns the entities scoring at or above min. The input
// slice is never modified. A min of zero returns the input unchanged.
func FilterConfidence(entities []Entity, min float64) []Entity {
	if min <= 0 {
		return entities
	}
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.ConfidenceScore >= min {
			out = append(out, e)
		}
	}
	return out
}
