package leafmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DiseaseEntry is one disease detected on a leaf. The model emits either a
// bare confidence number ({"black_rot": 0.93}) or a detail object
// ({"black_rot": {"confidence": 0.93, "treatment": "..."}}); both forms are
// coerced here at the boundary.
type DiseaseEntry struct {
	Name       string
	Confidence *float64
	Treatment  *string
}

// DiseaseList preserves the order in which diseases appear in the model's
// JSON object. Ordering matters: the first entry of the first leaf feeds the
// legacy single-disease columns.
type DiseaseList []DiseaseEntry

// UnmarshalJSON decodes a JSON object while keeping key order
func (d *DiseaseList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("diseases: expected JSON object, got %v", tok)
	}

	var entries DiseaseList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("diseases: unexpected key token %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		entry := DiseaseEntry{Name: name}

		// Detail object form
		var detail struct {
			Confidence *float64 `json:"confidence"`
			Treatment  *string  `json:"treatment"`
		}
		if err := json.Unmarshal(raw, &detail); err == nil && (detail.Confidence != nil || detail.Treatment != nil) {
			entry.Confidence = detail.Confidence
			entry.Treatment = detail.Treatment
		} else {
			// Bare number form
			var conf float64
			if err := json.Unmarshal(raw, &conf); err == nil {
				entry.Confidence = &conf
			}
		}

		entries = append(entries, entry)
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = entries
	return nil
}

// MarshalJSON re-serializes the list as a JSON object in original order
func (d DiseaseList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		detail := map[string]interface{}{}
		if entry.Confidence != nil {
			detail["confidence"] = *entry.Confidence
		}
		if entry.Treatment != nil {
			detail["treatment"] = *entry.Treatment
		}
		val, err := json.Marshal(detail)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// LeafRecord is one detected leaf region within an image. Every field is
// optional; the model omits visualization URLs when it cannot render them.
type LeafRecord struct {
	Image        *string     `json:"image"`
	Heatmap      *string     `json:"heatmap"`
	Overlay      *string     `json:"overlay"`
	AnomalyScore *float64    `json:"anomaly_score"`
	IsDiseased   *bool       `json:"is_diseased"`
	Diseases     DiseaseList `json:"diseases"`
}

// Summary carries the model's own leaf counts for an image
type Summary struct {
	TotalLeafs    int `json:"total_leafs"`
	DiseasedLeafs int `json:"diseased_leafs"`
	HealthyLeafs  int `json:"healthy_leafs"`
}

// Result is a successful detection response
type Result struct {
	Leafs   []LeafRecord `json:"leafs"`
	Summary *Summary     `json:"summary,omitempty"`
}
