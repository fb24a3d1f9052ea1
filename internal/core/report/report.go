// Package report renders the aggregated diagnosis report for a request.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cropsight/internal/core/models"
	"cropsight/internal/integrations/leafmodel"
)

// diseaseSummary aggregates everything seen for one disease across a request
type diseaseSummary struct {
	occurrences       int
	highestConfidence *float64
	images            []int    // 1-based image indices, first-seen order
	treatments        []string // deduplicated, first-seen order
}

func (s *diseaseSummary) addImage(index int) {
	for _, existing := range s.images {
		if existing == index {
			return
		}
	}
	s.images = append(s.images, index)
}

func (s *diseaseSummary) addTreatment(treatment string) {
	for _, existing := range s.treatments {
		if existing == treatment {
			return
		}
	}
	s.treatments = append(s.treatments, treatment)
}

// builder accumulates state while walking the request's images
type builder struct {
	diseases     map[string]*diseaseSummary
	diseaseOrder []string // first-seen order, keeps the ranking stable
	confidences  []float64
	recs         []string
	recSeen      map[string]bool
}

func newBuilder() *builder {
	return &builder{
		diseases: make(map[string]*diseaseSummary),
		recSeen:  make(map[string]bool),
	}
}

// formatConfidence renders values <= 1 as a percentage and larger values as
// a plain two-decimal number
func formatConfidence(value float64) string {
	if value <= 1 {
		return fmt.Sprintf("%.0f%%", value*100)
	}
	return fmt.Sprintf("%.2f", value)
}

// recordDisease registers one detection and appends its narrative bullet.
// Returns false when the name is empty.
func (b *builder) recordDisease(name string, confidence *float64, treatment *string, imageIndex int, narrative *[]string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}

	var fragments []string
	if confidence != nil && !math.IsNaN(*confidence) && !math.IsInf(*confidence, 0) {
		b.confidences = append(b.confidences, *confidence)
		fragments = append(fragments, "confidence "+formatConfidence(*confidence))
	}
	var trimmedTreatment string
	if treatment != nil {
		trimmedTreatment = strings.TrimSpace(*treatment)
	}
	if trimmedTreatment != "" {
		fragments = append(fragments, trimmedTreatment)
	}

	line := "- " + trimmed
	if len(fragments) > 0 {
		line += " (" + strings.Join(fragments, ", ") + ")"
	}
	*narrative = append(*narrative, line)

	stats, ok := b.diseases[trimmed]
	if !ok {
		stats = &diseaseSummary{}
		b.diseases[trimmed] = stats
		b.diseaseOrder = append(b.diseaseOrder, trimmed)
	}
	stats.occurrences++
	stats.addImage(imageIndex + 1)
	if confidence != nil && !math.IsNaN(*confidence) && !math.IsInf(*confidence, 0) {
		if stats.highestConfidence == nil || *confidence > *stats.highestConfidence {
			v := *confidence
			stats.highestConfidence = &v
		}
	}
	if trimmedTreatment != "" {
		stats.addTreatment(trimmedTreatment)
	}
	return true
}

// fromLeafs extracts detections from the full per-leaf array
func (b *builder) fromLeafs(data []byte, imageIndex int, narrative *[]string) bool {
	if len(data) == 0 {
		return false
	}
	var leafs []leafmodel.LeafRecord
	if err := json.Unmarshal(data, &leafs); err != nil {
		return false
	}

	detected := false
	for _, leaf := range leafs {
		for _, disease := range leaf.Diseases {
			if b.recordDisease(disease.Name, disease.Confidence, disease.Treatment, imageIndex, narrative) {
				detected = true
			}
		}
	}
	return detected
}

// fromDiseasesJSON extracts detections from the legacy per-image mapping
func (b *builder) fromDiseasesJSON(data []byte, imageIndex int, narrative *[]string) bool {
	if len(data) == 0 {
		return false
	}
	var diseases leafmodel.DiseaseList
	if err := json.Unmarshal(data, &diseases); err != nil {
		return false
	}

	detected := false
	for _, disease := range diseases {
		if b.recordDisease(disease.Name, disease.Confidence, disease.Treatment, imageIndex, narrative) {
			detected = true
		}
	}
	return detected
}

// addRecommendation collects a free-text note once, keeping first-seen order
func (b *builder) addRecommendation(prefix string, value *string) {
	if value == nil {
		return
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return
	}
	note := prefix + ": " + trimmed
	if b.recSeen[note] {
		return
	}
	b.recSeen[note] = true
	b.recs = append(b.recs, note)
}

// Build renders the markdown report for a request with its images loaded
func Build(request *models.Request) string {
	return BuildAt(request, time.Now())
}

// BuildAt is Build with an explicit generation time. Output is byte-identical
// for identical input data apart from the generated-at line.
func BuildAt(request *models.Request, generatedAt time.Time) string {
	b := newBuilder()
	perImageNarratives := make([][]string, 0, len(request.Images))
	diseasedImages := 0

	for index := range request.Images {
		image := &request.Images[index]
		var narrative []string
		detected := false

		// Detection sources in priority order: the raw leaf array, the
		// legacy per-image disease mapping, then the single legacy fields.
		if b.fromLeafs(image.LeafsData, index, &narrative) {
			detected = true
		} else if b.fromDiseasesJSON(image.DiseasesJSON, index, &narrative) {
			detected = true
		} else if image.DiseaseType != nil {
			if b.recordDisease(*image.DiseaseType, image.Confidence, image.TreatmentPlan, index, &narrative) {
				detected = true
			}
		}

		b.addRecommendation("Treatment notes", image.TreatmentPlan)
		b.addRecommendation("Materials", image.Materials)
		b.addRecommendation("Services", image.Services)

		if detected {
			diseasedImages++
		} else if len(narrative) == 0 {
			narrative = append(narrative, "- Awaiting AI processing results for this image.")
		}

		perImageNarratives = append(perImageNarratives, narrative)
	}

	// Rank diseases by occurrences, descending. The stable sort keeps
	// first-seen order between equals so the output is deterministic.
	ranked := make([]string, len(b.diseaseOrder))
	copy(ranked, b.diseaseOrder)
	sort.SliceStable(ranked, func(i, j int) bool {
		return b.diseases[ranked[i]].occurrences > b.diseases[ranked[j]].occurrences
	})

	topDiseases := ranked
	if len(topDiseases) > 3 {
		topDiseases = topDiseases[:3]
	}

	farmName := request.Farm.Name
	if farmName == "" {
		farmName = fmt.Sprintf("Farm %d", request.FarmID)
	}

	var lines []string
	push := func(s string) { lines = append(lines, s) }

	push("# AI Diagnostic Report")
	push("")
	push(fmt.Sprintf("**Request ID:** %d", request.ID))
	push("**Farm:** " + farmName)
	push("**Status:** " + string(request.Status))
	push("**Generated:** " + generatedAt.Format("Jan 2, 2006, 3:04:05 PM"))
	push("")
	push("## Summary")
	push("")
	push(fmt.Sprintf("- Images analyzed: %d", len(request.Images)))
	push(fmt.Sprintf("- Diseased images: %d", diseasedImages))
	if len(topDiseases) > 0 {
		push("- Top diseases: " + strings.Join(topDiseases, ", "))
	} else {
		push("- Top diseases: Awaiting additional AI predictions")
	}
	if len(b.confidences) > 0 {
		minConf, maxConf := b.confidences[0], b.confidences[0]
		for _, c := range b.confidences[1:] {
			if c < minConf {
				minConf = c
			}
			if c > maxConf {
				maxConf = c
			}
		}
		push("- Confidence range: " + formatConfidence(minConf) + " → " + formatConfidence(maxConf))
	}
	push("")
	push("## Disease Highlights")
	push("")

	if len(ranked) == 0 {
		push("- Disease highlights will appear once at least one image yields a confident detection.")
	} else {
		for _, name := range ranked {
			stats := b.diseases[name]
			push("### " + name)
			push("")
			push(fmt.Sprintf("- Appearances: %d", stats.occurrences))

			sorted := make([]int, len(stats.images))
			copy(sorted, stats.images)
			sort.Ints(sorted)
			imageRefs := make([]string, len(sorted))
			for i, num := range sorted {
				imageRefs[i] = fmt.Sprintf("Image %d", num)
			}
			push("- Detected in images: " + strings.Join(imageRefs, ", "))

			if stats.highestConfidence != nil {
				push("- Peak confidence: " + formatConfidence(*stats.highestConfidence))
			}
			if len(stats.treatments) > 0 {
				push("- Suggested treatment(s): " + strings.Join(stats.treatments, " | "))
			} else {
				push("- Suggested treatment(s): awaiting agronomist review")
			}
			push("")
		}
	}

	push("## Image-level Findings")
	push("")
	if len(request.Images) == 0 {
		push("- No images uploaded yet. Capture at least one photo to kick-start the AI analysis.")
	} else {
		for index := range request.Images {
			push(fmt.Sprintf("### Image %d (%s)", index+1, request.Images[index].Type))
			push("")
			details := perImageNarratives[index]
			if len(details) == 0 {
				push("- Awaiting processing results for this image.")
			} else {
				lines = append(lines, details...)
			}
			push("")
		}
	}

	push("## Recommendations")
	push("")
	if len(b.recs) == 0 {
		push("- Continue regular scouting, optimize irrigation, and consult a technician before major interventions.")
	} else {
		for _, note := range b.recs {
			push("- " + note)
		}
	}

	push("")
	push("## Diagnostic Body")
	push("")
	push("Maintain this markdown as your working AI audit trail. Share it with agronomists or export it for compliance once you have processed all key images.")

	return strings.Join(lines, "\n")
}
