package capture

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/toolhub/shotpipe/internal/hash/sha256"
)

const fingerprintPrefixLen = 16

// Fingerprint derives the coarse similarity proxy for a raw capture: a
// truncated content hash joined with the byte length. It detects
// pixel-identical or near-identical viewport captures, not semantically
// similar images, which is all the short-page collision case needs.
func Fingerprint(data []byte) string {
	digest, err := hasher.Hash(data)
	if err != nil {
		// The SHA-256 hasher cannot fail on in-memory input.
		return fmt.Sprintf("invalid:%d", len(data))
	}
	return fmt.Sprintf("%s:%d", digest[:fingerprintPrefixLen], len(data))
}

var hasher = sha256.New()

// Detector compares capture fingerprints and filters near-duplicates.
// The threshold and weights are empirically tuned defaults, not derived
// values; treat them as configuration.
type Detector struct {
	Threshold    float64
	HashWeight   float64
	LengthWeight float64
}

// NewDetector returns a Detector with the standard tuning.
func NewDetector() Detector {
	return Detector{
		Threshold:    0.9,
		HashWeight:   0.7,
		LengthWeight: 0.3,
	}
}

// Similarity scores two fingerprints in [0,1].
func (d Detector) Similarity(a, b string) float64 {
	prefixA, lenA := splitFingerprint(a)
	prefixB, lenB := splitFingerprint(b)
	return d.HashWeight*prefixMatchRatio(prefixA, prefixB) + d.LengthWeight*lengthCloseness(lenA, lenB)
}

// Duplicate reports whether two fingerprints score above the threshold.
func (d Detector) Duplicate(a, b string) bool {
	return d.Similarity(a, b) >= d.Threshold
}

// AllDuplicate reports whether every pair in the set collides. Used by the
// capture engine to decide whether an alternate-offset pass is worthwhile.
func (d Detector) AllDuplicate(images []CapturedImage) bool {
	if len(images) < 2 {
		return false
	}
	for i := 0; i < len(images); i++ {
		for j := i + 1; j < len(images); j++ {
			if !d.Duplicate(images[i].Fingerprint, images[j].Fingerprint) {
				return false
			}
		}
	}
	return true
}

// Filter drops regions that duplicate an already-kept region. Regions are
// considered in fixed priority order (hero first), so the first capture of a
// colliding group survives. A required region is kept even when it
// duplicates, guaranteeing at least one image per successful target.
func (d Detector) Filter(images []CapturedImage) (kept, dropped []CapturedImage) {
	ordered := make([]CapturedImage, len(images))
	copy(ordered, images)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Region.Priority() < ordered[j].Region.Priority()
	})

	for _, img := range ordered {
		if img.Region.Required() || !d.collides(img, kept) {
			kept = append(kept, img)
			continue
		}
		dropped = append(dropped, img)
	}
	return kept, dropped
}

func (d Detector) collides(img CapturedImage, kept []CapturedImage) bool {
	for _, k := range kept {
		if d.Duplicate(img.Fingerprint, k.Fingerprint) {
			return true
		}
	}
	return false
}

func splitFingerprint(fp string) (string, int) {
	prefix, lenStr, ok := strings.Cut(fp, ":")
	if !ok {
		return fp, 0
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return prefix, 0
	}
	return prefix, n
}

func prefixMatchRatio(a, b string) float64 {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	if limit == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < limit; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(limit)
}

func lengthCloseness(a, b int) float64 {
	if a == b {
		return 1
	}
	max := a
	if b > max {
		max = b
	}
	if max == 0 {
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(max)
}
