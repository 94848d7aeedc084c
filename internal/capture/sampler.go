package capture

import "math"

// Default and alternate scroll fractions. The defaults aim at distinct visual
// bands of a typical landing page (hero, mid-page features, pricing) without
// per-site configuration; the alternates shift the sampling points when the
// defaults all land on the same rendering.
var (
	DefaultFractions   = [3]float64{0.0, 0.35, 0.70}
	AlternateFractions = [3]float64{0.20, 0.50, 0.85}
)

// Sampler computes scroll offsets for the three viewport regions.
type Sampler struct {
	Defaults   [3]float64
	Alternates [3]float64
}

// NewSampler returns a Sampler with the standard fractions.
func NewSampler() Sampler {
	return Sampler{
		Defaults:   DefaultFractions,
		Alternates: AlternateFractions,
	}
}

// Offsets maps page metrics to the hero/features/pricing scroll positions.
// When maxScroll is zero the offsets coincide; that is expected for short
// pages and resolved downstream by the duplicate detector.
func (s Sampler) Offsets(m PageMetrics, alternate bool) []RegionOffset {
	fractions := s.Defaults
	if alternate {
		fractions = s.Alternates
	}
	maxScroll := m.MaxScroll()
	regions := []Region{RegionHero, RegionFeatures, RegionPricing}
	offsets := make([]RegionOffset, 0, len(regions))
	for i, region := range regions {
		offsets = append(offsets, RegionOffset{
			Region: region,
			Y:      int(math.Round(fractions[i] * float64(maxScroll))),
		})
	}
	return offsets
}
