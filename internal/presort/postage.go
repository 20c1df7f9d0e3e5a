package presort

import "github.com/roach88/mailmonkey/internal/identity"

// Rates are per-piece postage rates by tier, supplied by the caller.
type Rates struct {
	FiveDigit  float64
	ThreeDigit float64
	AADC       float64
}

// DefaultRates are the builder's historical defaults.
var DefaultRates = Rates{FiveDigit: 0.244, ThreeDigit: 0.275, AADC: 0.330}

// Postage is a tiered postage estimate.
type Postage struct {
	Pieces     int
	FiveDigit  int
	ThreeDigit int
	AADC       int
	Rates      Rates
}

// Cost5 returns the 5-digit tier cost.
func (p Postage) Cost5() float64 { return float64(p.FiveDigit) * p.Rates.FiveDigit }

// Cost3 returns the 3-digit tier cost.
func (p Postage) Cost3() float64 { return float64(p.ThreeDigit) * p.Rates.ThreeDigit }

// CostAADC returns the AADC tier cost.
func (p Postage) CostAADC() float64 { return float64(p.AADC) * p.Rates.AADC }

// Total returns the total cost.
func (p Postage) Total() float64 { return p.Cost5() + p.Cost3() + p.CostAADC() }

// AveragePerPiece returns Total / Pieces, 0 for an empty mailing.
func (p Postage) AveragePerPiece() float64 {
	if p.Pieces == 0 {
		return 0
	}
	return p.Total() / float64(p.Pieces)
}

// EstimatePostage assigns pieces to tiers: full trays per ZIP5 are 5-digit,
// leftovers pooled per ZIP3 fill 3-digit trays, the rest is AADC.
func EstimatePostage(zips []string, rates Rates, threshold int) Postage {
	if threshold <= 0 {
		threshold = DefaultTrayThreshold
	}
	byZIP5 := map[string]int{}
	for _, z := range zips {
		byZIP5[z]++
	}

	p := Postage{Pieces: len(zips), Rates: rates}
	leftovers := map[string]int{}
	for z, n := range byZIP5 {
		full := n / threshold * threshold
		p.FiveDigit += full
		leftovers[identity.ZIP3(z)] += n - full
	}
	for _, n := range leftovers {
		full := n / threshold * threshold
		p.ThreeDigit += full
		p.AADC += n - full
	}
	return p
}
