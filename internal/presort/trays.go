package presort

import "github.com/roach88/mailmonkey/internal/identity"

// Tray types.
const (
	TrayFiveDigit  = "5digit"
	TrayThreeDigit = "3digit"
	TrayAADC       = "aadc"
)

// Tray is a contiguous span of the print order.
type Tray struct {
	ID int
	// Start and End are 1-based, inclusive piece positions.
	Start int
	End   int
	Type  string
	// Group is the ZIP5 for 5-digit trays, else the ZIP3.
	Group string
	Count int
}

// PlanTrays cuts the print order into trays without reordering it.
//
// Each ZIP5 contributes floor(n/threshold) 5-digit trays, filled by the first
// pieces of that ZIP5 in print order. Remaining pieces accumulate into an
// open ZIP3 tray that closes as 3-digit at threshold pieces, or as AADC when
// the ZIP3 changes or the order ends. zips should be sorted by ZIP5 so each
// ZIP3 range is contiguous.
func PlanTrays(zips []string, threshold int) []Tray {
	if threshold <= 0 {
		threshold = DefaultTrayThreshold
	}
	counts := map[string]int{}
	for _, z := range zips {
		counts[z]++
	}
	assigned := map[string]int{}

	var trays []Tray
	emit := func(t Tray) {
		t.ID = len(trays) + 1
		trays = append(trays, t)
	}

	var (
		z3Open  bool
		z3Start int
		z3Count int
		z3Group string

		z5Start int
		z5Zip   string
		z5Count int
	)

	for i, z5 := range zips {
		pos := i + 1
		z3 := identity.ZIP3(z5)

		if z3Open && z3 != z3Group {
			emit(Tray{Start: z3Start, End: pos - 1, Type: TrayAADC, Group: z3Group, Count: z3Count})
			z3Open, z3Count = false, 0
		}

		if assigned[z5] < counts[z5]/threshold {
			if z5Count == 0 || z5Zip != z5 {
				z5Start, z5Zip, z5Count = pos, z5, 0
			}
			z5Count++
			if z5Count == threshold {
				emit(Tray{Start: z5Start, End: pos, Type: TrayFiveDigit, Group: z5, Count: threshold})
				assigned[z5]++
				z5Count, z5Zip = 0, ""
			}
			continue
		}

		if !z3Open {
			z3Open, z3Start, z3Group, z3Count = true, pos, z3, 0
		}
		z3Count++
		if z3Count == threshold {
			emit(Tray{Start: z3Start, End: pos, Type: TrayThreeDigit, Group: z3, Count: threshold})
			z3Open, z3Count = false, 0
		}
	}
	if z3Open {
		emit(Tray{Start: z3Start, End: len(zips), Type: TrayAADC, Group: z3Group, Count: z3Count})
	}
	return trays
}
