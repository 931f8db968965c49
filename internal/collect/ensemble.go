package collect

import (
	"math"
	"sort"
)

// MinDiffKcal is the reference energy gap below which two neighbouring
// conformers count as the same structure.
const MinDiffKcal = 0.01

// minKept is the ensemble size below which no conformer is pruned.
const minKept = 3

// Conformer holds the total energies (Hartree) of one conformer.
type Conformer struct {
	ID   string
	Ref  float64 // TZ
	GFN2 float64
	GP3  float64
}

// SortByRef orders conformers by ascending reference energy. Ties keep
// manifest order.
func SortByRef(confs []Conformer) {
	sort.SliceStable(confs, func(i, j int) bool { return confs[i].Ref < confs[j].Ref })
}

// PruneDegenerate drops near-degenerate conformers from a sorted ensemble.
// Neighbours closer than MinDiffKcal lose their higher-energy member, one
// at a time, rescanning from the bottom after every removal. Ensembles of
// at most minKept conformers are never pruned.
func PruneDegenerate(confs []Conformer) (kept, removed []Conformer) {
	kept = append([]Conformer(nil), confs...)
	for {
		idx := -1
		for k := 1; k < len(kept) && len(kept) > minKept; k++ {
			if math.Abs((kept[k].Ref-kept[k-1].Ref)*HartreeToKcal) < MinDiffKcal {
				idx = k - 1
				if kept[k].Ref > kept[k-1].Ref {
					idx = k
				}
				break
			}
		}
		if idx < 0 {
			return kept, removed
		}
		removed = append(removed, kept[idx])
		kept = append(kept[:idx], kept[idx+1:]...)
	}
}

// Energies is the per-molecule record written to energies.json. Energy
// lists are in kcal/mol relative to the lowest reference conformer, which
// itself is listed only in ConformerLowest.
type Energies struct {
	GFN2            []float64 `json:"GFN2"`
	GP3             []float64 `json:"GP3"`
	Ref             []float64 `json:"wB97X-D4"`
	ConformerIndex  []string  `json:"conformer_index"`
	ConformerLowest []string  `json:"conformer_lowest"`
	Natoms          int       `json:"natoms"`
	Charge          int       `json:"charge"`
	Nconf           int       `json:"nconf"`
}

// Relative builds the energies record from a sorted, pruned ensemble.
func Relative(confs []Conformer, props Properties) Energies {
	e := Energies{
		GFN2:            []float64{},
		GP3:             []float64{},
		Ref:             []float64{},
		ConformerIndex:  []string{},
		ConformerLowest: []string{},
		Natoms:          props.Natoms,
		Charge:          props.Charge,
		Nconf:           props.Nconf,
	}
	if len(confs) == 0 {
		return e
	}
	low := confs[0]
	e.ConformerLowest = append(e.ConformerLowest, low.ID)
	for _, c := range confs[1:] {
		e.Ref = append(e.Ref, (c.Ref-low.Ref)*HartreeToKcal)
		e.GFN2 = append(e.GFN2, (c.GFN2-low.GFN2)*HartreeToKcal)
		e.GP3 = append(e.GP3, (c.GP3-low.GP3)*HartreeToKcal)
		e.ConformerIndex = append(e.ConformerIndex, c.ID)
	}
	return e
}
