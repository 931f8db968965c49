package collect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Ranks assigns 1-based ranks, averaging the ranks of tied values.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // mean of ranks i+1..j
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}
	return ranks
}

// Spearman returns the rank correlation of x and y. ok is false when the
// coefficient is undefined: fewer than two points or a constant input.
func Spearman(x, y []float64) (rho float64, ok bool) {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN(), false
	}
	rho = stat.Correlation(Ranks(x), Ranks(y), nil)
	if math.IsNaN(rho) || math.IsInf(rho, 0) {
		return math.NaN(), false
	}
	return rho, true
}

// RMSD is the root mean square deviation between ref and x. ok is false
// for empty or mismatched inputs.
func RMSD(ref, x []float64) (float64, bool) {
	if len(ref) != len(x) || len(ref) == 0 {
		return math.NaN(), false
	}
	return floats.Distance(ref, x, 2) / math.Sqrt(float64(len(ref))), true
}

// Moments are the mean and population standard deviation of a sample.
type Moments struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	N      int     `json:"n"`
}

func moments(x []float64) Moments {
	if len(x) == 0 {
		return Moments{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return Moments{Mean: mean, StdDev: std, N: len(x)}
}

// Tally counts in how many molecules each method came out ahead.
type Tally struct {
	GFN2  int `json:"GFN2"`
	GP3   int `json:"GP3"`
	Equal int `json:"equal"`
}

// MoleculeStats are the per-molecule quality measures of GFN2 and GP3
// against the reference.
type MoleculeStats struct {
	ID           string  `json:"id"`
	SpearmanGFN2 float64 `json:"spearman_gfn2"`
	SpearmanGP3  float64 `json:"spearman_gp3"`
	SpearmanOK   bool    `json:"spearman_ok"`
	RMSDGFN2     float64 `json:"rmsd_gfn2"`
	RMSDGP3      float64 `json:"rmsd_gp3"`
	RMSDOK       bool    `json:"rmsd_ok"`
}

// Summary aggregates MoleculeStats over the whole run.
type Summary struct {
	Molecules      []MoleculeStats `json:"molecules"`
	SpearmanGFN2   Moments         `json:"spearman_gfn2"`
	SpearmanGP3    Moments         `json:"spearman_gp3"`
	SpearmanBetter Tally           `json:"spearman_better"`
	RMSDGFN2       Moments         `json:"rmsd_gfn2"`
	RMSDGP3        Moments         `json:"rmsd_gp3"`
	RMSDBetter     Tally           `json:"rmsd_better"`
	DataPoints     int             `json:"data_points"`
	MoleculeCount  int             `json:"molecule_count"`
}

// Summarize computes per-molecule and aggregate statistics. Molecules
// without a defined rank correlation are left out of the Spearman
// aggregates and the data point count.
func Summarize(ids []string, energies map[string]Energies) Summary {
	var s Summary
	var rhoGFN2, rhoGP3, rmsdGFN2, rmsdGP3 []float64

	for _, id := range ids {
		e, ok := energies[id]
		if !ok {
			continue
		}
		s.MoleculeCount++
		ms := MoleculeStats{ID: id}

		g, okG := Spearman(e.Ref, e.GFN2)
		p, okP := Spearman(e.Ref, e.GP3)
		if okG && okP {
			ms.SpearmanGFN2, ms.SpearmanGP3, ms.SpearmanOK = g, p, true
			rhoGFN2 = append(rhoGFN2, g)
			rhoGP3 = append(rhoGP3, p)
			s.DataPoints += len(e.Ref)
			switch {
			case g > p:
				s.SpearmanBetter.GFN2++
			case g < p:
				s.SpearmanBetter.GP3++
			default:
				s.SpearmanBetter.Equal++
			}
		}

		rg, okRG := RMSD(e.Ref, e.GFN2)
		rp, okRP := RMSD(e.Ref, e.GP3)
		if okRG && okRP {
			ms.RMSDGFN2, ms.RMSDGP3, ms.RMSDOK = rg, rp, true
			rmsdGFN2 = append(rmsdGFN2, rg)
			rmsdGP3 = append(rmsdGP3, rp)
			// lower deviation wins
			switch {
			case rg < rp:
				s.RMSDBetter.GFN2++
			case rg > rp:
				s.RMSDBetter.GP3++
			default:
				s.RMSDBetter.Equal++
			}
		}

		if !ms.SpearmanOK {
			ms.SpearmanGFN2, ms.SpearmanGP3 = 0, 0
		}
		if !ms.RMSDOK {
			ms.RMSDGFN2, ms.RMSDGP3 = 0, 0
		}
		s.Molecules = append(s.Molecules, ms)
	}

	s.SpearmanGFN2 = moments(rhoGFN2)
	s.SpearmanGP3 = moments(rhoGP3)
	s.RMSDGFN2 = moments(rmsdGFN2)
	s.RMSDGP3 = moments(rmsdGP3)
	return s
}
