// Package fidelity scores measured outcome counts against the ideal outcome
// distribution of a target state.
package fidelity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Pattern is an ideal outcome distribution. Outcomes it does not mention
// have probability zero.
type Pattern map[string]float64

// Uniform returns a Pattern spreading probability evenly over outcomes.
func Uniform(outcomes ...string) Pattern {
	p := make(Pattern, len(outcomes))
	for _, o := range outcomes {
		p[o] = 1 / float64(len(outcomes))
	}
	return p
}

// Validate checks that p is a probability distribution.
func (p Pattern) Validate() error {
	if len(p) == 0 {
		return errors.New("empty pattern")
	}
	ps := make([]float64, 0, len(p))
	for o, v := range p {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("outcome %q has probability %v", o, v)
		}
		ps = append(ps, v)
	}
	if s := floats.Sum(ps); math.Abs(s-1) > 1e-9 {
		return fmt.Errorf("probabilities sum to %v, want 1", s)
	}
	return nil
}

// Support returns the outcomes with non-zero probability in lexicographic
// order.
func (p Pattern) Support() []string {
	var out []string
	for o, v := range p {
		if v > 0 {
			out = append(out, o)
		}
	}
	sort.Strings(out)
	return out
}

func total(counts map[string]int) int {
	n := 0
	for _, v := range counts {
		n += v
	}
	return n
}

// Estimate returns the fraction of shots whose outcome lies in the support of
// p. Empty counts score zero.
func Estimate(counts map[string]int, p Pattern) float64 {
	n := total(counts)
	if n == 0 {
		return 0
	}
	in := 0
	for o, v := range counts {
		if p[o] > 0 {
			in += v
		}
	}
	return float64(in) / float64(n)
}

// Classical returns the classical fidelity (squared Bhattacharyya
// coefficient) between the observed frequencies and p.
func Classical(counts map[string]int, p Pattern) float64 {
	n := total(counts)
	if n == 0 {
		return 0
	}
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	terms := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		terms = append(terms, math.Sqrt(float64(counts[o])/float64(n)*p[o]))
	}
	bc := floats.Sum(terms)
	return math.Min(1, bc*bc)
}

// Entropy returns the Shannon entropy, in bits, of the observed outcome
// frequencies.
func Entropy(counts map[string]int) float64 {
	n := total(counts)
	if n == 0 {
		return 0
	}
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	ps := make([]float64, len(outcomes))
	for i, o := range outcomes {
		ps[i] = float64(counts[o]) / float64(n)
	}
	return stat.Entropy(ps) / math.Ln2
}

// A GoodnessOfFit is the result of a chi-squared test of observed counts
// against an expected Pattern.
type GoodnessOfFit struct {
	Statistic float64
	DF        int
	PValue    float64
}

// Consistent reports whether the counts are consistent with the pattern at
// significance level alpha.
func (g GoodnessOfFit) Consistent(alpha float64) bool {
	return g.PValue >= alpha
}

// ChiSquare tests counts against p. Any shot landing on an outcome p deems
// impossible fails the test outright.
func ChiSquare(counts map[string]int, p Pattern) GoodnessOfFit {
	n := total(counts)
	if n == 0 {
		return GoodnessOfFit{}
	}
	for o, v := range counts {
		if v > 0 && p[o] == 0 {
			return GoodnessOfFit{Statistic: math.Inf(1), PValue: 0}
		}
	}
	support := p.Support()
	terms := make([]float64, len(support))
	for i, o := range support {
		e := p[o] * float64(n)
		d := float64(counts[o]) - e
		terms[i] = d * d / e
	}
	g := GoodnessOfFit{Statistic: floats.Sum(terms), DF: len(support) - 1}
	if g.DF == 0 {
		g.PValue = 1
		return g
	}
	g.PValue = distuv.ChiSquared{K: float64(g.DF)}.Survival(g.Statistic)
	return g
}

// A Verdict records a fidelity compared against a threshold.
type Verdict struct {
	Fidelity  float64
	Threshold float64
	Pass      bool
}

// Judge passes f when it meets threshold.
func Judge(f, threshold float64) Verdict {
	return Verdict{Fidelity: f, Threshold: threshold, Pass: f >= threshold}
}
