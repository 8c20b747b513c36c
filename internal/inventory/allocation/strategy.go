// Package allocation orders pool locations and splits quantities across
// them. It is pure: callers supply stock snapshots and apply the plan.
package allocation

import (
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
)

// Candidate is a pool location that currently has stock for the line being allocated.
type Candidate struct {
	LocationID  string
	Available   int64
	Priority    int
	CreatedAt   time.Time
	Coordinates *domain.Coordinates
}

// Options carry the per-request inputs some strategies need.
type Options struct {
	PreferredLocationID string
	Origin              *domain.Coordinates
}

// Order returns a copy of candidates sorted for greedy draining under strategy.
// Ties always fall back to location id so the result is deterministic.
// even_split has no drain order of its own; it uses priority order for top-ups.
func Order(strategy domain.Strategy, candidates []Candidate, opts Options) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	var less func(a, b Candidate) bool
	switch strategy {
	case domain.StrategyFIFO:
		less = func(a, b Candidate) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.LocationID < b.LocationID
		}
	case domain.StrategyNearest:
		dist := func(c Candidate) float64 {
			if opts.Origin == nil || c.Coordinates == nil {
				return math.Inf(1)
			}
			return domain.DistanceKm(*opts.Origin, *c.Coordinates)
		}
		less = func(a, b Candidate) bool {
			da, db := dist(a), dist(b)
			if da != db {
				return da < db
			}
			return a.LocationID < b.LocationID
		}
	default:
		less = func(a, b Candidate) bool {
			ap := a.LocationID == opts.PreferredLocationID && opts.PreferredLocationID != ""
			bp := b.LocationID == opts.PreferredLocationID && opts.PreferredLocationID != ""
			if ap != bp {
				return ap
			}
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.LocationID < b.LocationID
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Target is the planned quantity for one location.
type Target struct {
	LocationID string
	Quantity   int64
}

// EvenSplit distributes requested across candidates in proportion to their
// availability, capped by it. Shares are floored and the remaining units go
// one at a time to the largest fractional remainders, ties broken by larger
// availability and then location id. Locations that receive nothing are omitted.
//
// Quantities near the int64 limit are handled exactly: the total and the
// per-location products are computed with big integers.
func EvenSplit(requested int64, candidates []Candidate) []Target {
	total := new(big.Int)
	for _, c := range candidates {
		if c.Available > 0 {
			total.Add(total, big.NewInt(c.Available))
		}
	}
	if requested <= 0 || total.Sign() == 0 {
		return nil
	}

	want := big.NewInt(requested)
	if want.Cmp(total) >= 0 {
		targets := make([]Target, 0, len(candidates))
		for _, c := range sorted(candidates) {
			if c.Available > 0 {
				targets = append(targets, Target{LocationID: c.LocationID, Quantity: c.Available})
			}
		}
		return targets
	}

	type share struct {
		Candidate
		floor int64
		rem   *big.Int // numerator of the fractional part, over total
	}
	shares := make([]share, 0, len(candidates))
	var assigned int64
	for _, c := range sorted(candidates) {
		if c.Available <= 0 {
			continue
		}
		// requested < total keeps floor below Available, so it fits in int64
		// and leaves room for one extra unit.
		exact := new(big.Int).Mul(want, big.NewInt(c.Available))
		floor, rem := new(big.Int).QuoRem(exact, total, new(big.Int))
		s := share{Candidate: c, floor: floor.Int64(), rem: rem}
		assigned += s.floor
		shares = append(shares, s)
	}

	byRemainder := make([]int, len(shares))
	for i := range byRemainder {
		byRemainder[i] = i
	}
	sort.SliceStable(byRemainder, func(i, j int) bool {
		a, b := shares[byRemainder[i]], shares[byRemainder[j]]
		if cmp := a.rem.Cmp(b.rem); cmp != 0 {
			return cmp > 0
		}
		if a.Available != b.Available {
			return a.Available > b.Available
		}
		return a.LocationID < b.LocationID
	})
	// The fractional parts sum to less than one unit per share.
	for k := int64(0); k < requested-assigned; k++ {
		shares[byRemainder[k]].floor++
	}

	targets := make([]Target, 0, len(shares))
	for _, s := range shares {
		if s.floor > 0 {
			targets = append(targets, Target{LocationID: s.LocationID, Quantity: s.floor})
		}
	}
	return targets
}

func sorted(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
