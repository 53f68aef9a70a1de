// Package fusion merges two ranked lists with Reciprocal Rank Fusion.
//
// Only rank positions feed the fused score, so lists scored on different
// scales (a cosine similarity and a BM25 sum) combine without calibration.
package fusion

import (
	"math"
	"slices"

	"github.com/poiesic/lodestone/core"
)

// DefaultRRFK is the rank smoothing constant. Larger values flatten the
// advantage of a top rank.
const DefaultRRFK = 50

// Candidate is one entry of an input list. Lists are ordered best first.
type Candidate struct {
	Id    core.ID
	Score float32 // the list's own score, used only to break ties
}

// Result is one fused entry.
type Result struct {
	Id       core.ID
	Score    float64 // sum of weight/(rrfK+rank) over both lists
	RankA    int     // 1-indexed rank in list a, 0 when absent
	RankB    int     // 1-indexed rank in list b, 0 when absent
	RawScore float32 // score from list a when present
}

// Contribution is the fused score one list adds for a candidate at rank r (1-indexed).
func Contribution(weight, rrfK float64, r int) float64 {
	if r < 1 {
		return 0
	}
	return weight / (rrfK + float64(r))
}

// Fuse combines a and b and returns the top k. Ties go to the higher list-a
// score, candidates missing from a losing to any that appear in it, then to the
// lower ID. A candidate listed twice in the same list keeps its best rank.
// rrfK <= 0 selects DefaultRRFK.
func Fuse(a, b []Candidate, k int, weightA, weightB, rrfK float64) []Result {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	if k <= 0 {
		return nil
	}

	byID := make(map[core.ID]*Result, len(a)+len(b))
	get := func(id core.ID) *Result {
		r, ok := byID[id]
		if !ok {
			r = &Result{Id: id, RawScore: float32(math.Inf(-1))}
			byID[id] = r
		}
		return r
	}

	for i, c := range a {
		r := get(c.Id)
		if r.RankA != 0 {
			continue
		}
		r.RankA = i + 1
		r.RawScore = c.Score
		r.Score += Contribution(weightA, rrfK, r.RankA)
	}
	for i, c := range b {
		r := get(c.Id)
		if r.RankB != 0 {
			continue
		}
		r.RankB = i + 1
		r.Score += Contribution(weightB, rrfK, r.RankB)
	}

	out := make([]Result, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	slices.SortFunc(out, compare)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func compare(x, y Result) int {
	switch {
	case x.Score > y.Score:
		return -1
	case x.Score < y.Score:
		return 1
	case x.RawScore > y.RawScore:
		return -1
	case x.RawScore < y.RawScore:
		return 1
	case x.Id < y.Id:
		return -1
	case x.Id > y.Id:
		return 1
	}
	return 0
}
