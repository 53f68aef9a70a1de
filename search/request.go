package search

import (
	"fmt"

	"github.com/poiesic/lodestone/core"
)

// Mode selects which indexes answer a query.
type Mode string

const (
	ModeANN     Mode = "ann"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode converts a mode name into a Mode. The empty string means "infer".
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case "", ModeANN, ModeKeyword, ModeHybrid:
		return Mode(name), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", core.ErrInvalidQuery, name)
}

// Request is a query against one collection.
type Request struct {
	Text          string
	Vector        []float32
	K             int
	Threshold     *float32 // minimum ANN similarity, or minimum BM25 score in keyword mode
	Mode          Mode     // inferred from Text and Vector when empty
	WeightANN     float64  // hybrid weight of the ANN list; 0 means 1
	WeightKeyword float64  // hybrid weight of the keyword list; 0 means 1
	EfSearch      int      // graph beam width override
	Probes        int      // cluster probe count override
}

// Response is the outcome of a query.
type Response struct {
	Results  []*core.SearchResult
	Partial  bool     // the deadline cut at least one index scan short
	Warnings []string // conditions worth surfacing, such as an untrained cluster index
}

// resolveMode validates the request against the collection and returns its mode.
func resolveMode(req Request, dimension int) (Mode, error) {
	if req.K <= 0 {
		return "", fmt.Errorf("%w: k must be positive", core.ErrInvalidQuery)
	}
	if req.WeightANN < 0 || req.WeightKeyword < 0 {
		return "", fmt.Errorf("%w: weights must not be negative", core.ErrInvalidQuery)
	}

	hasText, hasVector := req.Text != "", req.Vector != nil
	mode := req.Mode
	if mode == "" {
		switch {
		case hasText && hasVector:
			mode = ModeHybrid
		case hasVector:
			mode = ModeANN
		case hasText:
			mode = ModeKeyword
		default:
			return "", fmt.Errorf("%w: query needs text or a vector", core.ErrInvalidQuery)
		}
	}

	switch mode {
	case ModeANN, ModeHybrid:
		if !hasVector {
			return "", fmt.Errorf("%w: %s mode needs a query vector", core.ErrInvalidQuery, mode)
		}
		if err := core.ValidateVector(req.Vector, dimension); err != nil {
			return "", err
		}
		if mode == ModeHybrid && !hasText {
			return "", fmt.Errorf("%w: hybrid mode needs query text", core.ErrInvalidQuery)
		}
	case ModeKeyword:
		if !hasText {
			return "", fmt.Errorf("%w: keyword mode needs query text", core.ErrInvalidQuery)
		}
	default:
		return "", fmt.Errorf("%w: unknown mode %q", core.ErrInvalidQuery, mode)
	}
	return mode, nil
}
