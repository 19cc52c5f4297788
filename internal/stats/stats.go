// Package stats serves the precomputed aggregate ED statistics consumed
// by the response assembler. The artifact is built offline from survey
// data; this store only reads it.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
)

// Rates are aggregate outcome percentages over a visit population.
type Rates struct {
	NVisits       int     `json:"n_visits"`
	Pct72hRevisit float64 `json:"pct_72h_revisit"`
	PctAdmitted   float64 `json:"pct_admitted"`
}

// ConditionRates carries the rates for one canonical condition code.
type ConditionRates struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rates
}

// RegionRates carries the rates for one census region.
type RegionRates struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Rates
}

type artifact struct {
	National   Rates            `json:"national"`
	Regions    []RegionRates    `json:"regions"`
	Conditions []ConditionRates `json:"conditions"`
}

// Store is the read-only statistics lookup.
type Store struct {
	national    Rates
	regions     []RegionRates
	byCondition map[string]ConditionRates
	loaded      bool
}

// Load reads the stats artifact. A missing file yields an empty store:
// every lookup answers "no stats available", never an error.
func Load(path string) (*Store, error) {
	st := &Store{byCondition: map[string]ConditionRates{}}
	if path == "" {
		return st, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stats artifact: %w", err)
	}
	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("decoding stats artifact: %w", err)
	}
	st.national = art.National
	st.regions = art.Regions
	for _, c := range art.Conditions {
		st.byCondition[c.ID] = c
	}
	st.loaded = true
	return st, nil
}

// Loaded reports whether an artifact was actually read.
func (s *Store) Loaded() bool { return s.loaded }

// National returns the whole-population rates.
func (s *Store) National() (Rates, bool) {
	return s.national, s.loaded
}

// Condition looks up rates for one canonical condition code.
func (s *Store) Condition(code string) (ConditionRates, bool) {
	c, ok := s.byCondition[code]
	return c, ok
}

// Regions returns the per-region rates in artifact order.
func (s *Store) Regions() []RegionRates {
	return s.regions
}
