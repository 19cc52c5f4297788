package stats

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing artifact must not fail: %v", err)
	}
	if st.Loaded() {
		t.Fatalf("empty store should not report loaded")
	}
	if _, ok := st.National(); ok {
		t.Fatalf("empty store should answer no national rates")
	}
	if _, ok := st.Condition("CHF"); ok {
		t.Fatalf("empty store should answer no condition rates")
	}
}

func TestLoadArtifact(t *testing.T) {
	raw := `{
        "national": {"n_visits": 19000, "pct_72h_revisit": 4.2, "pct_admitted": 13.5},
        "regions": [
            {"id": 1, "name": "Northeast", "n_visits": 4000, "pct_72h_revisit": 4.0, "pct_admitted": 15.1}
        ],
        "conditions": [
            {"id": "CHF", "name": "Heart Failure", "n_visits": 900, "pct_72h_revisit": 6.8, "pct_admitted": 38.2}
        ]
    }`
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !st.Loaded() {
		t.Fatalf("store should report loaded")
	}
	national, ok := st.National()
	if !ok || national.NVisits != 19000 || national.Pct72hRevisit != 4.2 {
		t.Fatalf("national rates: %+v (%v)", national, ok)
	}
	chf, ok := st.Condition("CHF")
	if !ok || chf.PctAdmitted != 38.2 {
		t.Fatalf("condition rates: %+v (%v)", chf, ok)
	}
	if _, ok := st.Condition("COPD"); ok {
		t.Fatalf("unknown condition should answer not found")
	}
	regions := st.Regions()
	if len(regions) != 1 || regions[0].Name != "Northeast" {
		t.Fatalf("regions: %+v", regions)
	}
}

func TestLoadRejectsMalformedArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
