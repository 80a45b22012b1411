package modbuscoord

import "testing"

func TestApplyFiltersOffsetRoundMultiply(t *testing.T) {
	got, ok := applyFilters(10, []FilterOp{
		{Op: "offset", Value: 5},
		{Op: "multiply", Value: 2},
		{Op: "round", Value: 1},
	})
	if !ok {
		t.Fatal("expected the value to survive the pipeline")
	}
	if got != 30 {
		t.Fatalf("expected (10+5)*2=30, got %v", got)
	}
}

func TestApplyFiltersRoundToDecimalPlaces(t *testing.T) {
	got, ok := applyFilters(3.14159, []FilterOp{{Op: "round", Value: 2}})
	if !ok || got != 3.14 {
		t.Fatalf("expected 3.14, got %v ok=%v", got, ok)
	}
}

func TestApplyFiltersOutDropsExactMatch(t *testing.T) {
	_, ok := applyFilters(0, []FilterOp{{Op: "filter_out", Value: 0}})
	if ok {
		t.Fatal("expected filter_out to drop the matching value")
	}
	got, ok := applyFilters(1, []FilterOp{{Op: "filter_out", Value: 0}})
	if !ok || got != 1 {
		t.Fatalf("expected non-matching values to pass through unchanged, got %v ok=%v", got, ok)
	}
}

func TestApplyFiltersOutGreaterAndLower(t *testing.T) {
	cases := []struct {
		name   string
		x      float64
		filter FilterOp
		wantOK bool
	}{
		{"greater drops above threshold", 100, FilterOp{Op: "filter_out_greater", Value: 50}, false},
		{"greater keeps at or below threshold", 50, FilterOp{Op: "filter_out_greater", Value: 50}, true},
		{"lower drops below threshold", 1, FilterOp{Op: "filter_out_lower", Value: 10}, false},
		{"lower keeps at or above threshold", 10, FilterOp{Op: "filter_out_lower", Value: 10}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := applyFilters(tc.x, []FilterOp{tc.filter})
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v", tc.wantOK, ok)
			}
		})
	}
}

func TestApplyFiltersPipelineShortCircuitsOnDrop(t *testing.T) {
	// a drop must stop the pipeline: nothing after filter_out should run.
	got, ok := applyFilters(0, []FilterOp{
		{Op: "filter_out", Value: 0},
		{Op: "offset", Value: 1000},
	})
	if ok {
		t.Fatalf("expected the value to stay dropped, got %v", got)
	}
}

func TestGroupByBaseOnlyIncludesPresentResults(t *testing.T) {
	bases := []RegisterBase{
		{Base: 0x10, Registers: []RegisterDef{{Name: "voltage"}, {Name: "current"}}},
		{Base: 0x20, Registers: []RegisterDef{{Name: "soc"}}},
	}
	results := map[string]float64{"voltage": 230, "soc": 80}

	grouped := groupByBase(bases, results)
	if len(grouped) != 2 {
		t.Fatalf("expected 2 non-empty bases, got %d", len(grouped))
	}
	if _, ok := grouped[0x10]["current"]; ok {
		t.Fatal("current was not in results and should not appear")
	}
	if grouped[0x10]["voltage"] != 230 {
		t.Fatalf("expected voltage=230, got %v", grouped[0x10])
	}
	if grouped[0x20]["soc"] != 80 {
		t.Fatalf("expected soc=80, got %v", grouped[0x20])
	}
}

func TestTopicPrefixOfStripsLastTwoSegments(t *testing.T) {
	got := topicPrefixOf("boneio/inverter1/state")
	if got != "boneio" {
		t.Fatalf("expected %q, got %q", "boneio", got)
	}
}
