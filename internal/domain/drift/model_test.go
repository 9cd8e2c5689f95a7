package drift

import (
	"testing"
)

func sampleResult() *Result {
	r := &Result{
		RunID: "run-1",
		Entities: []EntityDrift{
			{
				EntityName: "web",
				Matched:    true,
				Items: []Item{
					{FieldPath: "labels.app.version", Severity: SeverityCosmetic},
					{FieldPath: "image", Severity: SeverityBreaking},
				},
			},
			{EntityName: "cache", Matched: true, Items: []Item{}},
			{EntityName: "old", EntityMissing: true, Items: []Item{}},
			{EntityName: "adhoc", BaselineMissing: true, Items: []Item{}},
		},
	}
	r.Recount()
	return r
}

func TestRecount(t *testing.T) {
	r := sampleResult()

	if r.EntitiesAnalyzed != 4 {
		t.Errorf("EntitiesAnalyzed = %d, want 4", r.EntitiesAnalyzed)
	}
	if r.EntitiesWithDrift != 3 {
		t.Errorf("EntitiesWithDrift = %d, want 3", r.EntitiesWithDrift)
	}
	if r.SeveritySummary.Breaking != 1 || r.SeveritySummary.Cosmetic != 1 || r.SeveritySummary.Total() != 2 {
		t.Errorf("SeveritySummary = %+v", r.SeveritySummary)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidateRejectsInconsistentResults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Result)
	}{
		{
			name: "missing entity with items",
			mutate: func(r *Result) {
				r.Entities[2].Items = []Item{{FieldPath: "image", Severity: SeverityBreaking}}
			},
		},
		{
			name:   "stale summary",
			mutate: func(r *Result) { r.SeveritySummary.Breaking = 5 },
		},
		{
			name:   "stale drift count",
			mutate: func(r *Result) { r.EntitiesWithDrift = 0 },
		},
		{
			name: "unknown severity",
			mutate: func(r *Result) {
				r.Entities[0].Items[0].Severity = "critical"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleResult()
			tt.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestSortItemsAndHighestSeverity(t *testing.T) {
	r := sampleResult()
	r.SortItems()

	if r.Entities[0].EntityName != "web" {
		t.Fatalf("entity order must be preserved, got %q first", r.Entities[0].EntityName)
	}
	web := r.Entities[0]
	if web.Items[0].FieldPath != "image" {
		t.Errorf("items not sorted by path: %v", web.Items)
	}
	if web.HighestSeverity() != SeverityBreaking {
		t.Errorf("HighestSeverity() = %q", web.HighestSeverity())
	}
	if got := web.ItemsBySeverity(SeverityCosmetic); len(got) != 1 || got[0].FieldPath != "labels.app.version" {
		t.Errorf("ItemsBySeverity() = %v", got)
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityBreaking.Rank() < SeverityFunctional.Rank() &&
		SeverityFunctional.Rank() < SeverityCosmetic.Rank() &&
		SeverityCosmetic.Rank() < SeverityInformational.Rank()) {
		t.Error("severity ranks out of order")
	}
	if _, err := ParseSeverity("critical"); err == nil {
		t.Error("ParseSeverity(critical) should fail")
	}
}

func TestDriftPercent(t *testing.T) {
	r := sampleResult()
	if got := r.DriftPercent(); got != 75 {
		t.Errorf("DriftPercent() = %v, want 75", got)
	}
	if (&Result{}).DriftPercent() != 0 {
		t.Error("empty result should report 0%")
	}
}
