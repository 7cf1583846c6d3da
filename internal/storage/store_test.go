package storage

import (
	"context"
	"errors"
	"testing"

	"pfsap/internal/model"
)

func summary(testID, hash, created string) model.RunSummary {
	return model.RunSummary{
		VersionedRecord: model.CurrentVersion(),
		TestID:          testID,
		RunHash:         hash,
		Pillar:          "gravity",
		Controller:      "pid",
		Steps:           160,
		Dir:             "artifacts/" + testID + "/" + hash,
		Scalars:         map[string]float64{"effort": 0.5},
		CreatedAtUTC:    created,
	}
}

// exerciseStore runs the shared contract against an initialized backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetRun(ctx, "BG01", "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}

	runs := []model.RunSummary{
		summary("BG01", "aaaaaaa", "2024-01-01T00:00:00Z"),
		summary("BG01", "bbbbbbb", "2024-01-03T00:00:00Z"),
		summary("TH01", "ccccccc", "2024-01-02T00:00:00Z"),
	}
	for _, run := range runs {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.Key(), err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "BG01", "aaaaaaa")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted run")
	}
	if loaded.Dir != runs[0].Dir || loaded.Scalars["effort"] != 0.5 || loaded.Steps != 160 {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	all, err := store.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(all) != 3 || all[0].RunHash != "bbbbbbb" || all[1].RunHash != "ccccccc" || all[2].RunHash != "aaaaaaa" {
		t.Fatalf("unexpected run order: %+v", all)
	}

	gravity, err := store.ListRuns(ctx, "BG01")
	if err != nil {
		t.Fatalf("list gravity runs: %v", err)
	}
	if len(gravity) != 2 {
		t.Fatalf("expected 2 gravity runs, got %d", len(gravity))
	}

	// Saving the same identity again replaces the entry.
	updated := summary("BG01", "aaaaaaa", "2024-01-04T00:00:00Z")
	updated.Diverged = true
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	all, err = store.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(all) != 3 || all[0].RunHash != "aaaaaaa" || !all[0].Diverged {
		t.Fatalf("expected overwritten run first: %+v", all)
	}

	if err := store.DeleteRun(ctx, "TH01", "ccccccc"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "TH01", "ccccccc"); err != nil || ok {
		t.Fatalf("expected deleted run, ok=%v err=%v", ok, err)
	}

	if err := store.SaveRun(ctx, model.RunSummary{TestID: "BG01"}); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected missing identity error, got %v", err)
	}
}

func TestMemoryStoreRunIndex(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	run := summary("BG01", "aaaaaaa", "2024-01-01T00:00:00Z")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run.Scalars["effort"] = 9

	loaded, _, err := store.GetRun(ctx, "BG01", "aaaaaaa")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if loaded.Scalars["effort"] != 0.5 {
		t.Fatalf("stored scalars were aliased: %+v", loaded.Scalars)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	err := NewMemoryStore().SaveRun(context.Background(), summary("BG01", "aaaaaaa", ""))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestDecodeRunSummaryRejectsVersionMismatch(t *testing.T) {
	run := summary("BG01", "aaaaaaa", "2024-01-01T00:00:00Z")
	run.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeRunSummary(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRunSummary(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}
