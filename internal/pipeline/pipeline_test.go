package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/iwsa-dev/iwsa/internal/export"
	"github.com/iwsa-dev/iwsa/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type flakyStage struct {
	failOn map[int]bool
	seen   int
}

func (s *flakyStage) Name() string { return "flaky" }

func (s *flakyStage) ProcessRow(row *types.Row) (int, error) {
	i := s.seen
	s.seen++
	if s.failOn[i] {
		return 0, fmt.Errorf("synthetic failure")
	}
	row.Set("touched", true)
	return 1, nil
}

type fakeExporter struct {
	name  string
	fail  bool
	calls atomic.Int32
}

func (e *fakeExporter) Name() string { return e.name }

func (e *fakeExporter) Export(_ context.Context, rows []*types.Row, _ export.Metadata) *export.Result {
	e.calls.Add(1)
	if e.fail {
		return &export.Result{Exporter: e.name, Error: "boom"}
	}
	return &export.Result{Exporter: e.name, Success: true, Records: len(rows)}
}

type fakeStore struct {
	stored int
	err    error
}

func (s *fakeStore) Store(_ context.Context, rows []*types.Row) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.stored += len(rows)
	return len(rows), nil
}

func dataRows(n int) []*types.Row {
	rows := make([]*types.Row, 0, n)
	for i := 0; i < n; i++ {
		r := types.NewRow()
		r.Set("title", fmt.Sprintf("Item %d", i))
		rows = append(rows, r)
	}
	return rows
}

func TestRunStageKeepsOriginalRowOnFailure(t *testing.T) {
	stage := &flakyStage{failOn: map[int]bool{1: true}}
	rows := dataRows(3)

	out, stats := runStage(context.Background(), stage, rows, testLogger)
	if len(out) != 3 {
		t.Fatalf("rows lost: %d", len(out))
	}
	if stats.Processed != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if out[1].Has("touched") {
		t.Fatal("failed row should be the untouched original")
	}
	if !out[0].Has("touched") || !out[2].Has("touched") {
		t.Fatal("surviving rows should be transformed")
	}
}

func TestRunStageCancellationPassesRemainingRowsThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := &flakyStage{}
	out, stats := runStage(ctx, stage, dataRows(4), testLogger)
	if len(out) != 4 {
		t.Fatalf("rows lost on cancellation: %d", len(out))
	}
	if stats.Processed != 0 {
		t.Fatalf("cancelled run should process nothing, got %d", stats.Processed)
	}
}

func TestProcessRunsAllStagesInOrder(t *testing.T) {
	p := New(Options{}, nil, nil, testLogger)
	rows := dataRows(2)
	rows[0].Set("price", "$5.00")

	res := p.Process(context.Background(), rows)
	if !res.Success {
		t.Fatalf("process failed: %v", res.Errors)
	}
	want := []string{"cleaner", "validator", "enricher"}
	if len(res.StageOrder) != 3 {
		t.Fatalf("stage order = %v", res.StageOrder)
	}
	for i, name := range want {
		if res.StageOrder[i] != name {
			t.Fatalf("stage order = %v, want %v", res.StageOrder, want)
		}
	}
	if res.Rows[0].GetString("price") != "5.00" {
		t.Errorf("cleaner did not run: %q", res.Rows[0].GetString("price"))
	}
	if !res.Rows[0].Has(types.KeyValidationScore) || !res.Rows[0].Has(types.KeyContentHash) {
		t.Error("validator or enricher did not run")
	}
}

func TestProcessStageToggles(t *testing.T) {
	p := New(Options{SkipCleaning: true, SkipEnrichment: true}, nil, nil, testLogger)
	res := p.Process(context.Background(), dataRows(1))
	if len(res.StageOrder) != 1 || res.StageOrder[0] != "validator" {
		t.Fatalf("stage order = %v", res.StageOrder)
	}
}

func TestProcessAndExportFanOut(t *testing.T) {
	ok1 := &fakeExporter{name: "csv"}
	ok2 := &fakeExporter{name: "json"}
	bad := &fakeExporter{name: "sheets", fail: true}
	store := &fakeStore{}

	p := New(Options{}, []export.Exporter{ok1, ok2, bad}, store, testLogger)
	res := p.ProcessAndExport(context.Background(), dataRows(3), export.Metadata{SourceDomain: "shop.test"})

	if !res.Success {
		t.Fatalf("run should succeed with one failed exporter: %v", res.Errors)
	}
	if ok1.calls.Load() != 1 || ok2.calls.Load() != 1 || bad.calls.Load() != 1 {
		t.Fatal("every exporter should run exactly once")
	}
	if len(res.Exports) != 3 {
		t.Fatalf("exports = %d", len(res.Exports))
	}
	if res.Stored != 3 {
		t.Fatalf("stored = %d, want 3", res.Stored)
	}
}

func TestProcessAndExportAllExportersFailed(t *testing.T) {
	bad := &fakeExporter{name: "csv", fail: true}
	p := New(Options{}, []export.Exporter{bad}, nil, testLogger)
	res := p.ProcessAndExport(context.Background(), dataRows(1), export.Metadata{})
	if res.Success {
		t.Fatal("run must fail when no exporter succeeds")
	}
}

func TestProcessAndExportStorageErrorFailsRun(t *testing.T) {
	ok := &fakeExporter{name: "csv"}
	store := &fakeStore{err: errors.New("connection refused")}
	p := New(Options{}, []export.Exporter{ok}, store, testLogger)

	res := p.ProcessAndExport(context.Background(), dataRows(1), export.Metadata{})
	if res.Success {
		t.Fatal("storage failure must fail the run")
	}
	if len(res.Errors) == 0 {
		t.Fatal("storage error should be recorded")
	}
	if ok.calls.Load() != 1 {
		t.Fatal("exporters still run so the data is not lost")
	}
}

func TestProcessAndExportEmptyInputFails(t *testing.T) {
	p := New(Options{}, []export.Exporter{&fakeExporter{name: "csv"}}, nil, testLogger)
	res := p.ProcessAndExport(context.Background(), nil, export.Metadata{})
	if res.Success {
		t.Fatal("empty input must not report success")
	}
}

func TestStoreOnlyWithoutStoreErrors(t *testing.T) {
	p := New(Options{}, nil, nil, testLogger)
	if _, err := p.StoreOnly(context.Background(), dataRows(1)); err == nil {
		t.Fatal("expected error without a configured store")
	}
}
