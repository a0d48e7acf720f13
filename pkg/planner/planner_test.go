package planner

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aaravmat1209/public-comment-analysis/pkg/checkpoint"
)

func baseInput() Input {
	return Input{
		DocumentID:      "EPA-HQ-OAR-2021-0317-0001",
		ObjectID:        "0900006480b1b942",
		TotalRecords:    520,
		PageSize:        250,
		MaxPagesPerSet:  20,
		WorkersPerBatch: 2,
	}
}

func TestBuild_PartitionsRecordsIntoBatches(t *testing.T) {
	plan, err := Build(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if plan.TotalSets != 1 {
		t.Errorf("TotalSets = %d, want 1", plan.TotalSets)
	}
	if plan.TotalBatches != 2 {
		t.Fatalf("TotalBatches = %d, want 2", plan.TotalBatches)
	}
	if plan.TotalWorkers != 3 {
		t.Errorf("TotalWorkers = %d, want 3", plan.TotalWorkers)
	}

	// Batch 0: pages 1 and 2, full pages.
	b0 := plan.Batches[0]
	if b0.BatchID != 0 || b0.ExpectedWorkers != 2 {
		t.Errorf("batch 0 = {id %d, workers %d}, want {0, 2}", b0.BatchID, b0.ExpectedWorkers)
	}
	for i, item := range b0.Items {
		if item.WorkerID != i || item.PageNumber != i+1 || item.ExpectedCount != 250 {
			t.Errorf("batch 0 item %d = {worker %d, page %d, expected %d}",
				i, item.WorkerID, item.PageNumber, item.ExpectedCount)
		}
	}

	// Batch 1: the 20-record remainder page.
	b1 := plan.Batches[1]
	if b1.BatchID != 1 || len(b1.Items) != 1 {
		t.Fatalf("batch 1 = {id %d, items %d}, want {1, 1}", b1.BatchID, len(b1.Items))
	}
	item := b1.Items[0]
	if item.WorkerID != 2 || item.PageNumber != 3 || item.ExpectedCount != 20 {
		t.Errorf("batch 1 item = {worker %d, page %d, expected %d}, want {2, 3, 20}",
			item.WorkerID, item.PageNumber, item.ExpectedCount)
	}
	if item.SetNumber != 1 {
		t.Errorf("SetNumber = %d, want 1", item.SetNumber)
	}
}

func TestBuild_MultipleSets(t *testing.T) {
	in := baseInput()
	in.TotalRecords = 12500 // 2.5 sets at 5000 records per set
	plan, err := Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if plan.TotalSets != 3 {
		t.Errorf("TotalSets = %d, want 3", plan.TotalSets)
	}
	// Sets 1 and 2 need 20 pages each (10 batches of 2); set 3 needs 10 pages.
	if plan.TotalBatches != 25 {
		t.Errorf("TotalBatches = %d, want 25", plan.TotalBatches)
	}
	if plan.TotalWorkers != 50 {
		t.Errorf("TotalWorkers = %d, want 50", plan.TotalWorkers)
	}

	// Page numbers restart at 1 in every set.
	for _, b := range plan.Batches {
		for _, item := range b.Items {
			if item.PageNumber < 1 || item.PageNumber > in.MaxPagesPerSet {
				t.Errorf("set %d item has page %d outside [1, %d]",
					b.SetNumber, item.PageNumber, in.MaxPagesPerSet)
			}
		}
	}

	last := plan.Batches[len(plan.Batches)-1]
	if last.SetNumber != 3 {
		t.Errorf("last batch SetNumber = %d, want 3", last.SetNumber)
	}

	// Expected counts across all items sum to the record total.
	sum := 0
	for _, b := range plan.Batches {
		for _, item := range b.Items {
			sum += item.ExpectedCount
		}
	}
	if sum != in.TotalRecords {
		t.Errorf("sum of ExpectedCount = %d, want %d", sum, in.TotalRecords)
	}
}

func TestBuild_ZeroRecords(t *testing.T) {
	in := baseInput()
	in.TotalRecords = 0
	plan, err := Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.Batches) != 0 || plan.TotalWorkers != 0 {
		t.Errorf("empty document plan = {batches %d, workers %d}, want empty",
			len(plan.Batches), plan.TotalWorkers)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	first, err := Build(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := Build(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Build() is not deterministic for identical input")
	}
}

func TestBuild_SkipsCompletedPages(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	// Worker 0 / page 1 finished in a prior run; worker 1 / page 2 is
	// mid-flight with a resume marker.
	mustPut(t, store, &checkpoint.Checkpoint{
		DocumentID: "EPA-HQ-OAR-2021-0317-0001",
		WorkerID:   0, PageNumber: 1,
		Completed: true,
	})
	mustPut(t, store, &checkpoint.Checkpoint{
		DocumentID: "EPA-HQ-OAR-2021-0317-0001",
		WorkerID:   1, PageNumber: 2,
		ResumeMarker: "2025-01-15T09:30:00Z",
	})

	in := baseInput()
	in.Checkpoints = store
	plan, err := Build(ctx, in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if plan.SkippedPages != 1 {
		t.Errorf("SkippedPages = %d, want 1", plan.SkippedPages)
	}
	// Worker IDs are unchanged by the skip.
	if plan.TotalWorkers != 3 {
		t.Errorf("TotalWorkers = %d, want 3", plan.TotalWorkers)
	}

	b0 := plan.Batches[0]
	if len(b0.Items) != 1 {
		t.Fatalf("batch 0 has %d items, want 1", len(b0.Items))
	}
	if b0.Items[0].WorkerID != 1 || b0.Items[0].PageNumber != 2 {
		t.Errorf("surviving item = {worker %d, page %d}, want {1, 2}",
			b0.Items[0].WorkerID, b0.Items[0].PageNumber)
	}
	if b0.Items[0].ResumeMarker != "2025-01-15T09:30:00Z" {
		t.Errorf("ResumeMarker = %q, want carried forward", b0.Items[0].ResumeMarker)
	}
}

func TestBuild_AllPagesCompleted(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	in := baseInput()

	for worker, page := range map[int]int{0: 1, 1: 2, 2: 3} {
		mustPut(t, store, &checkpoint.Checkpoint{
			DocumentID: in.DocumentID,
			WorkerID:   worker, PageNumber: page,
			Completed: true,
		})
	}

	in.Checkpoints = store
	plan, err := Build(ctx, in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(plan.Batches) != 0 {
		t.Errorf("Batches = %d, want 0 when everything is checkpointed", len(plan.Batches))
	}
	// The worker counter still advanced past every skipped page.
	if plan.TotalWorkers != 3 {
		t.Errorf("TotalWorkers = %d, want 3", plan.TotalWorkers)
	}
	if plan.SkippedPages != 3 {
		t.Errorf("SkippedPages = %d, want 3", plan.SkippedPages)
	}
}

func TestBuild_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"negative records", func(in *Input) { in.TotalRecords = -1 }},
		{"zero page size", func(in *Input) { in.PageSize = 0 }},
		{"page size over source max", func(in *Input) { in.PageSize = 251 }},
		{"zero pages per set", func(in *Input) { in.MaxPagesPerSet = 0 }},
		{"pages per set over source max", func(in *Input) { in.MaxPagesPerSet = 21 }},
		{"zero workers per batch", func(in *Input) { in.WorkersPerBatch = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			_, err := Build(context.Background(), in)
			if !errors.Is(err, ErrInvalidPartition) {
				t.Errorf("Build() error = %v, want ErrInvalidPartition", err)
			}
		})
	}
}

func TestReprocess_SingleBatchWithGivenItems(t *testing.T) {
	items := []WorkItem{
		{BatchID: 4, WorkerID: 9, PageNumber: 10, PageSize: 250, ExpectedCount: 250, SetNumber: 1},
		{BatchID: 4, WorkerID: 11, PageNumber: 12, PageSize: 250, ExpectedCount: 130, SetNumber: 1},
	}

	plan, err := Reprocess("DOC-1", "obj-1", items)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	if plan.TotalBatches != 1 || len(plan.Batches) != 1 {
		t.Fatalf("TotalBatches = %d, want 1", plan.TotalBatches)
	}
	if !reflect.DeepEqual(plan.Batches[0].Items, items) {
		t.Errorf("batch items = %+v, want the given items unchanged", plan.Batches[0].Items)
	}
	if plan.Batches[0].ExpectedWorkers != 2 {
		t.Errorf("ExpectedWorkers = %d, want 2", plan.Batches[0].ExpectedWorkers)
	}
}

func TestReprocess_EmptyListIsError(t *testing.T) {
	_, err := Reprocess("DOC-1", "obj-1", nil)
	if !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("Reprocess() error = %v, want ErrInvalidPartition", err)
	}
}

func mustPut(t *testing.T, store checkpoint.Store, cp *checkpoint.Checkpoint) {
	t.Helper()
	if err := store.Put(context.Background(), cp); err != nil {
		t.Fatalf("checkpoint Put() error = %v", err)
	}
}
