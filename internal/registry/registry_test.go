package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vanboompow/ai-agent-dashboard/internal/domain"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/internal/store/memstore"
)

func putWorker(t *testing.T, st store.Store, w domain.Worker) {
	t.Helper()
	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal worker: %v", err)
	}
	if err := st.HSet(context.Background(), domain.WorkerKey(w.ID), map[string]string{"record": string(raw)}, 0); err != nil {
		t.Fatalf("HSet: %v", err)
	}
}

func TestWorkersReturnsSortedRecords(t *testing.T) {
	st := memstore.New()
	putWorker(t, st, domain.Worker{ID: "w2", Status: domain.WorkerStatusIdle, LastHeartbeat: time.Now()})
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusIdle, LastHeartbeat: time.Now()})

	d := New(st)
	workers, err := d.Workers(context.Background())
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 2 || workers[0].ID != "w1" || workers[1].ID != "w2" {
		t.Errorf("Workers = %v, want sorted [w1 w2]", workers)
	}
}

func TestWorkersMarksStaleHeartbeatOffline(t *testing.T) {
	st := memstore.New()
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusWorking, LastHeartbeat: time.Now().Add(-time.Minute)})

	d := New(st)
	workers, err := d.Workers(context.Background())
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 1 || workers[0].Status != domain.WorkerStatusOffline {
		t.Errorf("expected stale worker marked offline, got %+v", workers)
	}
}

func TestWorkersSkipsCorruptRecords(t *testing.T) {
	st := memstore.New()
	_ = st.HSet(context.Background(), domain.WorkerKey("bad"), map[string]string{"record": "{not json"}, 0)
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusIdle, LastHeartbeat: time.Now()})

	d := New(st)
	workers, err := d.Workers(context.Background())
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 1 {
		t.Errorf("expected the corrupt record to be skipped, got %d workers", len(workers))
	}
}

func TestGetUnknownWorkerReturnsNotFound(t *testing.T) {
	d := New(memstore.New())
	_, err := d.Get(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected an error for an unregistered worker")
	}
}

func TestSetPausedTogglesStatus(t *testing.T) {
	st := memstore.New()
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusIdle, LastHeartbeat: time.Now()})
	d := New(st)
	ctx := context.Background()

	w, err := d.SetPaused(ctx, "w1", true)
	if err != nil {
		t.Fatalf("SetPaused(true): %v", err)
	}
	if w.Status != domain.WorkerStatusPaused {
		t.Errorf("status = %s, want paused", w.Status)
	}

	w, err = d.SetPaused(ctx, "w1", false)
	if err != nil {
		t.Fatalf("SetPaused(false): %v", err)
	}
	if w.Status != domain.WorkerStatusIdle {
		t.Errorf("status = %s, want idle after resume", w.Status)
	}
}

func TestSetPausedResumeIsNoOpWhenNotPaused(t *testing.T) {
	st := memstore.New()
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusWorking, LastHeartbeat: time.Now()})
	d := New(st)

	w, err := d.SetPaused(context.Background(), "w1", false)
	if err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	if w.Status != domain.WorkerStatusWorking {
		t.Errorf("status = %s, want working (resume should not touch a non-paused worker)", w.Status)
	}
}

func TestRemoveDeletesWorkerRecord(t *testing.T) {
	st := memstore.New()
	putWorker(t, st, domain.Worker{ID: "w1", Status: domain.WorkerStatusIdle, LastHeartbeat: time.Now()})
	d := New(st)
	ctx := context.Background()

	if err := d.Remove(ctx, "w1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := d.Get(ctx, "w1"); err == nil {
		t.Error("expected the worker record to be gone after Remove")
	}
}
