package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/infrastructure/database"
	"github.com/nerrad567/devio-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var base = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func finished(dev device.ID, op device.Operation, state device.RequestState, at time.Duration) device.RequestInfo {
	started := base.Add(at - time.Millisecond)
	done := base.Add(at)
	info := device.RequestInfo{
		ID:          uuid.New(),
		Device:      dev,
		Op:          op,
		Offset:      512,
		Length:      1024,
		Transferred: 1024,
		State:       state,
		EnqueuedAt:  base.Add(at - 2*time.Millisecond),
		StartedAt:   &started,
		FinishedAt:  &done,
	}
	if state == device.StateFailed {
		info.Transferred = 100
		info.Error = "driver: offset out of range"
	}
	return info
}

func TestRecordAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	want := finished(device.ID{Major: 3, Minor: 0}, device.OpWrite, device.StateFailed, time.Second)

	if err := repo.Record(ctx, want); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	// Second insert of the same request is ignored.
	if err := repo.Record(ctx, want); err != nil {
		t.Fatalf("Record() duplicate error = %v", err)
	}

	got, err := repo.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != want.ID || got.Device != want.Device || got.Op != want.Op || got.State != want.State {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if got.Offset != 512 || got.Length != 1024 || got.Transferred != 100 || got.Error != want.Error {
		t.Errorf("Get() transfer fields = %+v", got)
	}
	if !got.EnqueuedAt.Equal(want.EnqueuedAt) || !got.StartedAt.Equal(*want.StartedAt) || !got.FinishedAt.Equal(*want.FinishedAt) {
		t.Errorf("Get() timestamps = %v %v %v", got.EnqueuedAt, got.StartedAt, got.FinishedAt)
	}

	if _, err := repo.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRecord_RejectsUnfinished(t *testing.T) {
	repo := newTestRepo(t)
	info := finished(device.ID{Major: 3}, device.OpRead, device.StateCompleted, 0)
	info.State = device.StateInProgress

	if err := repo.Record(context.Background(), info); err == nil {
		t.Error("Record() accepted an in-progress request")
	}
}

func TestRecord_CancelledWithoutStart(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	info := finished(device.ID{Major: 3}, device.OpRead, device.StateCancelled, 0)
	info.StartedAt = nil
	info.Transferred = 0

	if err := repo.Record(ctx, info); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil", got.StartedAt)
	}
}

func TestList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ram := device.ID{Major: 3, Minor: 0}
	tty := device.ID{Major: 4, Minor: 0}

	rows := []device.RequestInfo{
		finished(ram, device.OpWrite, device.StateCompleted, 1*time.Second),
		finished(ram, device.OpRead, device.StateCompleted, 2*time.Second),
		finished(ram, device.OpRead, device.StateFailed, 3*time.Second),
		finished(tty, device.OpWrite, device.StateCancelled, 4*time.Second),
	}
	for _, r := range rows {
		if err := repo.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	failed := device.StateFailed
	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst uuid.UUID
	}{
		{"all newest first", Filter{}, 4, rows[3].ID},
		{"by device", Filter{Device: &ram}, 3, rows[2].ID},
		{"by op", Filter{Op: device.OpWrite}, 2, rows[3].ID},
		{"by state", Filter{State: &failed}, 1, rows[2].ID},
		{"since", Filter{Since: base.Add(2 * time.Second)}, 3, rows[3].ID},
		{"paged", Filter{Limit: 1, Offset: 1}, 4, rows[2].ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Requests) == 0 || res.Requests[0].ID != tt.wantFirst {
				t.Errorf("first = %v, want %v", res.Requests, tt.wantFirst)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 10000, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("clamped Limit/Offset = %d/%d, want %d/0", res.Limit, res.Offset, MaxLimit)
	}
}

func TestList_Empty(t *testing.T) {
	repo := newTestRepo(t)
	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Requests == nil || len(res.Requests) != 0 || res.Limit != DefaultLimit {
		t.Errorf("List() = %+v, want empty non-nil page", res)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dev := device.ID{Major: 3}

	for i := 1; i <= 5; i++ {
		if err := repo.Record(ctx, finished(dev, device.OpRead, device.StateCompleted, time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.Prune(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}
	res, _ := repo.List(ctx, Filter{})
	if res.Total != 3 {
		t.Errorf("Total after prune = %d, want 3", res.Total)
	}
}

func TestInventory(t *testing.T) {
	repo := newTestRepo(t)
	repo.now = func() time.Time { return base }
	ctx := context.Background()

	tty := device.Entry{ID: device.ID{Major: 4, Minor: 0}, Name: "tty0", Kind: device.KindCharacter}
	null := device.Entry{ID: device.ID{Major: 1, Minor: 3}, Name: "null", Kind: device.KindCharacter}

	for _, e := range []device.Entry{tty, null} {
		if err := repo.DeviceRegistered(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.DeviceRemoved(ctx, tty); err != nil {
		t.Fatal(err)
	}

	inv, err := repo.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	if len(inv) != 2 || inv[0].Name != "null" || inv[1].Name != "tty0" {
		t.Fatalf("Inventory() = %+v", inv)
	}
	if inv[0].RemovedAt != nil || inv[1].RemovedAt == nil {
		t.Errorf("RemovedAt = %v / %v", inv[0].RemovedAt, inv[1].RemovedAt)
	}

	// Re-registering clears the removal.
	if err := repo.DeviceRegistered(ctx, tty); err != nil {
		t.Fatal(err)
	}
	inv, _ = repo.Inventory(ctx)
	if inv[1].RemovedAt != nil {
		t.Error("re-registered device still marked removed")
	}
}
