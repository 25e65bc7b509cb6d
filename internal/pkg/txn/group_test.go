package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
)

type fakeGroupStore struct {
	applied [][]model.TxOperation
	err     error
}

func (f *fakeGroupStore) Apply(_ context.Context, ops []model.TxOperation) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, ops)
	return nil
}

func TestRegistryCommitsGroup(t *testing.T) {
	store := &fakeGroupStore{}
	registry := NewRegistry(store)

	record, err := registry.Begin([]model.TxOperation{
		{Target: "users", Kind: "update", Payload: map[string]any{"status": "kicked"}},
		{Target: "kicks", Kind: "insert", Payload: map[string]any{"reason": "spam"}},
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if record.Status != enums.TxStatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}

	if err := registry.Submit(context.Background(), record.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := registry.Get(record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != enums.TxStatusCommitted {
		t.Fatalf("expected committed, got %s", got.Status)
	}
	if len(store.applied) != 1 || len(store.applied[0]) != 2 {
		t.Fatalf("expected one atomic application of both ops")
	}
}

func TestRegistryRollsBackWholeGroupOnFailure(t *testing.T) {
	store := &fakeGroupStore{err: errors.New("constraint failed")}
	registry := NewRegistry(store)

	record, err := registry.Begin([]model.TxOperation{{Target: "users", Kind: "update"}})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := registry.Submit(context.Background(), record.ID); err == nil {
		t.Fatalf("expected submit failure")
	}

	got, err := registry.Get(record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != enums.TxStatusRolledBack {
		t.Fatalf("expected rolled_back, got %s", got.Status)
	}
	if len(store.applied) != 0 {
		t.Fatalf("rolled back group must not apply anything")
	}
}

func TestRegistryRejectsEmptyGroup(t *testing.T) {
	registry := NewRegistry(&fakeGroupStore{})
	if _, err := registry.Begin(nil); err == nil {
		t.Fatalf("expected error for empty operation list")
	}
}

// blockingGroupStore parks Apply until released so a test can overlap two
// Submit calls deterministically.
type blockingGroupStore struct {
	entered chan struct{}
	release chan struct{}
	applied int
}

func (b *blockingGroupStore) Apply(_ context.Context, _ []model.TxOperation) error {
	b.entered <- struct{}{}
	<-b.release
	b.applied++
	return nil
}

func TestRegistrySubmitIsSingleFlight(t *testing.T) {
	store := &blockingGroupStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	registry := NewRegistry(store)

	record, err := registry.Begin([]model.TxOperation{{Target: "users", Kind: "update"}})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- registry.Submit(context.Background(), record.ID)
	}()
	<-store.entered

	// Second submit while the first holds the record must bounce without
	// touching the store.
	if err := registry.Submit(context.Background(), record.ID); err == nil {
		t.Fatalf("overlapping submit must be rejected")
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if store.applied != 1 {
		t.Fatalf("group must apply exactly once, got %d", store.applied)
	}

	got, err := registry.Get(record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != enums.TxStatusCommitted {
		t.Fatalf("expected committed, got %s", got.Status)
	}

	// And a submit after commit still reports the settled status.
	if err := registry.Submit(context.Background(), record.ID); err == nil {
		t.Fatalf("submit after commit must be rejected")
	}
}

func TestRegistrySweepDropsOldRecordsRegardlessOfStatus(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeGroupStore{}
	registry := NewRegistry(store)
	registry.now = func() time.Time { return now }

	oldRecord, _ := registry.Begin([]model.TxOperation{{Target: "users", Kind: "update"}})
	_ = registry.Submit(context.Background(), oldRecord.ID)

	now = now.Add(2 * time.Hour)
	freshRecord, _ := registry.Begin([]model.TxOperation{{Target: "kicks", Kind: "delete"}})

	if removed := registry.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept record, got %d", removed)
	}

	if _, err := registry.Get(oldRecord.ID); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected old record gone, got %v", err)
	}
	if _, err := registry.Get(freshRecord.ID); err != nil {
		t.Fatalf("fresh record must survive sweep: %v", err)
	}
}

func TestValidatePayloadRejectsInvalidBanDuration(t *testing.T) {
	tooLong := 9000
	err := ValidatePayload(BanPayload{
		TargetKind:    "ip",
		TargetID:      "203.0.113.5",
		AdminID:       1,
		Reason:        "abuse",
		DurationHours: &tooLong,
	})
	if err == nil {
		t.Fatalf("expected validation error for duration above one year")
	}

	ok := 48
	err = ValidatePayload(BanPayload{
		TargetKind:    "ip",
		TargetID:      "203.0.113.5",
		AdminID:       1,
		Reason:        "abuse",
		DurationHours: &ok,
	})
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestValidatePayloadRejectsUnderage(t *testing.T) {
	err := ValidatePayload(ProfilePayload{UserID: 1, Username: "sam", Age: 15})
	if err == nil {
		t.Fatalf("expected validation error for age below minimum")
	}
}
