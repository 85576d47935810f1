package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/retail_backend/utils"
)

func TestWithConflictRetry_RetriesConflictOnce(t *testing.T) {
	t.Setenv("ALLOCATION_CONFLICT_RETRY", "true")

	calls := 0
	err := withConflictRetry(func() error {
		calls++
		if calls == 1 {
			return utils.NewAppError(utils.ErrorKindConcurrencyConflict, "lock contention")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithConflictRetry_SecondConflictSurfaces(t *testing.T) {
	t.Setenv("ALLOCATION_CONFLICT_RETRY", "true")

	calls := 0
	err := withConflictRetry(func() error {
		calls++
		return utils.NewAppError(utils.ErrorKindConcurrencyConflict, "lock contention")
	})
	if !utils.IsErrorKind(err, utils.ErrorKindConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestWithConflictRetry_OtherErrorsNotRetried(t *testing.T) {
	t.Setenv("ALLOCATION_CONFLICT_RETRY", "true")

	calls := 0
	boom := errors.New("boom")
	err := withConflictRetry(func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithConflictRetry_DisabledByFlag(t *testing.T) {
	t.Setenv("ALLOCATION_CONFLICT_RETRY", "false")

	calls := 0
	err := withConflictRetry(func() error {
		calls++
		return utils.NewAppError(utils.ErrorKindConcurrencyConflict, "lock contention")
	})
	if !utils.IsErrorKind(err, utils.ErrorKindConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
