package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

func TestLockMutualExclusion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !a.Granted || a.Seq != 1 {
		t.Fatalf("first acquire: %+v", a)
	}

	b, err := st.AcquireLock(ctx, "deploy", "agent-b", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if b.Granted {
		t.Fatal("second holder granted a live lock")
	}
	if b.Holder != "agent-a" {
		t.Fatalf("denied result should name the owner: %+v", b)
	}

	if err := st.ReleaseLock(ctx, "deploy", "agent-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	c, err := st.AcquireLock(ctx, "deploy", "agent-b", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !c.Granted || c.Seq != 2 {
		t.Fatalf("fresh acquisition should bump seq: %+v", c)
	}
}

func TestLockRenewalKeepsSeq(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetNow(func() time.Time { return base })

	a, _ := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	if !a.Granted || a.Seq != 1 {
		t.Fatalf("acquire: %+v", a)
	}

	st.SetNow(func() time.Time { return base.Add(30 * time.Second) })
	renewed, err := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.Granted || renewed.Seq != 1 {
		t.Fatalf("renewal must keep seq: %+v", renewed)
	}
	if !renewed.ExpiresAt.Equal(base.Add(90 * time.Second)) {
		t.Fatalf("renewal did not extend expiry: %v", renewed.ExpiresAt)
	}
}

func TestLockExpiryAllowsTakeoverWithNewSeq(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetNow(func() time.Time { return base })

	a, _ := st.AcquireLock(ctx, "deploy", "agent-a", 60*time.Second)
	if !a.Granted || a.Seq != 1 {
		t.Fatalf("acquire: %+v", a)
	}

	// One second past expiry the lock is up for grabs.
	st.SetNow(func() time.Time { return base.Add(61 * time.Second) })
	b, err := st.AcquireLock(ctx, "deploy", "agent-b", 60*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !b.Granted {
		t.Fatalf("expired lock still held: %+v", b)
	}
	if b.Seq != 2 {
		t.Fatalf("takeover must increment seq: %+v", b)
	}
}

func TestReleaseLockPreservesSeq(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, _ := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	if !a.Granted || a.Seq != 1 {
		t.Fatalf("acquire: %+v", a)
	}
	if err := st.ReleaseLock(ctx, "deploy", "agent-a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The row survives release with its seq intact.
	lock, err := st.GetLock(ctx, "deploy")
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	if lock.Seq != 1 {
		t.Fatalf("release dropped the seq: %+v", lock)
	}

	// Even the same holder coming back gets a fresh grant, not a renewal.
	b, err := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !b.Granted || b.Seq != 2 {
		t.Fatalf("reacquire after release should bump seq: %+v", b)
	}
}

func TestLockAuditEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetNow(func() time.Time { return base })

	if _, err := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// A renewal is not a new acquisition and writes nothing.
	if _, err := st.AcquireLock(ctx, "deploy", "agent-a", time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if err := st.ReleaseLock(ctx, "deploy", "agent-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Releasing the now-expired lock again writes nothing either.
	if err := st.ReleaseLock(ctx, "deploy", "agent-a"); err != nil {
		t.Fatalf("second release: %v", err)
	}

	acquired, err := st.QueryEvents(ctx, storage.EventQuery{Type: core.EventLockAcquired})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(acquired) != 1 {
		t.Fatalf("expected 1 lock.acquired event, got %d", len(acquired))
	}
	ap := acquired[0].Payload.(core.LockAcquiredPayload)
	if ap.Resource != "deploy" || ap.Holder != "agent-a" || ap.Seq != 1 {
		t.Fatalf("acquired payload wrong: %+v", ap)
	}

	released, err := st.QueryEvents(ctx, storage.EventQuery{Type: core.EventLockReleased})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("expected 1 lock.released event, got %d", len(released))
	}
	rp := released[0].Payload.(core.LockReleasedPayload)
	if rp.Resource != "deploy" || rp.Holder != "agent-a" {
		t.Fatalf("released payload wrong: %+v", rp)
	}
}

func TestReleaseLockHolderCheck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, _ = st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)

	err := st.ReleaseLock(ctx, "deploy", "agent-b")
	if !errors.Is(err, core.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}

	// Releasing a lock that doesn't exist is a no-op.
	if err := st.ReleaseLock(ctx, "missing", "agent-a"); err != nil {
		t.Fatalf("release of absent lock: %v", err)
	}
}

func TestGetLock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetLock(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, _ = st.AcquireLock(ctx, "deploy", "agent-a", time.Minute)
	lock, err := st.GetLock(ctx, "deploy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lock.Holder != "agent-a" || lock.Seq != 1 {
		t.Fatalf("wrong lock row: %+v", lock)
	}
}

func TestAcquireLockValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var verr *core.ValidationError

	if _, err := st.AcquireLock(ctx, "", "agent-a", time.Minute); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := st.AcquireLock(ctx, "deploy", "agent-a", 0); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for zero ttl, got %v", err)
	}
}
