package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ptca/certtrack/internal/db"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore implements Store in memory with the same range and ordering
// semantics as the SQL repository.
type fakeStore struct {
	records []*db.CertificationRecord
	log     []db.NotificationLog

	existsCalls int
	listCalls   int

	failExists bool
	failList   bool
	failAppend bool
}

func (f *fakeStore) ListExpiring(ctx context.Context, todayInclusive, cutoffInclusive time.Time) ([]*db.CertificationRecord, error) {
	f.listCalls++
	if f.failList {
		return nil, errStoreDown
	}

	var out []*db.CertificationRecord
	for _, rec := range f.records {
		d := MidnightUTC(rec.ExpiresOn)
		if !d.Before(MidnightUTC(todayInclusive)) && !d.After(MidnightUTC(cutoffInclusive)) {
			out = append(out, rec)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ExpiresOn.Before(out[j-1].ExpiresOn); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (f *fakeStore) NotificationExists(ctx context.Context, notificationType, periodKey string) (bool, error) {
	f.existsCalls++
	if f.failExists {
		return false, errStoreDown
	}
	for _, row := range f.log {
		if row.NotificationType == notificationType && row.PeriodKey == periodKey {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AppendNotification(ctx context.Context, notificationType, periodKey string, sentAtUtc time.Time) error {
	if f.failAppend {
		return errStoreDown
	}
	f.log = append(f.log, db.NotificationLog{
		NotificationType: notificationType,
		PeriodKey:        periodKey,
		SentAtUtc:        sentAtUtc,
	})
	return nil
}

type fakeNotifier struct {
	status   int
	err      error
	calls    int
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Send(ctx context.Context, subject, body string) (int, error) {
	f.calls++
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return f.status, f.err
}

type fakeLock struct {
	acquired    bool
	err         error
	lockCalls   int
	unlockCalls int
}

func (f *fakeLock) TryLock(ctx context.Context, key string) (bool, error) {
	f.lockCalls++
	return f.acquired, f.err
}

func (f *fakeLock) Unlock(ctx context.Context, key string) error {
	f.unlockCalls++
	return nil
}

var fixedNow = time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)

func newTestService(store *fakeStore, notifier *fakeNotifier, lock RunLock) *Service {
	svc := NewService(store, notifier, lock, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestRun_IdempotentPerPeriod(t *testing.T) {
	store := &fakeStore{records: []*db.CertificationRecord{
		certExpiringIn("Ann", "TIPS", 10),
	}}
	notifier := &fakeNotifier{status: 202}
	svc := newTestService(store, notifier, nil)

	first, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.AlreadySent {
		t.Error("first run reported AlreadySent")
	}
	if first.ExpiringCount != 1 {
		t.Errorf("first run count = %d, want 1", first.ExpiringCount)
	}
	if first.Status != 202 {
		t.Errorf("first run status = %d, want 202", first.Status)
	}

	second, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !second.AlreadySent {
		t.Error("second run in same period must report AlreadySent")
	}
	if second.ExpiringCount != 0 {
		t.Errorf("duplicate run count = %d, want 0", second.ExpiringCount)
	}
	if second.Status != 200 {
		t.Errorf("duplicate run status = %d, want 200", second.Status)
	}

	if len(store.log) != 1 {
		t.Errorf("expected exactly one log row, got %d", len(store.log))
	}
	if notifier.calls != 1 {
		t.Errorf("notifier called %d times, want 1", notifier.calls)
	}
	// The duplicate run must short-circuit before querying records.
	if store.listCalls != 1 {
		t.Errorf("records queried %d times, want 1", store.listCalls)
	}
}

func TestRun_DistinctWindowsDoNotSuppressEachOther(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 202}
	svc := newTestService(store, notifier, nil)

	if _, err := svc.Run(context.Background(), 60); err != nil {
		t.Fatalf("60-day run failed: %v", err)
	}
	res, err := svc.Run(context.Background(), 30)
	if err != nil {
		t.Fatalf("30-day run failed: %v", err)
	}
	if res.AlreadySent {
		t.Error("a different window length must not be deduplicated by the 60-day send")
	}
	if len(store.log) != 2 {
		t.Errorf("expected 2 log rows, got %d", len(store.log))
	}
}

func TestRun_WindowBoundaryInclusion(t *testing.T) {
	store := &fakeStore{records: []*db.CertificationRecord{
		certExpiringIn("Edge In", "TIPS", 60),
		certExpiringIn("Edge Out", "TIPS", 61),
	}}
	notifier := &fakeNotifier{status: 202}
	svc := newTestService(store, notifier, nil)

	res, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.ExpiringCount != 1 {
		t.Errorf("count = %d, want 1 (only the record at exactly windowDays)", res.ExpiringCount)
	}
	if !strings.Contains(notifier.bodies[0], "Edge In") {
		t.Error("record expiring at exactly windowDays missing from report")
	}
	if strings.Contains(notifier.bodies[0], "Edge Out") {
		t.Error("record expiring at windowDays+1 must be excluded")
	}
}

func TestRun_NegativeWindowFailsBeforeIO(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, &fakeNotifier{status: 202}, nil)

	_, err := svc.Run(context.Background(), -1)
	if !errors.Is(err, ErrNegativeWindow) {
		t.Fatalf("expected ErrNegativeWindow, got %v", err)
	}
	if store.existsCalls != 0 || store.listCalls != 0 {
		t.Error("negative window must fail before any store access")
	}
}

func TestRun_DeliveryFailureSkipsLogWrite(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 500}
	svc := newTestService(store, notifier, nil)

	_, err := svc.Run(context.Background(), 60)

	var dErr *DeliveryError
	if !errors.As(err, &dErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if dErr.Status != 500 {
		t.Errorf("delivery error status = %d, want 500", dErr.Status)
	}
	if len(store.log) != 0 {
		t.Error("log row must not be written after a failed send")
	}

	// The period stays retry-able: a later run can still succeed.
	notifier.status = 202
	res, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if res.AlreadySent {
		t.Error("retry run must not be treated as duplicate")
	}
	if len(store.log) != 1 {
		t.Errorf("expected one log row after successful retry, got %d", len(store.log))
	}
}

func TestRun_NotifierErrorIsDeliveryError(t *testing.T) {
	notifier := &fakeNotifier{status: 502, err: errors.New("connection refused")}
	svc := newTestService(&fakeStore{}, notifier, nil)

	_, err := svc.Run(context.Background(), 60)

	var dErr *DeliveryError
	if !errors.As(err, &dErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if dErr.Unwrap() == nil {
		t.Error("transport error must be preserved for the caller")
	}
}

func TestRun_StoreFailures(t *testing.T) {
	t.Run("dedup check fails", func(t *testing.T) {
		store := &fakeStore{failExists: true}
		notifier := &fakeNotifier{status: 202}
		svc := newTestService(store, notifier, nil)

		if _, err := svc.Run(context.Background(), 60); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if notifier.calls != 0 {
			t.Error("no send may happen after a failed dedup check")
		}
	})

	t.Run("expiry query fails", func(t *testing.T) {
		store := &fakeStore{failList: true}
		notifier := &fakeNotifier{status: 202}
		svc := newTestService(store, notifier, nil)

		if _, err := svc.Run(context.Background(), 60); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if notifier.calls != 0 {
			t.Error("no send may happen after a failed query")
		}
	})

	t.Run("log write fails after send", func(t *testing.T) {
		store := &fakeStore{failAppend: true}
		notifier := &fakeNotifier{status: 202}
		svc := newTestService(store, notifier, nil)

		if _, err := svc.Run(context.Background(), 60); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if notifier.calls != 1 {
			t.Errorf("send happened %d times, want 1", notifier.calls)
		}
	})
}

func TestRun_EndToEndScenario(t *testing.T) {
	note := "Sample"
	store := &fakeStore{records: []*db.CertificationRecord{
		{FullName: "John Doe", Certification: "TIPS", ExpiresOn: fixedNow.AddDate(0, 0, 25), Notes: &note},
		{FullName: "Jane Doe", Certification: "CrowdControl", ExpiresOn: fixedNow.AddDate(0, 0, 70)},
		{FullName: "Bob Smith", Certification: "FoodService", ExpiresOn: fixedNow.AddDate(0, 0, 10)},
	}}
	notifier := &fakeNotifier{status: 202}
	svc := newTestService(store, notifier, nil)

	res, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.ExpiringCount != 2 {
		t.Errorf("count = %d, want 2 (70-day record excluded)", res.ExpiringCount)
	}
	if res.PeriodKey != "2026-W07" {
		t.Errorf("period key = %q, want 2026-W07", res.PeriodKey)
	}

	body := notifier.bodies[0]
	if !strings.Contains(body, "   10d | 2026-02-25 | Bob Smith | FoodService") {
		t.Errorf("first bucket line missing:\n%s", body)
	}
	if !strings.Contains(body, "   25d | 2026-03-12 | John Doe | TIPS — Sample") {
		t.Errorf("second bucket line missing:\n%s", body)
	}
	if !strings.Contains(body, "=== Expiring in 31–60 days ===\n  (none)") {
		t.Errorf("empty third bucket not rendered with (none):\n%s", body)
	}
	if strings.Contains(body, "Jane Doe") {
		t.Error("record beyond the window leaked into the report")
	}

	if notifier.subjects[0] != "PTCA Cert Digest — next 60 days — 2026-W07" {
		t.Errorf("subject = %q", notifier.subjects[0])
	}
}

func TestRun_LockHeldByAnotherRun(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 202}
	lock := &fakeLock{acquired: false}
	svc := newTestService(store, notifier, lock)

	_, err := svc.Run(context.Background(), 60)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if notifier.calls != 0 {
		t.Error("no send may happen while another run holds the lock")
	}
	if len(store.log) != 0 {
		t.Error("no log row may be written while another run holds the lock")
	}
}

func TestRun_LockErrorDegradesGracefully(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 202}
	lock := &fakeLock{err: errors.New("redis down")}
	svc := newTestService(store, notifier, lock)

	res, err := svc.Run(context.Background(), 60)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.AlreadySent {
		t.Error("lock failure must not abort the run")
	}
	if len(store.log) != 1 {
		t.Errorf("expected one log row, got %d", len(store.log))
	}
}

func TestRun_LockReleasedAfterDeliveryFailure(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 500}
	lock := &fakeLock{acquired: true}
	svc := newTestService(store, notifier, lock)

	if _, err := svc.Run(context.Background(), 60); err == nil {
		t.Fatal("expected delivery error")
	}
	if lock.unlockCalls != 1 {
		t.Errorf("lock released %d times after failed send, want 1", lock.unlockCalls)
	}
}

func TestRun_LockKeptAfterSuccess(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{status: 202}
	lock := &fakeLock{acquired: true}
	svc := newTestService(store, notifier, lock)

	if _, err := svc.Run(context.Background(), 60); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if lock.unlockCalls != 0 {
		t.Error("lock must be left to expire after a successful run")
	}
}

func TestRun_ZeroWindow(t *testing.T) {
	store := &fakeStore{records: []*db.CertificationRecord{
		certExpiringIn("Ann", "TIPS", 0),
		certExpiringIn("Ben", "TIPS", 1),
	}}
	notifier := &fakeNotifier{status: 202}
	svc := newTestService(store, notifier, nil)

	res, err := svc.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExpiringCount != 1 {
		t.Errorf("count = %d, want 1 (only today's expiry)", res.ExpiringCount)
	}
}
