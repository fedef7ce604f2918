package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-ledger/internal/domain"
)

var sweepNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func reminderLedger(id, tenantID, studentID string, freq domain.ReminderFrequency, at time.Time) domain.Ledger {
	l := domain.NewLedger(id, tenantID, studentID, domain.ResolvedFees{
		Components: domain.FeeComponents{CourseFee: dec("1000")},
	})
	l.ReminderEnabled = true
	l.ReminderFrequency = freq
	l.NextReminderDate = timePtr(at)
	return l
}

type reminderFixture struct {
	svc      *ReminderService
	store    *memStore
	notifier *fakeNotifier
	kv       *fakeKV
	refs     *fakeRefs
}

func newReminderFixture(ledgers ReminderLedgerRepository, store *memStore) *reminderFixture {
	refs := newFakeRefs()
	refs.students["s1"] = domain.Student{ID: "s1", TenantID: testTenant, Name: "Ada", Email: "ada@example.com"}
	refs.students["s2"] = domain.Student{ID: "s2", TenantID: testTenant, Name: "Bo", Email: "bo@example.com"}
	f := &reminderFixture{store: store, notifier: &fakeNotifier{}, kv: newFakeKV(), refs: refs}
	if ledgers == nil {
		ledgers = store
	}
	f.svc = NewReminderService(ledgers, refs, f.notifier, f.kv, 0, quietLogger())
	return f
}

func TestSweepSendsAndAdvances(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)))
	store.put(reminderLedger("l2", testTenant, "s2", domain.FrequencyOnce, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)))
	// not due yet
	store.put(reminderLedger("l3", testTenant, "s3", domain.FrequencyWeekly, time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)))
	f := newReminderFixture(nil, store)

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 2, Sent: 2}, res)
	assert.ElementsMatch(t, []string{"l1", "l2"}, f.notifier.reminded)

	daily, _ := store.ledger(testTenant, "s1")
	assert.True(t, daily.ReminderEnabled)
	require.NotNil(t, daily.NextReminderDate)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC), *daily.NextReminderDate)
	assert.Equal(t, int64(2), daily.Version)

	once, _ := store.ledger(testTenant, "s2")
	assert.False(t, once.ReminderEnabled)
	assert.Nil(t, once.NextReminderDate)

	_, held := f.kv.vals[sweepLockKey]
	assert.False(t, held, "lock is released after the sweep")

	// nothing is due twice
	res, err = f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
}

func TestSweepSkipsWhenLocked(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	f := newReminderFixture(nil, store)
	f.kv.vals[sweepLockKey] = "other-instance"

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.Empty(t, f.notifier.reminded)
	assert.Equal(t, "other-instance", f.kv.vals[sweepLockKey])
}

func TestSweepSkipsLedgersWithoutTenant(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("legacy", "", "s1", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	f := newReminderFixture(nil, store)

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 1, Skipped: 1}, res)
	assert.Empty(t, f.notifier.reminded)
}

// tenantRecorder remembers which tenants the sweep listed.
type tenantRecorder struct {
	*memStore
	listed []string
}

func (r *tenantRecorder) ListDueReminders(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.Ledger, error) {
	r.listed = append(r.listed, tenantID)
	return r.memStore.ListDueReminders(ctx, tenantID, now, limit)
}

func TestSweepGoesTenantByTenant(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	store.put(reminderLedger("l9", "tenant-b", "s9", domain.FrequencyDaily, sweepNow.Add(-2*time.Hour)))
	store.put(reminderLedger("legacy", "", "s2", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	rec := &tenantRecorder{memStore: store}
	f := newReminderFixture(rec, store)
	f.refs.students["s9"] = domain.Student{ID: "s9", TenantID: "tenant-b", Name: "Cy", Email: "cy@example.com"}

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 3, Sent: 2, Skipped: 1}, res)
	assert.ElementsMatch(t, []string{testTenant, "tenant-b"}, rec.listed)
	assert.ElementsMatch(t, []string{"l1", "l9"}, f.notifier.reminded)

	other, _ := store.ledger("tenant-b", "s9")
	assert.Equal(t, int64(2), other.Version)
}

func TestUpdateReminderIgnoresOtherTenant(t *testing.T) {
	store := newMemStore()
	at := sweepNow.Add(-time.Hour)
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, at))

	err := store.UpdateReminder(context.Background(), "tenant-b", "l1", 1, domain.ReminderState{})
	assert.ErrorIs(t, err, domain.ErrStaleLedger)

	l, _ := store.ledger(testTenant, "s1")
	assert.True(t, l.ReminderEnabled)
	assert.Equal(t, int64(1), l.Version)
	require.NotNil(t, l.NextReminderDate)
	assert.Equal(t, at, *l.NextReminderDate)
}

// lockThief lets the lock expire and another instance take it while the
// sweep is still running.
type lockThief struct {
	*memStore
	kv *fakeKV
}

func (l lockThief) ReminderBacklog(ctx context.Context, now time.Time) ([]domain.ReminderBacklog, error) {
	l.kv.mu.Lock()
	l.kv.vals[sweepLockKey] = "other-instance"
	l.kv.mu.Unlock()
	return l.memStore.ReminderBacklog(ctx, now)
}

func TestSweepKeepsLockTakenOverByAnotherInstance(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	kv := newFakeKV()
	f := newReminderFixture(lockThief{memStore: store, kv: kv}, store)
	f.kv = kv
	f.svc.lock = kv

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, "other-instance", kv.vals[sweepLockKey])
}

func TestSweepKeepsDateWhenEmailFails(t *testing.T) {
	store := newMemStore()
	at := sweepNow.Add(-time.Hour)
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, at))
	f := newReminderFixture(nil, store)
	f.notifier.err = errors.New("smtp down")

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	l, _ := store.ledger(testTenant, "s1")
	require.NotNil(t, l.NextReminderDate)
	assert.Equal(t, at, *l.NextReminderDate)
}

type staleReminders struct {
	*memStore
}

func (s staleReminders) UpdateReminder(context.Context, string, string, int64, domain.ReminderState) error {
	return domain.Errorf(domain.ErrStaleLedger, "ledger changed")
}

func TestSweepLeavesConcurrentlyChangedLedger(t *testing.T) {
	store := newMemStore()
	store.put(reminderLedger("l1", testTenant, "s1", domain.FrequencyDaily, sweepNow.Add(-time.Hour)))
	f := newReminderFixture(staleReminders{store}, store)

	res, err := f.svc.Sweep(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 1, Skipped: 1}, res)
}

func TestAdvanceReminder(t *testing.T) {
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		freq    domain.ReminderFrequency
		want    *time.Time
		enabled bool
	}{
		{name: "weekly catches up", freq: domain.FrequencyWeekly, want: timePtr(time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)), enabled: true},
		{name: "monthly", freq: domain.FrequencyMonthly, want: timePtr(time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)), enabled: true},
		{name: "once stops", freq: domain.FrequencyOnce, want: nil, enabled: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := advanceReminder(domain.ReminderState{Enabled: true, Frequency: tt.freq, NextReminderDate: timePtr(at)}, sweepNow)
			assert.Equal(t, tt.enabled, st.Enabled)
			assert.Equal(t, tt.want, st.NextReminderDate)
		})
	}
}
