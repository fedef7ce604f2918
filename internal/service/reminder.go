package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/domain"
)

const (
	sweepLockKey = "reminder_sweep_lock"
	sweepLockTTL = 10 * time.Minute
)

type ReminderLedgerRepository interface {
	ReminderBacklog(ctx context.Context, now time.Time) ([]domain.ReminderBacklog, error)
	ListDueReminders(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.Ledger, error)
	UpdateReminder(ctx context.Context, tenantID, id string, version int64, st domain.ReminderState) error
}

// SweepLock is held by one sweeping instance at a time. The holder's token
// must match for the release to take effect.
type SweepLock interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
}

type ReminderNotifier interface {
	SendReminder(ctx context.Context, student domain.Student, l domain.Ledger) error
}

type SweepResult struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
	Locked  bool
}

type ReminderService struct {
	ledgers  ReminderLedgerRepository
	refs     ReferenceRepository
	notifier ReminderNotifier
	lock     SweepLock
	batch    int
	log      *logrus.Logger
}

func NewReminderService(ledgers ReminderLedgerRepository, refs ReferenceRepository, notifier ReminderNotifier, lock SweepLock, batch int, log *logrus.Logger) *ReminderService {
	if batch <= 0 {
		batch = 200
	}
	return &ReminderService{
		ledgers:  ledgers,
		refs:     refs,
		notifier: notifier,
		lock:     lock,
		batch:    batch,
		log:      log,
	}
}

// Sweep sends every reminder that is due at now and moves each ledger's
// reminder date forward, tenant by tenant. Only one instance sweeps at a
// time; the others return with Locked set.
func (s *ReminderService) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	if s.lock != nil {
		token := uuid.NewString()
		ok, err := s.lock.SetNX(ctx, sweepLockKey, token, sweepLockTTL)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Locked = true
			return res, nil
		}
		defer func() {
			released, err := s.lock.DelIfEqual(context.Background(), sweepLockKey, token)
			if err != nil {
				s.log.WithError(err).Warn("failed to release reminder sweep lock")
				return
			}
			if !released {
				s.log.Warn("reminder sweep lock expired before the sweep finished")
			}
		}()
	}

	backlog, err := s.ledgers.ReminderBacklog(ctx, now)
	if err != nil {
		return res, err
	}

	for _, b := range backlog {
		if b.TenantID == "" {
			s.log.WithField("due", b.Due).Warn("skipping reminders for ledgers without tenant, run ledgerctl backfill-tenant")
			res.Due += b.Due
			res.Skipped += b.Due
			continue
		}
		if err := s.sweepTenant(ctx, b.TenantID, now, &res); err != nil {
			return res, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"due":     res.Due,
		"sent":    res.Sent,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	}).Info("reminder sweep finished")
	return res, nil
}

func (s *ReminderService) sweepTenant(ctx context.Context, tenantID string, now time.Time, res *SweepResult) error {
	due, err := s.ledgers.ListDueReminders(ctx, tenantID, now, s.batch)
	if err != nil {
		return err
	}
	res.Due += len(due)

	for _, l := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "ledger_id": l.ID})

		student, err := s.refs.FindStudent(ctx, tenantID, l.StudentID)
		if err != nil {
			logger.WithError(err).Error("reminder student lookup failed")
			res.Failed++
			continue
		}
		if err := s.notifier.SendReminder(ctx, *student, l); err != nil {
			logger.WithError(err).Error("reminder e-mail failed")
			res.Failed++
			continue
		}

		err = s.ledgers.UpdateReminder(ctx, tenantID, l.ID, l.Version, advanceReminder(l.ReminderState(), now))
		switch {
		case errors.Is(err, domain.ErrStaleLedger):
			logger.Info("ledger changed during sweep, leaving reminder for next run")
			res.Skipped++
		case err != nil:
			logger.WithError(err).Error("reminder update failed")
			res.Failed++
		default:
			res.Sent++
		}
	}
	return nil
}

// advanceReminder moves the reminder date past now by whole frequency steps.
// Frequencies that do not repeat switch reminders off.
func advanceReminder(st domain.ReminderState, now time.Time) domain.ReminderState {
	if st.NextReminderDate == nil {
		st.Enabled = false
		return st
	}
	next := *st.NextReminderDate
	for !next.After(now) {
		n, ok := domain.NextReminderAfter(next, st.Frequency)
		if !ok {
			st.Enabled = false
			st.NextReminderDate = nil
			return st
		}
		next = n
	}
	st.NextReminderDate = &next
	return st
}
