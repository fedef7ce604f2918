package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/domain"
	"academy-ledger/internal/repository"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func intPtr(v int) *int { return &v }

// memStore keeps ledgers, transactions and counters the way the Postgres
// repositories do, including the version check.
type memStore struct {
	mu       sync.Mutex
	ledgers  map[string]domain.Ledger
	txs      []domain.Transaction
	counters map[string]int64

	commitErr     error
	counterErr    error
	invoiceURLErr error
	commits       int
}

func newMemStore() *memStore {
	return &memStore{
		ledgers:  map[string]domain.Ledger{},
		counters: map[string]int64{},
	}
}

func ledgerKey(tenantID, studentID string) string {
	return tenantID + "|" + studentID
}

func (m *memStore) put(l domain.Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.Version == 0 {
		l.Version = 1
	}
	m.ledgers[ledgerKey(l.TenantID, l.StudentID)] = l.Clone()
}

func (m *memStore) ledger(tenantID, studentID string) (domain.Ledger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[ledgerKey(tenantID, studentID)]
	return l.Clone(), ok
}

func (m *memStore) FindByStudent(_ context.Context, tenantID, studentID string) (*domain.Ledger, error) {
	l, ok := m.ledger(tenantID, studentID)
	if !ok {
		return nil, domain.Errorf(domain.ErrLedgerNotFound, "no ledger for student %s", studentID)
	}
	return &l, nil
}

func (m *memStore) CommitPayment(_ context.Context, c repository.PaymentCommit) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return 0, m.commitErr
	}

	key := ledgerKey(c.Ledger.TenantID, c.Ledger.StudentID)
	existing, ok := m.ledgers[key]
	l := c.Ledger.Clone()
	if c.IsNew {
		if ok {
			return 0, domain.Errorf(domain.ErrDuplicateLedger, "ledger exists")
		}
		l.Version = 1
	} else {
		if !ok || existing.Version != c.Ledger.Version {
			return 0, domain.Errorf(domain.ErrStaleLedger, "stale")
		}
		l.Version = existing.Version + 1
	}

	for _, t := range c.Transactions {
		for _, prev := range m.txs {
			if prev.TenantID == t.TenantID && prev.InvoiceNumber == t.InvoiceNumber {
				return 0, domain.Errorf(domain.ErrCounterUnavailable, "duplicate invoice number %s", t.InvoiceNumber)
			}
		}
	}
	m.txs = append(m.txs, c.Transactions...)
	m.ledgers[key] = l
	m.commits++
	return l.Version, nil
}

func (m *memStore) transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.txs...)
}

func (m *memStore) filter(keep func(domain.Transaction) bool) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txs {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) ListByLedger(_ context.Context, tenantID, ledgerID string) ([]domain.Transaction, error) {
	return m.filter(func(t domain.Transaction) bool {
		return t.TenantID == tenantID && t.PaymentID == ledgerID
	}), nil
}

func (m *memStore) ListByStudent(_ context.Context, tenantID, studentID string) ([]domain.Transaction, error) {
	return m.filter(func(t domain.Transaction) bool {
		return t.TenantID == tenantID && t.StudentID == studentID
	}), nil
}

func (m *memStore) CountByLedger(ctx context.Context, tenantID, ledgerID string) (int, error) {
	txs, _ := m.ListByLedger(ctx, tenantID, ledgerID)
	return len(txs), nil
}

func (m *memStore) SetInvoiceURL(_ context.Context, tenantID, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invoiceURLErr != nil {
		return m.invoiceURLErr
	}
	for i := range m.txs {
		if m.txs[i].TenantID == tenantID && m.txs[i].ID == id {
			u := url
			m.txs[i].InvoiceURL = &u
			m.txs[i].InvoiceGenerated = true
			return nil
		}
	}
	return errors.New("transaction not found")
}

func (m *memStore) Next(_ context.Context, tenantID, yearMonth string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counterErr != nil {
		return 0, m.counterErr
	}
	key := tenantID + "|" + yearMonth
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memStore) counter(tenantID, yearMonth string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[tenantID+"|"+yearMonth]
}

func (m *memStore) dueReminder(l domain.Ledger, now time.Time) bool {
	return l.ReminderEnabled && l.NextReminderDate != nil && !l.NextReminderDate.After(now)
}

func (m *memStore) ReminderBacklog(_ context.Context, now time.Time) ([]domain.ReminderBacklog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, l := range m.ledgers {
		if m.dueReminder(l, now) {
			counts[l.TenantID]++
		}
	}
	out := make([]domain.ReminderBacklog, 0, len(counts))
	for tenantID, n := range counts {
		out = append(out, domain.ReminderBacklog{TenantID: tenantID, Due: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *memStore) ListDueReminders(_ context.Context, tenantID string, now time.Time, limit int) ([]domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ledger
	for _, l := range m.ledgers {
		if l.TenantID == tenantID && m.dueReminder(l, now) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextReminderDate.Before(*out[j].NextReminderDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateReminder(_ context.Context, tenantID, id string, version int64, st domain.ReminderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, l := range m.ledgers {
		if l.ID != id || l.TenantID != tenantID {
			continue
		}
		if l.Version != version {
			return domain.Errorf(domain.ErrStaleLedger, "stale")
		}
		l.ReminderEnabled = st.Enabled
		l.ReminderFrequency = st.Frequency
		l.NextDueDate = st.NextDueDate
		l.NextReminderDate = st.NextReminderDate
		l.Version++
		m.ledgers[key] = l
		return nil
	}
	return domain.Errorf(domain.ErrStaleLedger, "ledger %s changed since version %d", id, version)
}

type fakeRefs struct {
	students map[string]domain.Student
	courses  map[string]domain.Course
	cohorts  map[string]domain.Cohort
}

func newFakeRefs() *fakeRefs {
	return &fakeRefs{
		students: map[string]domain.Student{},
		courses:  map[string]domain.Course{},
		cohorts:  map[string]domain.Cohort{},
	}
}

func (f *fakeRefs) FindStudent(_ context.Context, tenantID, id string) (*domain.Student, error) {
	s, ok := f.students[id]
	if !ok || s.TenantID != tenantID {
		return nil, domain.Errorf(domain.ErrStudentNotFound, "student %s not found", id)
	}
	return &s, nil
}

func (f *fakeRefs) FindCourse(_ context.Context, _ string, id string) (*domain.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeRefs) FindCohort(_ context.Context, _ string, id string) (*domain.Cohort, error) {
	c, ok := f.cohorts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type fakeRenderer struct {
	err      error
	rendered []domain.InvoiceData
}

func (f *fakeRenderer) Render(_ context.Context, data domain.InvoiceData) (RenderedInvoice, error) {
	if f.err != nil {
		return RenderedInvoice{}, f.err
	}
	f.rendered = append(f.rendered, data)
	name := data.InvoiceNumber + ".xlsx"
	return RenderedInvoice{FileName: name, URL: "http://files/" + name, Document: []byte("xlsx")}, nil
}

type fakeInvoices struct {
	saved []string
}

func (f *fakeInvoices) Save(_ context.Context, data domain.InvoiceData, _ string) error {
	f.saved = append(f.saved, data.InvoiceNumber)
	return nil
}

type fakeIncomes struct {
	err     error
	records []domain.IncomeRecord
}

func (f *fakeIncomes) Create(_ context.Context, rec domain.IncomeRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeNotifier struct {
	err       error
	confirmed []string
	reminded  []string
}

func (f *fakeNotifier) SendPaymentConfirmation(_ context.Context, _ domain.Student, _ domain.Ledger, tx domain.Transaction, _ RenderedInvoice, _ bool) error {
	if f.err != nil {
		return f.err
	}
	f.confirmed = append(f.confirmed, tx.InvoiceNumber)
	return nil
}

func (f *fakeNotifier) SendReminder(_ context.Context, _ domain.Student, l domain.Ledger) error {
	if f.err != nil {
		return f.err
	}
	f.reminded = append(f.reminded, l.ID)
	return nil
}

type fakeBroadcaster struct {
	events []clients.PaymentEvent
}

func (f *fakeBroadcaster) NotifyPaymentRecorded(_ context.Context, _ string, ev clients.PaymentEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// fakeKV is an in-memory stand-in for the Redis client.
type fakeKV struct {
	mu   sync.Mutex
	vals map[string]string
	sets map[string]map[string]bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{vals: map[string]string{}, sets: map[string]map[string]bool{}}
}

func (f *fakeKV) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vals[key]; ok {
		return false, nil
	}
	f.vals[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[key]
	if !ok {
		return "", clients.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.vals, k)
	}
	return nil
}

func (f *fakeKV) DelIfEqual(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vals[key]; !ok || v != value {
		return false, nil
	}
	delete(f.vals, key)
	return true, nil
}

func (f *fakeKV) SAdd(_ context.Context, key string, members ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		f.sets[key][fmt.Sprint(m)] = true
	}
	return nil
}

func (f *fakeKV) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

// paymentFixture wires a PaymentService to in-memory fakes at a fixed clock.
type paymentFixture struct {
	svc         *PaymentService
	store       *memStore
	refs        *fakeRefs
	renderer    *fakeRenderer
	invoices    *fakeInvoices
	incomes     *fakeIncomes
	notifier    *fakeNotifier
	broadcaster *fakeBroadcaster
	now         time.Time
}

const testTenant = "tenant-1"

func newPaymentFixture() *paymentFixture {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &paymentFixture{
		store:       newMemStore(),
		refs:        newFakeRefs(),
		renderer:    &fakeRenderer{},
		invoices:    &fakeInvoices{},
		incomes:     &fakeIncomes{},
		notifier:    &fakeNotifier{},
		broadcaster: &fakeBroadcaster{},
		now:         now,
	}
	f.refs.students["s1"] = domain.Student{ID: "s1", TenantID: testTenant, Name: "Ada", Email: "ada@example.com"}

	seq := NewInvoiceSequencer(f.store, time.UTC)
	seq.now = func() time.Time { return now }

	f.svc = NewPaymentService(PaymentDeps{
		Ledgers:      f.store,
		Transactions: f.store,
		References:   f.refs,
		Invoices:     f.invoices,
		Incomes:      f.incomes,
		Fees: NewFeeResolver(f.refs, FeeDefaults{
			CourseRegistration:  dec("1000"),
			StudentRegistration: dec("500"),
			DefaultCourseType:   "REGULAR",
		}),
		Sequencer:   seq,
		Renderer:    f.renderer,
		Notifier:    f.notifier,
		Broadcaster: f.broadcaster,
		Schedule:    ScheduleSettings{Location: time.UTC, ReminderHour: 9, LeadDays: 3},
		Log:         quietLogger(),
	})
	f.svc.now = func() time.Time { return now }
	ids := 0
	f.svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%03d", ids)
	}
	return f
}

// seedLedger stores the standard 5000/1000/500 ledger for student s1.
func (f *paymentFixture) seedLedger(mutate ...func(*domain.Ledger)) domain.Ledger {
	l := domain.NewLedger("ledger-1", testTenant, "s1", domain.ResolvedFees{
		Components: domain.FeeComponents{
			CourseFee:              dec("5000"),
			CourseRegistrationFee:  dec("1000"),
			StudentRegistrationFee: dec("500"),
		},
		CourseType: "REGULAR",
	})
	for _, m := range mutate {
		m(&l)
	}
	f.store.put(l)
	stored, _ := f.store.ledger(testTenant, "s1")
	return stored
}
