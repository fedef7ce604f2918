package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/domain"
	"academy-ledger/internal/repository"
)

type LedgerRepository interface {
	FindByStudent(ctx context.Context, tenantID, studentID string) (*domain.Ledger, error)
	CommitPayment(ctx context.Context, c repository.PaymentCommit) (int64, error)
}

type TransactionRepository interface {
	ListByLedger(ctx context.Context, tenantID, ledgerID string) ([]domain.Transaction, error)
	ListByStudent(ctx context.Context, tenantID, studentID string) ([]domain.Transaction, error)
	CountByLedger(ctx context.Context, tenantID, ledgerID string) (int, error)
	SetInvoiceURL(ctx context.Context, tenantID, id, url string) error
}

type InvoiceRepository interface {
	Save(ctx context.Context, data domain.InvoiceData, fileURL string) error
}

type IncomeRepository interface {
	Create(ctx context.Context, rec domain.IncomeRecord) error
}

type Renderer interface {
	Render(ctx context.Context, data domain.InvoiceData) (RenderedInvoice, error)
}

type PaymentNotifier interface {
	SendPaymentConfirmation(ctx context.Context, student domain.Student, l domain.Ledger, tx domain.Transaction, inv RenderedInvoice, final bool) error
}

type PaymentBroadcaster interface {
	NotifyPaymentRecorded(ctx context.Context, tenantID string, ev clients.PaymentEvent) error
}

type ScheduleSettings struct {
	Location     *time.Location
	ReminderHour int
	LeadDays     int
}

// PaymentDeps wires the payment service. Renderer, Invoices, Incomes,
// Notifier and Broadcaster are optional post-commit steps.
type PaymentDeps struct {
	Ledgers      LedgerRepository
	Transactions TransactionRepository
	References   ReferenceRepository
	Invoices     InvoiceRepository
	Incomes      IncomeRepository
	Fees         *FeeResolver
	Sequencer    *InvoiceSequencer
	Renderer     Renderer
	Notifier     PaymentNotifier
	Broadcaster  PaymentBroadcaster
	Schedule     ScheduleSettings
	Log          *logrus.Logger
}

type PaymentService struct {
	ledgers      LedgerRepository
	transactions TransactionRepository
	refs         ReferenceRepository
	invoices     InvoiceRepository
	incomes      IncomeRepository
	fees         *FeeResolver
	sequencer    *InvoiceSequencer
	renderer     Renderer
	notifier     PaymentNotifier
	broadcaster  PaymentBroadcaster
	schedule     ScheduleSettings
	log          *logrus.Logger

	now   func() time.Time
	newID func() string
}

func NewPaymentService(d PaymentDeps) *PaymentService {
	if d.Schedule.Location == nil {
		d.Schedule.Location = time.UTC
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &PaymentService{
		ledgers:      d.Ledgers,
		transactions: d.Transactions,
		refs:         d.References,
		invoices:     d.Invoices,
		incomes:      d.Incomes,
		fees:         d.Fees,
		sequencer:    d.Sequencer,
		renderer:     d.Renderer,
		notifier:     d.Notifier,
		broadcaster:  d.Broadcaster,
		schedule:     d.Schedule,
		log:          d.Log,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

type PaymentRequest struct {
	StudentID         string
	Amount            decimal.Decimal
	PaymentMode       string
	PaymentDate       string
	PaymentOption     string
	PayerType         string
	PayerName         string
	PaymentSubType    string
	InstallmentNumber *int
	EMINumber         *int
	InstallmentCount  int
	CourseDuration    int
	NextPaymentDate   string
	ReminderFrequency string
	StopReminders     bool
	ReceivedBy        string
	Notes             string
	ExpectedVersion   *int64
}

// Warning reports a post-commit step that failed. The payment itself stands.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

type PaymentResult struct {
	Ledger        domain.Ledger      `json:"ledger"`
	Transaction   domain.Transaction `json:"transaction"`
	InvoiceNumber string             `json:"invoiceNumber"`
	IsFullyPaid   bool               `json:"isFullyPaid"`
	InvoiceURL    string             `json:"invoiceUrl,omitempty"`
	Warnings      []Warning          `json:"warnings,omitempty"`

	// fees as they stood when the payment was charged; completion marks
	// every component paid afterwards
	charged domain.FeeComponents
}

type paymentInput struct {
	plan        *domain.PlanClass
	paidDate    time.Time
	nextPayment *time.Time
	frequency   domain.ReminderFrequency

	// seed is a subscription opened by this same event.
	seed *domain.MonthlySubscription
}

// RecordPayment applies one payment to the student's ledger, appends the
// transaction and issues its invoice number. Every check that can reject the
// payment runs before the number is drawn.
func (s *PaymentService) RecordPayment(ctx context.Context, tenantID string, req PaymentRequest) (*PaymentResult, error) {
	in, err := s.parseRequest(tenantID, req)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, tenantID, req, in)
}

func (s *PaymentService) parseRequest(tenantID string, req PaymentRequest) (paymentInput, error) {
	var in paymentInput

	if tenantID == "" {
		return in, domain.Errorf(domain.ErrMissingField, "tenantId is required")
	}
	if strings.TrimSpace(req.StudentID) == "" {
		return in, domain.Errorf(domain.ErrMissingField, "studentId is required")
	}
	if strings.TrimSpace(req.PaymentMode) == "" {
		return in, domain.Errorf(domain.ErrMissingField, "paymentMode is required")
	}
	if strings.TrimSpace(req.PaymentOption) != "" {
		plan, err := domain.NormalizePlan(req.PaymentOption)
		if err != nil {
			return in, err
		}
		in.plan = &plan
	}
	if !req.Amount.IsPositive() {
		return in, domain.Errorf(domain.ErrInvalidAmount, "payment amount must be greater than zero")
	}

	loc := s.schedule.Location
	paidDate, err := domain.ParsePaymentDate(req.PaymentDate, s.now().In(loc), loc)
	if err != nil {
		return in, err
	}
	in.paidDate = paidDate

	if req.NextPaymentDate != "" {
		next, err := domain.ParsePaymentDate(req.NextPaymentDate, paidDate, loc)
		if err != nil {
			return in, domain.Errorf(domain.ErrInvalidDate, "invalid next payment date %q", req.NextPaymentDate)
		}
		in.nextPayment = &next
	}

	freq, ok := domain.ParseReminderFrequency(strings.ToUpper(strings.TrimSpace(req.ReminderFrequency)))
	if !ok {
		return in, domain.Errorf(domain.ErrInvalidField, "unsupported reminder frequency %q", req.ReminderFrequency)
	}
	in.frequency = freq

	if req.InstallmentCount < 0 || req.CourseDuration < 0 {
		return in, domain.Errorf(domain.ErrInvalidField, "installmentCount and courseDuration must not be negative")
	}
	return in, nil
}

func (s *PaymentService) record(ctx context.Context, tenantID string, req PaymentRequest, in paymentInput) (*PaymentResult, error) {
	logger := s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "student_id": req.StudentID})

	student, err := s.refs.FindStudent(ctx, tenantID, req.StudentID)
	if err != nil {
		return nil, err
	}

	ledger, readVersion, err := s.ensureLedger(ctx, tenantID, *student)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != readVersion {
		return nil, domain.Errorf(domain.ErrStaleLedger, "ledger is at version %d, not %d", readVersion, *req.ExpectedVersion)
	}

	if in.seed != nil && ledger.MonthlySubscription != nil && ledger.Plan().IsMonthly() {
		return nil, domain.Errorf(domain.ErrSubscriptionOpen, "student already has an active monthly subscription")
	}

	plan := ledger.Plan()
	if in.plan != nil {
		plan = *in.plan
	}

	p, err := s.applyPayment(ctx, ledger, plan, req, in)
	if err != nil {
		return nil, err
	}

	invoiceNumber, err := s.sequencer.Next(ctx, tenantID)
	if err != nil {
		logger.WithError(err).Error("invoice number not issued")
		return nil, err
	}
	p.tx.InvoiceNumber = invoiceNumber

	version, err := s.ledgers.CommitPayment(ctx, repository.PaymentCommit{
		Ledger:       p.ledger,
		Transactions: []domain.Transaction{p.tx},
	})
	if err != nil {
		logger.WithError(err).WithField("invoice_number", invoiceNumber).Error("payment not committed")
		return nil, err
	}
	p.ledger.Version = version

	result := &PaymentResult{
		Ledger:        p.ledger,
		Transaction:   p.tx,
		InvoiceNumber: invoiceNumber,
		IsFullyPaid:   p.fullyPaid,
		charged:       ledger.FeeComponents,
	}
	s.afterCommit(ctx, *student, result)

	logger.WithFields(logrus.Fields{
		"ledger_id":      result.Ledger.ID,
		"invoice_number": invoiceNumber,
		"amount":         req.Amount.String(),
		"warnings":       len(result.Warnings),
	}).Info("payment recorded")
	return result, nil
}

// ensureLedger returns the student's ledger, creating it or correcting its
// fees first when needed. The second result is the version the caller saw
// before any such write, 0 for a ledger that did not exist.
func (s *PaymentService) ensureLedger(ctx context.Context, tenantID string, student domain.Student) (domain.Ledger, int64, error) {
	existing, err := s.ledgers.FindByStudent(ctx, tenantID, student.ID)
	if err != nil && !errors.Is(err, domain.ErrLedgerNotFound) {
		return domain.Ledger{}, 0, err
	}
	if existing != nil && !NeedsResolution(existing) {
		return *existing, existing.Version, nil
	}

	fees, err := s.fees.Resolve(ctx, tenantID, student)
	if err != nil {
		return domain.Ledger{}, 0, err
	}
	now := s.now()

	if existing == nil {
		l := domain.NewLedger(s.newID(), tenantID, student.ID, fees)
		l.CreatedAt = &now
		l.UpdatedAt = &now
		version, err := s.ledgers.CommitPayment(ctx, repository.PaymentCommit{Ledger: l, IsNew: true})
		if errors.Is(err, domain.ErrDuplicateLedger) {
			// another request created it first
			existing, err = s.ledgers.FindByStudent(ctx, tenantID, student.ID)
			if err != nil {
				return domain.Ledger{}, 0, err
			}
			return *existing, existing.Version, nil
		}
		if err != nil {
			return domain.Ledger{}, 0, err
		}
		l.Version = version
		return l, 0, nil
	}

	if !fees.Total().IsPositive() {
		return *existing, existing.Version, nil
	}
	corrected := domain.LedgerUpdate{}.WithFees(fees).At(now).Apply(*existing)
	version, err := s.ledgers.CommitPayment(ctx, repository.PaymentCommit{Ledger: corrected})
	if err != nil {
		return domain.Ledger{}, 0, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"ledger_id": existing.ID,
		"total":     fees.Total().String(),
	}).Info("ledger fees corrected from course")
	corrected.Version = version
	return corrected, existing.Version, nil
}

type appliedPayment struct {
	ledger    domain.Ledger
	tx        domain.Transaction
	fullyPaid bool
}

// applyPayment computes the ledger and transaction a payment produces
// without writing anything.
func (s *PaymentService) applyPayment(ctx context.Context, ledger domain.Ledger, plan domain.PlanClass, req PaymentRequest, in paymentInput) (appliedPayment, error) {
	txID := s.newID()
	now := s.now()
	loc := s.schedule.Location

	update := domain.LedgerUpdate{}.WithPlan(plan).At(now)
	tx := domain.Transaction{
		ID:          txID,
		TenantID:    ledger.TenantID,
		PaymentID:   ledger.ID,
		StudentID:   ledger.StudentID,
		PaidAmount:  req.Amount,
		PaidDate:    in.paidDate,
		PaymentMode: req.PaymentMode,
		PayerType:   req.PayerType,
		PayerName:   req.PayerName,
		Status:      domain.TransactionConfirmed,
		ReceivedBy:  req.ReceivedBy,
		Notes:       req.Notes,
		CreatedAt:   &now,
	}

	var (
		balance   domain.BalanceOutcome
		engine    domain.ReminderPlan
		fullyPaid bool
		emiNumber int
	)

	if plan.IsMonthly() {
		sub := ledger.MonthlySubscription
		if in.seed != nil {
			sub = in.seed
		}
		if sub == nil {
			return appliedPayment{}, domain.Errorf(domain.ErrSubscriptionRequired, "ledger has no monthly subscription")
		}
		advanced, outcome, err := domain.AdvanceMonth(*sub, domain.MonthlyPayment{
			Amount:        req.Amount,
			PaidDate:      in.paidDate,
			TransactionID: txID,
		}, s.schedule.ReminderHour, loc)
		if err != nil {
			return appliedPayment{}, err
		}
		tx.SubscriptionMonth = sub.CurrentMonth
		update = update.WithSubscription(advanced)
		engine = outcome.Reminder
		balance = domain.MonthlyReceipt(ledger.ReceivedAmount, req.Amount)
	} else {
		bal := domain.ComputeBalance(ledger.FeeComponents, ledger.ReceivedAmount)
		if err := bal.ValidateAmount(req.Amount); err != nil {
			return appliedPayment{}, err
		}
		balance = bal.Apply(req.Amount)
		fullyPaid = balance.WillBeFullyPaid

		if plan.IsInstallmentPlan {
			n, cfg, rp, err := s.payInstallment(ctx, ledger, bal, req, in, txID)
			if err != nil {
				return appliedPayment{}, err
			}
			emiNumber = n
			tx.EMINumber = &n
			if cfg != nil {
				number := n
				tx.InstallmentNumber = &number
				update = update.WithInstallments(*cfg)
				engine = rp
			}
		}
	}

	tx.PaymentSubType = domain.PaymentSubType(plan, req.PaymentSubType, emiNumber, fullyPaid)

	decision := domain.ScheduleReminders(domain.ReminderInput{
		Plan:               plan,
		FullyPaid:          fullyPaid,
		StopReminders:      req.StopReminders,
		RequestedFrequency: in.frequency,
		NextPaymentDate:    in.nextPayment,
		PaymentDate:        in.paidDate,
		Engine:             engine,
		Current:            ledger.ReminderState(),
		ReminderHour:       s.schedule.ReminderHour,
		Location:           loc,
	})

	next := update.
		WithBalance(balance).
		WithReminders(decision).
		WithLastTransaction(txID).
		Apply(ledger)

	return appliedPayment{ledger: next, tx: tx, fullyPaid: fullyPaid}, nil
}

// payInstallment resolves which installment a payment settles. Without a
// schedule (and no count to build one) only the EMI number is derived.
func (s *PaymentService) payInstallment(ctx context.Context, ledger domain.Ledger, bal domain.Balance, req PaymentRequest, in paymentInput, txID string) (int, *domain.InstallmentsConfig, domain.ReminderPlan, error) {
	cfg := ledger.InstallmentsConfig
	if cfg == nil && req.InstallmentCount > 0 {
		built := domain.BuildInstallmentSchedule(bal.MaxAllowed, req.InstallmentCount, req.CourseDuration,
			in.paidDate, s.schedule.LeadDays, s.schedule.ReminderHour)
		cfg = &built
	}

	if cfg == nil {
		if n := firstSet(req.EMINumber, req.InstallmentNumber); n != nil {
			return *n, nil, domain.ReminderPlan{}, nil
		}
		count, err := s.transactions.CountByLedger(ctx, ledger.TenantID, ledger.ID)
		if err != nil {
			return 0, nil, domain.ReminderPlan{}, err
		}
		return count + 1, nil, domain.ReminderPlan{}, nil
	}

	var number int
	if n := firstSet(req.InstallmentNumber, req.EMINumber); n != nil {
		number = *n
	} else {
		first, _, ok := cfg.FirstUnpaid()
		if !ok {
			return 0, nil, domain.ReminderPlan{}, domain.Errorf(domain.ErrAlreadyPaid, "all installments are already paid")
		}
		number = first.InstallmentNumber
	}

	paid, rp, err := domain.PayInstallment(*cfg, number, domain.InstallmentPayment{
		Amount:        req.Amount,
		PaidDate:      in.paidDate,
		TransactionID: txID,
	})
	if err != nil {
		return 0, nil, domain.ReminderPlan{}, err
	}
	return number, &paid, rp, nil
}

func firstSet(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// afterCommit runs the steps that follow a committed payment. Each failure
// is logged and reported as a warning; none of them undo the payment.
func (s *PaymentService) afterCommit(ctx context.Context, student domain.Student, res *PaymentResult) {
	tenantID := res.Ledger.TenantID
	logger := s.log.WithFields(logrus.Fields{
		"tenant_id":      tenantID,
		"ledger_id":      res.Ledger.ID,
		"invoice_number": res.InvoiceNumber,
	})
	warn := func(step string, err error) {
		logger.WithError(err).WithField("step", step).Warn("post-payment step failed")
		res.Warnings = append(res.Warnings, Warning{Step: step, Message: err.Error()})
	}

	history, err := s.transactions.ListByLedger(ctx, tenantID, res.Ledger.ID)
	if err != nil {
		warn("history", err)
	}
	billed := res.Ledger
	billed.FeeComponents = res.charged
	data := GenerateInvoiceData(billed, student, res.Transaction, res.InvoiceNumber, history)

	var rendered RenderedInvoice
	if s.renderer != nil {
		rendered, err = s.renderer.Render(ctx, data)
		if err != nil {
			warn("invoice_render", err)
		} else {
			res.InvoiceURL = rendered.URL
			if s.invoices != nil {
				if err := s.invoices.Save(ctx, data, rendered.URL); err != nil {
					warn("invoice_persist", err)
				}
			}
			if err := s.transactions.SetInvoiceURL(ctx, tenantID, res.Transaction.ID, rendered.URL); err != nil {
				warn("invoice_url", err)
			} else {
				url := rendered.URL
				res.Transaction.InvoiceURL = &url
				res.Transaction.InvoiceGenerated = true
			}
		}
	}

	if s.incomes != nil {
		rec := domain.IncomeRecord{
			ID:          s.newID(),
			TenantID:    tenantID,
			Date:        res.Transaction.PaidDate,
			Amount:      res.Transaction.PaidAmount,
			Category:    domain.IncomeCategoryCourseFees,
			PaymentMode: res.Transaction.PaymentMode,
			ReceivedBy:  res.Transaction.ReceivedBy,
			Description: incomeDescription(student, res.Transaction),
			Reference:   res.InvoiceNumber,
		}
		if err := s.incomes.Create(ctx, rec); err != nil {
			warn("income", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.SendPaymentConfirmation(ctx, student, res.Ledger, res.Transaction, rendered, res.IsFullyPaid); err != nil {
			warn("email", err)
		}
	}

	if s.broadcaster != nil {
		ev := clients.PaymentEvent{
			LedgerID:      res.Ledger.ID,
			StudentID:     res.Ledger.StudentID,
			TransactionID: res.Transaction.ID,
			InvoiceNumber: res.InvoiceNumber,
			Amount:        res.Transaction.PaidAmount,
			PaymentMode:   res.Transaction.PaymentMode,
			IsFullyPaid:   res.IsFullyPaid,
			InvoiceURL:    res.InvoiceURL,
		}
		if err := s.broadcaster.NotifyPaymentRecorded(ctx, tenantID, ev); err != nil {
			warn("notify", err)
		}
	}
}

func incomeDescription(student domain.Student, tx domain.Transaction) string {
	desc := "Course fee payment from " + student.Name
	if tx.PaymentSubType != "" {
		desc += " (" + tx.PaymentSubType + ")"
	}
	if tx.SubscriptionMonth != "" {
		desc += " for " + tx.SubscriptionMonth
	}
	return desc
}

type HistoryQuery struct {
	PaymentID string
	StudentID string
}

// GetPaymentHistory lists a ledger's transactions, newest first. PaymentID
// takes precedence over StudentID.
func (s *PaymentService) GetPaymentHistory(ctx context.Context, tenantID string, q HistoryQuery) ([]domain.Transaction, error) {
	if tenantID == "" {
		return nil, domain.Errorf(domain.ErrMissingField, "tenantId is required")
	}

	var (
		txs []domain.Transaction
		err error
	)
	switch {
	case q.PaymentID != "":
		txs, err = s.transactions.ListByLedger(ctx, tenantID, q.PaymentID)
	case q.StudentID != "":
		txs, err = s.transactions.ListByStudent(ctx, tenantID, q.StudentID)
	default:
		return nil, domain.Errorf(domain.ErrMissingField, "paymentId or studentId is required")
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].PaidDate.After(txs[j].PaidDate)
	})
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

func (s *PaymentService) GetLedger(ctx context.Context, tenantID, studentID string) (*domain.Ledger, error) {
	if tenantID == "" || studentID == "" {
		return nil, domain.Errorf(domain.ErrMissingField, "tenantId and studentId are required")
	}
	return s.ledgers.FindByStudent(ctx, tenantID, studentID)
}
