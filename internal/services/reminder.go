package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"warranty-reminder/internal/clock"
	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/ledger"
	"warranty-reminder/internal/models"
	"warranty-reminder/internal/store"
	"warranty-reminder/internal/tracing"
	"warranty-reminder/internal/warranty"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errs.New("reminder run already in progress")

// RunState is the lifecycle state of a reminder run
type RunState string

const (
	RunLoading    RunState = "loading"
	RunEvaluating RunState = "evaluating"
	RunSending    RunState = "sending"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
)

// Per-candidate results
const (
	OutcomeSent            = "sent"
	OutcomeAlreadySent     = "already_sent"
	OutcomeFailed          = "failed"
	OutcomeAtLeastOnceRisk = "at_least_once_risk"
)

// Owner and product level problems
const (
	IssueLoadFailed     = "load_failed"
	IssueNoSettings     = "no_settings"
	IssueInvalidProduct = "invalid_product"
)

// Scope limits a run to the given owners. An empty scope covers every owner.
type Scope struct {
	OwnerIDs []string `json:"owner_ids"`
}

// Outcome is the result for one (product, threshold) candidate
type Outcome struct {
	OwnerID      string `json:"owner_id"`
	ProductID    string `json:"product_id"`
	ThresholdDay int    `json:"threshold_day"`
	Result       string `json:"result"`
	Error        string `json:"error,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// Issue is an owner or product that could not be evaluated
type Issue struct {
	OwnerID   string `json:"owner_id"`
	ProductID string `json:"product_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// RunSummary reports what a run did. Sent includes reminders whose ledger
// write failed; those are also counted in AtLeastOnceRisk.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	State           RunState  `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Owners          int       `json:"owners"`
	Products        int       `json:"products"`
	Sent            int       `json:"sent"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	AtLeastOnceRisk int       `json:"at_least_once_risk"`
	Outcomes        []Outcome `json:"outcomes"`
	Issues          []Issue   `json:"issues,omitempty"`
	Error           string    `json:"error,omitempty"`
}

func (s *RunSummary) add(o Outcome) {
	switch o.Result {
	case OutcomeSent:
		s.Sent++
	case OutcomeAtLeastOnceRisk:
		s.Sent++
		s.AtLeastOnceRisk++
	case OutcomeAlreadySent:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// ReminderOptions tunes a ReminderService
type ReminderOptions struct {
	Workers     int
	CallTimeout time.Duration
}

// ReminderService runs reminder passes: load owners, evaluate their
// products, then deliver and record every due reminder not yet sent.
type ReminderService struct {
	reader      store.Reader
	dispatches  ledger.Ledger
	sender      NotificationSender
	recorder    store.NotificationRecorder
	policy      *warranty.Policy
	clock       clock.Clock
	logger      *slog.Logger
	workers     int
	callTimeout time.Duration

	running sync.Mutex
}

// NewReminderService creates a new reminder service. recorder may be nil.
func NewReminderService(
	reader store.Reader,
	dispatches ledger.Ledger,
	sender NotificationSender,
	recorder store.NotificationRecorder,
	policy *warranty.Policy,
	clk clock.Clock,
	logger *slog.Logger,
	opts ReminderOptions,
) *ReminderService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &ReminderService{
		reader:      reader,
		dispatches:  dispatches,
		sender:      sender,
		recorder:    recorder,
		policy:      policy,
		clock:       clk,
		logger:      logger,
		workers:     opts.Workers,
		callTimeout: opts.CallTimeout,
	}
}

type productWork struct {
	product  models.Product
	settings *models.ReminderSettings
}

type productBatch struct {
	productWork
	status  warranty.Status
	pending []int
}

type evaluation struct {
	batch    *productBatch
	outcomes []Outcome
	issue    *Issue
}

// Run performs one reminder pass. Only one pass runs at a time per service;
// a concurrent call returns ErrRunInProgress. The summary is returned even
// when the run fails, reflecting whatever was done before the failure.
func (s *ReminderService) Run(ctx context.Context, scope Scope) (*RunSummary, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	now := s.clock.Now()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		State:     RunLoading,
		StartedAt: now,
		Outcomes:  []Outcome{},
	}
	logger := s.logger.With(slog.String("run_id", summary.RunID))

	ctx, span := tracing.StartRunSpan(ctx, summary.RunID, len(scope.OwnerIDs))
	logger.Info("reminder run started", slog.Int("scoped_owners", len(scope.OwnerIDs)))

	fail := func(err error) (*RunSummary, error) {
		summary.State = RunFailed
		summary.Error = err.Error()
		summary.FinishedAt = s.clock.Now()
		logger.Error("reminder run failed",
			slog.Any("error", err),
			slog.Int("sent", summary.Sent),
			slog.Int("failed", summary.Failed),
		)
		tracing.EndRunSpan(span, summary.Sent, summary.Skipped, summary.Failed, summary.AtLeastOnceRisk, err)
		return summary, err
	}

	work, err := s.load(ctx, scope, summary, logger)
	if err != nil {
		return fail(err)
	}

	summary.State = RunEvaluating
	batches := s.evaluate(ctx, work, now, summary, logger)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	summary.State = RunSending
	s.send(ctx, summary.RunID, batches, summary, logger)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	summary.State = RunCompleted
	summary.FinishedAt = s.clock.Now()
	logger.Info("reminder run completed",
		slog.Int("owners", summary.Owners),
		slog.Int("products", summary.Products),
		slog.Int("sent", summary.Sent),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("at_least_once_risk", summary.AtLeastOnceRisk),
	)
	tracing.EndRunSpan(span, summary.Sent, summary.Skipped, summary.Failed, summary.AtLeastOnceRisk, nil)
	return summary, nil
}

func (s *ReminderService) load(ctx context.Context, scope Scope, summary *RunSummary, logger *slog.Logger) (work []productWork, err error) {
	ctx, span := tracing.StartPhaseSpan(ctx, "load")
	defer func() { tracing.EndSpan(span, err) }()

	owners := scope.OwnerIDs
	if len(owners) == 0 {
		owners, err = callWithTimeout(ctx, s.callTimeout, s.reader.ListOwnerIDs)
		if err != nil {
			return nil, errs.Wrap(err, "failed to list owners")
		}
	}
	summary.Owners = len(owners)

	failures := 0
	for _, ownerID := range owners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		products, settings, err := s.loadOwner(ctx, ownerID)
		if err != nil {
			failures++
			logger.Warn("failed to load owner", slog.String("owner_id", ownerID), slog.Any("error", err))
			summary.Issues = append(summary.Issues, Issue{OwnerID: ownerID, Kind: IssueLoadFailed, Message: err.Error()})
			continue
		}

		summary.Products += len(products)
		if settings == nil {
			if len(products) > 0 {
				summary.Skipped += len(products)
				summary.Issues = append(summary.Issues, Issue{OwnerID: ownerID, Kind: IssueNoSettings, Message: "owner has no reminder settings"})
				logger.Debug("skipping owner without settings", slog.String("owner_id", ownerID), slog.Int("products", len(products)))
			}
			continue
		}

		for i := range products {
			work = append(work, productWork{product: products[i], settings: settings})
		}
	}

	if len(owners) > 0 && failures == len(owners) {
		return nil, errs.Mark(errs.Newf("failed to load all %d owners", len(owners)), errs.ErrStoreUnavailable)
	}

	return work, nil
}

func (s *ReminderService) loadOwner(ctx context.Context, ownerID string) ([]models.Product, *models.ReminderSettings, error) {
	products, err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) ([]models.Product, error) {
		return s.reader.GetProductsByOwner(ctx, ownerID)
	})
	if err != nil {
		return nil, nil, err
	}
	settings, err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) (*models.ReminderSettings, error) {
		return s.reader.GetSettings(ctx, ownerID)
	})
	if err != nil {
		return nil, nil, err
	}
	return products, settings, nil
}

// evaluate computes candidates per product in parallel and filters out the
// ones already recorded in the ledger.
func (s *ReminderService) evaluate(ctx context.Context, work []productWork, now time.Time, summary *RunSummary, logger *slog.Logger) []*productBatch {
	ctx, span := tracing.StartPhaseSpan(ctx, "evaluate")
	defer span.End()

	results := make([]evaluation, len(work))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i := range work {
		g.Go(func() error {
			results[i] = s.evaluateProduct(ctx, work[i], now, logger)
			return nil
		})
	}
	_ = g.Wait()

	var batches []*productBatch
	for _, r := range results {
		if r.issue != nil {
			summary.Failed++
			summary.Issues = append(summary.Issues, *r.issue)
		}
		for _, o := range r.outcomes {
			summary.add(o)
		}
		if r.batch != nil {
			batches = append(batches, r.batch)
		}
	}
	return batches
}

func (s *ReminderService) evaluateProduct(ctx context.Context, w productWork, now time.Time, logger *slog.Logger) evaluation {
	if ctx.Err() != nil {
		return evaluation{}
	}

	p := &w.product
	status, err := s.policy.Calculator().Evaluate(p, now, w.settings.MaxReminderDay())
	if err != nil {
		logger.Warn("skipping invalid product", slog.String("product_id", p.ProductID), slog.Any("error", err))
		return evaluation{issue: &Issue{OwnerID: p.OwnerID, ProductID: p.ProductID, Kind: IssueInvalidProduct, Message: err.Error()}}
	}

	var result evaluation
	var pending []int
	for _, threshold := range s.policy.DueForStatus(status, w.settings) {
		sent, err := callWithTimeout(ctx, s.callTimeout, func(ctx context.Context) (bool, error) {
			return s.dispatches.HasSent(ctx, p.ProductID, threshold)
		})
		if err != nil {
			logger.Error("failed to check dispatch ledger",
				slog.String("product_id", p.ProductID),
				slog.Int("threshold_day", threshold),
				slog.Any("error", err),
			)
			result.outcomes = append(result.outcomes, failedOutcome(p, threshold, err))
			continue
		}
		if sent {
			result.outcomes = append(result.outcomes, Outcome{OwnerID: p.OwnerID, ProductID: p.ProductID, ThresholdDay: threshold, Result: OutcomeAlreadySent})
			continue
		}
		pending = append(pending, threshold)
	}

	if len(pending) > 0 {
		result.batch = &productBatch{productWork: w, status: status, pending: pending}
	}
	return result
}

// send delivers pending reminders. Products are processed in parallel;
// thresholds of one product go out sequentially in the order given.
func (s *ReminderService) send(ctx context.Context, runID string, batches []*productBatch, summary *RunSummary, logger *slog.Logger) {
	ctx, span := tracing.StartPhaseSpan(ctx, "send")
	defer span.End()

	results := make([][]Outcome, len(batches))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i := range batches {
		g.Go(func() error {
			results[i] = s.sendBatch(ctx, runID, batches[i], logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, outcomes := range results {
		for _, o := range outcomes {
			summary.add(o)
		}
	}
}

func (s *ReminderService) sendBatch(ctx context.Context, runID string, b *productBatch, logger *slog.Logger) []Outcome {
	outcomes := make([]Outcome, 0, len(b.pending))
	for _, threshold := range b.pending {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, failedOutcome(&b.product, threshold, errs.Wrap(err, "run cancelled before send")))
			continue
		}
		outcomes = append(outcomes, s.dispatch(ctx, runID, b, threshold, logger))
	}
	return outcomes
}

// dispatch sends one reminder and records it. The ledger write is detached
// from ctx so a delivered reminder is still recorded after cancellation.
func (s *ReminderService) dispatch(ctx context.Context, runID string, b *productBatch, threshold int, logger *slog.Logger) Outcome {
	p := &b.product
	ctx, span := tracing.StartDispatchSpan(ctx, p.ProductID, threshold)
	logger = logger.With(slog.String("product_id", p.ProductID), slog.Int("threshold_day", threshold))

	msg := warranty.RenderMessage(p, threshold, b.status.Expiry)
	if err := s.deliver(ctx, runID, b, threshold, msg, logger); err != nil {
		logger.Warn("reminder delivery failed", slog.Bool("retryable", errs.IsRetryable(err)), slog.Any("error", err))
		tracing.EndSpan(span, err)
		return failedOutcome(p, threshold, err)
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	if err := s.dispatches.MarkSent(markCtx, p.ProductID, threshold, s.clock.Now()); err != nil {
		err = errs.Mark(errs.Wrap(err, "reminder sent but not recorded"), errs.ErrAtLeastOnceRisk)
		logger.Error("dispatch not recorded, reminder may be sent again",
			slog.String("error_kind", "AtLeastOnceRisk"),
			slog.Any("error", err),
		)
		tracing.EndSpan(span, err)
		return Outcome{OwnerID: p.OwnerID, ProductID: p.ProductID, ThresholdDay: threshold, Result: OutcomeAtLeastOnceRisk, Error: err.Error()}
	}

	logger.Info("reminder sent", slog.String("owner_id", p.OwnerID))
	tracing.EndSpan(span, nil)
	return Outcome{OwnerID: p.OwnerID, ProductID: p.ProductID, ThresholdDay: threshold, Result: OutcomeSent}
}

// SendTest delivers the reminder a product would currently receive to every
// channel in settings. The attempt is recorded in the notification history
// under a "test-" run ID; the dispatch ledger is neither read nor written.
func (s *ReminderService) SendTest(ctx context.Context, product *models.Product, settings *models.ReminderSettings) error {
	if settings == nil {
		return errs.InvalidSettings("owner has no reminder settings")
	}
	status, err := s.policy.Calculator().Evaluate(product, s.clock.Now(), settings.MaxReminderDay())
	if err != nil {
		return err
	}

	threshold := status.DaysRemaining
	if status.Kind == warranty.Expired {
		threshold = warranty.ExpiredThreshold
	}

	runID := "test-" + uuid.NewString()
	logger := s.logger.With(
		slog.String("run_id", runID),
		slog.String("product_id", product.ProductID),
	)
	b := &productBatch{productWork: productWork{product: *product, settings: settings}, status: status}
	msg := warranty.RenderMessage(product, threshold, status.Expiry)
	if err := s.deliver(ctx, runID, b, threshold, msg, logger); err != nil {
		logger.Warn("test reminder failed", slog.Any("error", err))
		return err
	}
	logger.Info("test reminder sent")
	return nil
}

// deliver tries every channel the owner configured. The reminder counts as
// delivered when at least one channel succeeds.
func (s *ReminderService) deliver(ctx context.Context, runID string, b *productBatch, threshold int, msg warranty.Message, logger *slog.Logger) error {
	var delivered bool
	var lastErr error

	attempt := func(channel, recipient string, send func(context.Context) error) {
		if recipient == "" {
			return
		}
		chCtx, span := tracing.StartChannelSpan(ctx, channel)
		callCtx, cancel := context.WithTimeout(chCtx, s.callTimeout)
		err := send(callCtx)
		cancel()

		if errs.Is(err, errs.ErrChannelDisabled) {
			span.End()
			return
		}
		tracing.EndSpan(span, err)
		s.record(ctx, runID, b, threshold, channel, recipient, msg.Body, err, logger)
		if err != nil {
			lastErr = err
			return
		}
		delivered = true
	}

	settings := b.settings
	attempt(ChannelEmail, settings.Email, func(ctx context.Context) error {
		return s.sender.SendEmail(ctx, settings.Email, msg.Subject, msg.Body)
	})
	attempt(ChannelSMS, settings.PhoneNumber, func(ctx context.Context) error {
		return s.sender.SendSms(ctx, settings.PhoneNumber, msg.Body)
	})

	if delivered {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return errs.Mark(errs.New("no notification channel available"), errs.ErrChannelDisabled)
}

func (s *ReminderService) record(ctx context.Context, runID string, b *productBatch, threshold int, channel, recipient, content string, sendErr error, logger *slog.Logger) {
	if s.recorder == nil {
		return
	}

	n := &models.Notification{
		RunID:        runID,
		OwnerID:      b.product.OwnerID,
		ProductID:    b.product.ProductID,
		ThresholdDay: threshold,
		Channel:      channel,
		Recipient:    recipient,
		Content:      content,
		Status:       models.NotificationSuccess,
		SentAt:       s.clock.Now(),
	}
	if sendErr != nil {
		n.Status = models.NotificationFailed
		n.Error = sendErr.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	if err := s.recorder.RecordNotification(recordCtx, n); err != nil {
		logger.Warn("failed to record notification", slog.String("channel", channel), slog.Any("error", err))
	}
}

func failedOutcome(p *models.Product, threshold int, err error) Outcome {
	return Outcome{
		OwnerID:      p.OwnerID,
		ProductID:    p.ProductID,
		ThresholdDay: threshold,
		Result:       OutcomeFailed,
		Error:        err.Error(),
		Retryable:    errs.IsRetryable(err),
	}
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
