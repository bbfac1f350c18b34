// Package outreach runs outreach tasks: it probes each recipient, composes a
// message, paces submissions and keeps the task counters and audit trail.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/pkg/models"
)

// Store is the persistence the orchestrator needs
type Store interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetUserAccount(ctx context.Context, userID, id int64) (*models.Account, error)
	GetSettings(ctx context.Context, userID int64) (*models.Settings, error)
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	IncrementValid(ctx context.Context, taskID int64) (*models.Task, error)
	IncrementSent(ctx context.Context, taskID int64) (*models.Task, error)
	FinishTask(ctx context.Context, taskID int64, logFilePath string) error
	CreateLogItem(ctx context.Context, item *models.LogItem) error
	GetIncoming(ctx context.Context, userID, id int64) (*models.IncomingMessage, error)
}

// Prober checks whether a mailbox would accept mail
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Sender submits one message through an account
type Sender interface {
	Send(ctx context.Context, msg email.Outgoing, account *models.Account) bool
}

// Ledger is the conversation log
type Ledger interface {
	Record(ctx context.Context, t ledger.Turn) error
	LastAdLink(ctx context.Context, userID int64, email string) (string, error)
}

// Snapshot is the counter state of a task at a point in time
type Snapshot struct {
	TaskID int64
	Total  int
	Valid  int
	Sent   int
	Status models.TaskStatus
}

// Progress receives task updates. Implementations must tolerate concurrent
// calls and must not fail the task.
type Progress interface {
	Update(ctx context.Context, s Snapshot)
	Finished(ctx context.Context, s Snapshot, task *models.Task)
}

// Config for the orchestrator
type Config struct {
	LogDir string
	Domain string // appended to seller handles that are not addresses
}

// Service starts and runs outreach tasks
type Service struct {
	store    Store
	prober   Prober
	sender   Sender
	ledger   Ledger
	composer *GenerativeComposer
	config   Config
	logger   *slog.Logger

	newLimiter func(base time.Duration) Limiter
	running    conc.WaitGroup
}

// NewService creates a new orchestrator
func NewService(cfg Config, store Store, prober Prober, sender Sender, lg Ledger, ai Completer, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		prober:   prober,
		sender:   sender,
		ledger:   lg,
		composer: NewGenerativeComposer(ai, logger),
		config:   cfg,
		logger:   logger.With("component", "outreach"),
		newLimiter: func(base time.Duration) Limiter {
			return NewRateLimiter(base)
		},
	}
}

// StartRequest describes a task to launch
type StartRequest struct {
	UserID    int64
	AccountID int64
	Batch     *Batch
	Progress  Progress
}

// Job is a prepared task ready to run
type Job struct {
	Task     *models.Task
	Account  *models.Account
	Settings *models.Settings
	Items    []models.Item
	Composer Composer
	Progress Progress
}

// Start validates a batch, records the task and runs it in the background.
// The returned task is in its initial running state.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.Task, error) {
	job, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.running.Go(func() {
		s.Run(runCtx, job)
	})

	return job.Task, nil
}

// Prepare validates a batch and records the task without running it
func (s *Service) Prepare(ctx context.Context, req StartRequest) (*Job, error) {
	if req.Batch == nil || len(req.Batch.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	if req.Batch.Templated() && len(req.Batch.Messages) < len(req.Batch.Items) {
		return nil, &TemplateShortfallError{Templates: len(req.Batch.Messages), Items: len(req.Batch.Items)}
	}

	account, err := s.store.GetUserAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	settings, err := s.store.GetSettings(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	task := &models.Task{
		AccountID:              account.ID,
		UserID:                 req.UserID,
		TotalSellers:           len(req.Batch.Items),
		Status:                 models.TaskRunning,
		IncomingCheckerEnabled: account.IncomingEnabled,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	var composer Composer = s.composer
	if req.Batch.Templated() {
		composer = NewTemplateListComposer(req.Batch.Messages)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"account", account.Email,
		"items", task.TotalSellers,
		"templated", req.Batch.Templated(),
	)

	return &Job{
		Task:     task,
		Account:  account,
		Settings: settings,
		Items:    req.Batch.Items,
		Composer: composer,
		Progress: req.Progress,
	}, nil
}

// Wait blocks until every task started by this service has finished
func (s *Service) Wait() {
	s.running.Wait()
}

// sendJob is one composed message waiting for its slot
type sendJob struct {
	task    *models.Task
	account *models.Account
	address string
	item    models.Item
	draft   Draft
	limiter Limiter
	tracker *tracker
}

// Run processes every item of a job and finishes the task. Probing and
// composing happen in order; sends run concurrently and are paced by the
// job's limiter.
func (s *Service) Run(ctx context.Context, job *Job) {
	task := job.Task
	log := s.logger.With("task_id", task.ID, "account", job.Account.Email)

	tr := newTracker(task, job.Progress)
	audit, auditPath := s.openAudit(task.ID, log)
	limiter := s.newLimiter(time.Duration(job.Settings.SendDelay) * time.Second)

	capacity := -1
	if b, ok := job.Composer.(Bounded); ok {
		capacity = b.Capacity()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r)
		}
		s.finish(ctx, job, tr, audit, auditPath, log)
	}()

	var sends conc.WaitGroup
	defer func() {
		if r := sends.WaitAndRecover(); r != nil {
			log.Error("send panicked", "panic", r.Value)
		}
	}()

	for i, item := range job.Items {
		if capacity >= 0 && i >= capacity {
			log.Warn("message templates exhausted, stopping", "processed", i, "remaining", len(job.Items)-i)
			break
		}

		address := RecipientAddress(item.Seller, s.config.Domain)
		if !s.probe(ctx, address, log) {
			log.Debug("recipient rejected", "email", address)
			continue
		}

		if updated, err := s.store.IncrementValid(ctx, task.ID); err != nil {
			log.Error("failed to count valid recipient", "email", address, "error", err)
		} else {
			tr.observe(ctx, updated)
		}

		s.recordValid(ctx, task, address, item, audit, log)

		draft, err := s.compose(ctx, job, i, item, address)
		if err != nil {
			log.Error("failed to compose message", "email", address, "error", err)
			continue
		}

		sj := sendJob{
			task:    task,
			account: job.Account,
			address: address,
			item:    item,
			draft:   draft,
			limiter: limiter,
			tracker: tr,
		}
		sends.Go(func() {
			s.deliver(ctx, sj, log)
		})
	}
}

// finish closes the audit file, marks the task finished and reports the
// final counters
func (s *Service) finish(ctx context.Context, job *Job, tr *tracker, audit *os.File, auditPath string, log *slog.Logger) {
	task := job.Task

	if audit != nil {
		if err := audit.Close(); err != nil {
			log.Warn("failed to close audit file", "error", err)
		}
	}

	if err := s.store.FinishTask(ctx, task.ID, auditPath); err != nil {
		log.Error("failed to finish task", "error", err)
	}

	final, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		log.Error("failed to reload task", "error", err)
		final = tr.task()
		final.Status = models.TaskFinished
		final.LogFilePath.String, final.LogFilePath.Valid = auditPath, auditPath != ""
	}

	log.Info("task finished", "total", final.TotalSellers, "valid", final.ValidEmails, "sent", final.SentEmails)

	if job.Progress != nil {
		job.Progress.Finished(ctx, snapshotOf(final), final)
	}
}

// probe treats a panicking prober as a rejected address
func (s *Service) probe(ctx context.Context, address string, log *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("prober panicked", "email", address, "panic", r)
			ok = false
		}
	}()
	return s.prober.Probe(ctx, address)
}

func (s *Service) compose(ctx context.Context, job *Job, index int, item models.Item, address string) (draft Draft, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("composer panicked: %v", r)
		}
	}()

	return job.Composer.Compose(ctx, ComposeRequest{
		Index:          index,
		Item:           item,
		RecipientLocal: email.LocalPart(address),
		BuyerName:      job.Account.Name,
		Settings:       job.Settings,
	})
}

func (s *Service) deliver(ctx context.Context, sj sendJob, log *slog.Logger) {
	defer sj.tracker.push(ctx)

	if err := sj.limiter.Wait(ctx); err != nil {
		log.Warn("send cancelled", "email", sj.address, "error", err)
		return
	}

	if !s.sender.Send(ctx, email.Outgoing{To: sj.address, Subject: sj.draft.Subject, Body: sj.draft.Body}, sj.account) {
		log.Warn("send failed", "email", sj.address)
		return
	}

	if updated, err := s.store.IncrementSent(ctx, sj.task.ID); err != nil {
		log.Error("failed to count sent message", "email", sj.address, "error", err)
	} else {
		sj.tracker.record(updated)
	}

	err := s.ledger.Record(ctx, ledger.Turn{
		UserID:    sj.task.UserID,
		AccountID: sj.account.ID,
		Email:     sj.address,
		Direction: models.DirectionOutgoing,
		Subject:   sj.draft.Subject,
		Body:      sj.draft.Body,
		AdLink:    sj.item.AdLink,
	})
	if err != nil {
		log.Error("failed to record outgoing message", "email", sj.address, "error", err)
	}
}

func (s *Service) recordValid(ctx context.Context, task *models.Task, address string, item models.Item, audit *os.File, log *slog.Logger) {
	logItem := &models.LogItem{
		TaskID: task.ID,
		Email:  address,
		Title:  item.Title,
		Price:  item.Price,
		ImgURL: item.ImgURL,
		AdLink: item.AdLink,
		UserID: task.UserID,
	}
	if err := s.store.CreateLogItem(ctx, logItem); err != nil {
		log.Error("failed to store log item", "email", address, "error", err)
	}

	if audit == nil {
		return
	}
	if _, err := audit.WriteString(AuditLine(logItem)); err != nil {
		log.Warn("failed to write audit line", "email", address, "error", err)
	}
}

// AuditLine is one line of a task audit file
func AuditLine(item *models.LogItem) string {
	return fmt.Sprintf("%s | %s | %s | %s | %s\n", item.Email, item.Title, item.Price, item.ImgURL, item.AdLink)
}

// openAudit creates the per-task audit file. The task still runs without it.
func (s *Service) openAudit(taskID int64, log *slog.Logger) (*os.File, string) {
	if err := os.MkdirAll(s.config.LogDir, 0o755); err != nil {
		log.Error("failed to create log directory", "dir", s.config.LogDir, "error", err)
		return nil, ""
	}

	path := filepath.Join(s.config.LogDir, fmt.Sprintf("task_%d.txt", taskID))
	f, err := os.Create(path)
	if err != nil {
		log.Error("failed to create audit file", "path", path, "error", err)
		return nil, ""
	}
	return f, path
}

// tracker keeps the freshest counters seen and forwards them to Progress
type tracker struct {
	mu       sync.Mutex
	current  models.Task
	progress Progress
}

func newTracker(task *models.Task, progress Progress) *tracker {
	return &tracker{current: *task, progress: progress}
}

// record keeps the highest counters seen, updates may arrive out of order
func (t *tracker) record(task *models.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.ValidEmails = max(t.current.ValidEmails, task.ValidEmails)
	t.current.SentEmails = max(t.current.SentEmails, task.SentEmails)
}

func (t *tracker) observe(ctx context.Context, task *models.Task) {
	t.record(task)
	t.push(ctx)
}

func (t *tracker) push(ctx context.Context) {
	if t.progress == nil {
		return
	}
	t.progress.Update(ctx, snapshotOf(t.task()))
}

func (t *tracker) task() *models.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	task := t.current
	return &task
}

func snapshotOf(task *models.Task) Snapshot {
	return Snapshot{
		TaskID: task.ID,
		Total:  task.TotalSellers,
		Valid:  task.ValidEmails,
		Sent:   task.SentEmails,
		Status: task.Status,
	}
}

// IsUserError reports whether err describes a problem with the upload
// rather than a failure of the service
func IsUserError(err error) bool {
	var be *BatchError
	var te *TemplateShortfallError
	return errors.Is(err, ErrEmptyBatch) || errors.Is(err, ErrInvalidBatch) ||
		errors.As(err, &be) || errors.As(err, &te)
}
