package outreach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/pkg/models"
)

type fakeProber struct {
	mu      sync.Mutex
	accept  map[string]bool
	explode map[string]bool // addresses that panic
	delay   time.Duration
	calls   []string
}

func (p *fakeProber) Probe(_ context.Context, address string) bool {
	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, address)
	if p.explode[address] {
		panic("resolver exploded")
	}
	return p.accept[address]
}

type fakeSender struct {
	mu     sync.Mutex
	reject map[string]bool
	sent   []email.Outgoing
}

func (s *fakeSender) Send(_ context.Context, msg email.Outgoing, _ *models.Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[msg.To] {
		return false
	}
	s.sent = append(s.sent, msg)
	return true
}

type completerFunc func(ctx context.Context, token, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, token, prompt string) (string, error) {
	return f(ctx, token, prompt)
}

type recordingProgress struct {
	mu       sync.Mutex
	updates  []Snapshot
	finished []*models.Task
}

func (p *recordingProgress) Update(_ context.Context, s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, s)
}

func (p *recordingProgress) Finished(_ context.Context, _ Snapshot, task *models.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, task)
}

type fixture struct {
	db      *database.DB
	ledger  *ledger.Ledger
	prober  *fakeProber
	sender  *fakeSender
	svc     *Service
	account *models.Account
	logDir  string
}

func newFixture(t *testing.T, ai Completer) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "outreach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	account := &models.Account{UserID: 42, Email: "buyer@gmail.com", AppPassword: "enc", Name: "Alex"}
	require.NoError(t, db.CreateAccount(ctx, account))
	require.NoError(t, db.SetSendDelay(ctx, 42, 0))
	require.NoError(t, db.SetAIToken(ctx, 42, "tok"))

	if ai == nil {
		ai = completerFunc(func(context.Context, string, string) (string, error) {
			return `{"subject":"Enquiry","message":"Hi there - Alex"}`, nil
		})
	}

	f := &fixture{
		db:      db,
		ledger:  ledger.New(db),
		prober:  &fakeProber{accept: map[string]bool{}},
		sender:  &fakeSender{reject: map[string]bool{}},
		account: account,
		logDir:  filepath.Join(dir, "logs"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(Config{LogDir: f.logDir, Domain: "gmail.com"}, db, f.prober, f.sender, f.ledger, ai, logger)
	return f
}

func items(sellers ...string) []models.Item {
	out := make([]models.Item, 0, len(sellers))
	for _, s := range sellers {
		out = append(out, models.Item{
			Title:  "Lamp " + s,
			Price:  "S$10",
			ImgURL: "https://img/" + s,
			Seller: s,
			AdLink: "https://carousell.sg/p/" + s,
		})
	}
	return out
}

func TestRunCountsProbesSendsAndAudit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.prober.accept["anna@gmail.com"] = true
	f.prober.accept["ben@gmail.com"] = true
	f.sender.reject["ben@gmail.com"] = true

	progress := &recordingProgress{}
	job, err := f.svc.Prepare(ctx, StartRequest{
		UserID: 42, AccountID: f.account.ID,
		Batch:    &Batch{Items: items("anna", "Ben", "carl")},
		Progress: progress,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, job.Task.Status)

	f.svc.Run(ctx, job)

	task, err := f.db.GetTask(ctx, job.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, task.TotalSellers)
	assert.Equal(t, 2, task.ValidEmails)
	assert.Equal(t, 1, task.SentEmails)
	assert.Equal(t, models.TaskFinished, task.Status)
	require.True(t, task.LogFilePath.Valid)
	assert.Equal(t, filepath.Join(f.logDir, "task_1.txt"), task.LogFilePath.String)

	data, err := os.ReadFile(task.LogFilePath.String)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "anna@gmail.com | Lamp anna | S$10 | https://img/anna | https://carousell.sg/p/anna", lines[0])
	assert.Equal(t, "ben@gmail.com | Lamp Ben | S$10 | https://img/Ben | https://carousell.sg/p/Ben", lines[1])

	logItems, err := f.db.GetLogItemsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, logItems, 2)

	history, err := f.ledger.History(ctx, 42, "anna@gmail.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.DirectionOutgoing, history[0].Direction)
	assert.Equal(t, "https://carousell.sg/p/anna", history[0].AdLink.String)

	history, err = f.ledger.History(ctx, 42, "ben@gmail.com", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	progress.mu.Lock()
	defer progress.mu.Unlock()
	require.Len(t, progress.finished, 1)
	assert.Equal(t, 2, progress.finished[0].ValidEmails)
	assert.Equal(t, 1, progress.finished[0].SentEmails)
	for _, u := range progress.updates {
		assert.LessOrEqual(t, u.Valid, u.Total)
		assert.LessOrEqual(t, u.Sent, u.Valid)
	}
}

func TestRunFallsBackWhenGenerationFails(t *testing.T) {
	f := newFixture(t, completerFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("status 500")
	}))
	ctx := context.Background()
	f.prober.accept["anna@gmail.com"] = true

	job, err := f.svc.Prepare(ctx, StartRequest{UserID: 42, AccountID: f.account.ID, Batch: &Batch{Items: items("anna")}})
	require.NoError(t, err)
	f.svc.Run(ctx, job)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "anna@gmail.com", msg.To)
	assert.Contains(t, msg.Subject, "Lamp anna")
	assert.Contains(t, msg.Body, "Lamp anna")
	assert.Contains(t, msg.Body, "Alex")
}

func TestPrepareRejectsTemplateShortfall(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Prepare(context.Background(), StartRequest{
		UserID: 42, AccountID: f.account.ID,
		Batch: &Batch{Items: items("a", "b", "c"), Messages: []string{"one", "two"}},
	})

	var shortfall *TemplateShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, 2, shortfall.Templates)
	assert.Equal(t, 3, shortfall.Items)
	assert.True(t, IsUserError(err))

	tasks, err := f.db.GetTasksByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPrepareRejectsForeignAccount(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Prepare(context.Background(), StartRequest{
		UserID: 7, AccountID: f.account.ID,
		Batch: &Batch{Items: items("a")},
	})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRunStopsWhenTemplatesRunOut(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		f.prober.accept[s+"@gmail.com"] = true
	}

	settings, err := f.db.GetSettings(ctx, 42)
	require.NoError(t, err)
	task := &models.Task{AccountID: f.account.ID, UserID: 42, TotalSellers: 3}
	require.NoError(t, f.db.CreateTask(ctx, task))

	f.svc.Run(ctx, &Job{
		Task:     task,
		Account:  f.account,
		Settings: settings,
		Items:    items("a", "b", "c"),
		Composer: NewTemplateListComposer([]string{"first body", "second body"}),
	})

	assert.Equal(t, []string{"a@gmail.com", "b@gmail.com"}, f.prober.calls)

	got, err := f.db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ValidEmails)
	assert.Equal(t, 2, got.SentEmails)
	assert.Equal(t, models.TaskFinished, got.Status)

	data, err := os.ReadFile(got.LogFilePath.String)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	bodies := map[string]string{}
	for _, m := range f.sender.sent {
		bodies[m.To] = m.Body
		assert.Equal(t, "Lamp "+strings.TrimSuffix(m.To, "@gmail.com"), m.Subject)
	}
	assert.Equal(t, map[string]string{"a@gmail.com": "first body", "b@gmail.com": "second body"}, bodies)
}

func TestStartPairsTemplatesWithItems(t *testing.T) {
	f := newFixture(t, completerFunc(func(context.Context, string, string) (string, error) {
		t.Error("templated batches must not call the generator")
		return "", errors.New("unexpected")
	}))
	for _, s := range []string{"a", "b", "c"} {
		f.prober.accept[s+"@gmail.com"] = true
	}

	batch := &Batch{Items: items("a", "b", "c"), Messages: []string{"one", "two", "three"}}
	task, err := f.svc.Start(context.Background(), StartRequest{UserID: 42, AccountID: f.account.ID, Batch: batch})
	require.NoError(t, err)
	f.svc.Wait()

	got, err := f.db.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SentEmails)

	want := map[string]email.Outgoing{
		"a@gmail.com": {To: "a@gmail.com", Subject: "Lamp a", Body: "one"},
		"b@gmail.com": {To: "b@gmail.com", Subject: "Lamp b", Body: "two"},
		"c@gmail.com": {To: "c@gmail.com", Subject: "Lamp c", Body: "three"},
	}
	sent := map[string]email.Outgoing{}
	for _, m := range f.sender.sent {
		sent[m.To] = m
	}
	assert.Equal(t, want, sent)
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.prober.accept["anna@gmail.com"] = true

	task, err := f.svc.Start(ctx, StartRequest{UserID: 42, AccountID: f.account.ID, Batch: &Batch{Items: items("anna")}})
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, task.Status)
	cancel()

	f.svc.Wait()

	got, err := f.db.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFinished, got.Status)
	assert.Equal(t, 1, got.SentEmails)
}

func TestRunSurvivesComposerPanic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.prober.accept["a@gmail.com"] = true

	settings, err := f.db.GetSettings(ctx, 42)
	require.NoError(t, err)
	task := &models.Task{AccountID: f.account.ID, UserID: 42, TotalSellers: 1}
	require.NoError(t, f.db.CreateTask(ctx, task))

	f.svc.Run(ctx, &Job{
		Task: task, Account: f.account, Settings: settings,
		Items:    items("a"),
		Composer: panickingComposer{},
	})

	got, err := f.db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ValidEmails)
	assert.Equal(t, 0, got.SentEmails)
	assert.Equal(t, models.TaskFinished, got.Status)
}

func TestRunSurvivesRecipientCheckPanic(t *testing.T) {
	f := newFixture(t, nil)
	for _, a := range []string{"a@gmail.com", "b@gmail.com", "c@gmail.com"} {
		f.prober.accept[a] = true
	}
	f.prober.explode = map[string]bool{"b@gmail.com": true}
	progress := &recordingProgress{}

	task, err := f.svc.Start(context.Background(), StartRequest{
		UserID:    42,
		AccountID: f.account.ID,
		Batch:     &Batch{Items: items("a", "b", "c")},
		Progress:  progress,
	})
	require.NoError(t, err)

	require.NotPanics(t, f.svc.Wait)

	assert.Equal(t, []string{"a@gmail.com", "b@gmail.com", "c@gmail.com"}, f.prober.calls)

	got, err := f.db.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFinished, got.Status)
	assert.Equal(t, 2, got.ValidEmails)
	assert.Equal(t, 2, got.SentEmails)
	require.Len(t, progress.finished, 1)
	assert.Equal(t, models.TaskFinished, progress.finished[0].Status)
}

type panickingComposer struct{}

func (panickingComposer) Compose(context.Context, ComposeRequest) (Draft, error) {
	panic("boom")
}

func TestReplyRecordsTurnWithAdLink(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.ledger.Record(ctx, ledger.Turn{
		UserID: 42, AccountID: f.account.ID, Email: "seller@gmail.com",
		Direction: models.DirectionOutgoing, Subject: "Enquiry", Body: "hi", AdLink: "https://carousell.sg/p/1",
	}))

	in := &models.IncomingMessage{AccountID: f.account.ID, MessageID: "<m1>", FromEmail: "seller@gmail.com", Subject: "Lamp", UserID: 42}
	require.NoError(t, f.db.CreateIncoming(ctx, in))

	err := f.svc.Reply(ctx, ReplyRequest{UserID: 42, IncomingID: in.ID, Text: "Can I pick it up today?"})
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Re: Lamp", f.sender.sent[0].Subject)
	assert.Equal(t, "seller@gmail.com", f.sender.sent[0].To)

	history, err := f.ledger.History(ctx, 42, "seller@gmail.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	assert.Equal(t, "Can I pick it up today?", last.Body)
	assert.Equal(t, "https://carousell.sg/p/1", last.AdLink.String)
}

func TestReplyImageOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := &models.IncomingMessage{AccountID: f.account.ID, MessageID: "<m2>", FromEmail: "seller@gmail.com", Subject: "Re: Lamp", UserID: 42}
	require.NoError(t, f.db.CreateIncoming(ctx, in))

	err := f.svc.Reply(ctx, ReplyRequest{
		UserID: 42, IncomingID: in.ID,
		Attachments: []email.Attachment{{Filename: "photo.jpg", Data: []byte{0xff, 0xd8}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Lamp", f.sender.sent[0].Subject)

	history, err := f.ledger.History(ctx, 42, "seller@gmail.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ImagePlaceholder, history[0].Body)
}

func TestReplyErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := &models.IncomingMessage{AccountID: f.account.ID, MessageID: "<m3>", FromEmail: "nope@gmail.com", Subject: "x", UserID: 42}
	require.NoError(t, f.db.CreateIncoming(ctx, in))
	f.sender.reject["nope@gmail.com"] = true

	assert.ErrorIs(t, f.svc.Reply(ctx, ReplyRequest{UserID: 42, IncomingID: in.ID}), ErrEmptyReply)
	assert.ErrorIs(t, f.svc.Reply(ctx, ReplyRequest{UserID: 42, IncomingID: in.ID, Text: "hi"}), ErrSendFailed)
	assert.ErrorIs(t, f.svc.Reply(ctx, ReplyRequest{UserID: 7, IncomingID: in.ID, Text: "hi"}), database.ErrNotFound)

	history, err := f.ledger.History(ctx, 42, "nope@gmail.com", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestValidateKeepsAcceptedRowsInOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.prober.accept["a@gmail.com"] = true
	f.prober.accept["c@gmail.com"] = true

	rows := ParseCheckRows([]byte("a | t1 | l1\nb | t2 | l2\nC@gmail.com | t3 | l3\n"), "gmail.com")
	valid := f.svc.Validate(context.Background(), rows)

	require.Len(t, valid, 2)
	assert.Equal(t, "a@gmail.com | t1 | l1", valid[0].String())
	assert.Equal(t, "c@gmail.com | t3 | l3", valid[1].String())
}

func TestValidateAsyncIsJoinedByWait(t *testing.T) {
	f := newFixture(t, nil)
	f.prober.accept["a@gmail.com"] = true
	f.prober.delay = 50 * time.Millisecond

	rows := ParseCheckRows([]byte("a | t1 | l1\nb | t2 | l2\n"), "gmail.com")

	var (
		mu    sync.Mutex
		got   []CheckRow
		calls int
	)
	f.svc.ValidateAsync(context.Background(), rows, func(valid []CheckRow) {
		mu.Lock()
		defer mu.Unlock()
		got = valid
		calls++
	})

	f.svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "Wait must return after the callback ran")
	require.Len(t, got, 1)
	assert.Equal(t, "a@gmail.com | t1 | l1", got[0].String())
}

func TestValidateTreatsCheckPanicAsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.prober.accept["a@gmail.com"] = true
	f.prober.accept["c@gmail.com"] = true
	f.prober.explode = map[string]bool{"a@gmail.com": true}

	rows := ParseCheckRows([]byte("a | t1 | l1\nc | t3 | l3\n"), "gmail.com")
	valid := f.svc.Validate(context.Background(), rows)

	require.Len(t, valid, 1)
	assert.Equal(t, "c@gmail.com | t3 | l3", valid[0].String())
}
