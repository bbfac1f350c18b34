package inbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
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

type fakeFetcher struct {
	byAccount map[int64][]*email.InboundEmail
	fail      map[int64]error
	panics    map[int64]bool
}

func (f *fakeFetcher) FetchUnseen(_ context.Context, account *models.Account) ([]*email.InboundEmail, error) {
	if f.panics[account.ID] {
		panic("imap exploded")
	}
	return f.byAccount[account.ID], f.fail[account.ID]
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) NotifyIncoming(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

type fixture struct {
	db       *database.DB
	ledger   *ledger.Ledger
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	watcher  *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	f := &fixture{
		db:       db,
		ledger:   ledger.New(db),
		fetcher:  &fakeFetcher{byAccount: map[int64][]*email.InboundEmail{}, fail: map[int64]error{}, panics: map[int64]bool{}},
		notifier: &recordingNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.watcher = New(Config{Interval: time.Hour}, db, f.fetcher, f.ledger, f.notifier, logger)
	return f
}

func (f *fixture) account(t *testing.T, userID int64, addr string, incoming bool) *models.Account {
	t.Helper()
	a := &models.Account{UserID: userID, Email: addr, AppPassword: "enc", Name: "Alex", IncomingEnabled: incoming}
	require.NoError(t, f.db.CreateAccount(context.Background(), a))
	return a
}

func inbound(id, from string) *email.InboundEmail {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return &email.InboundEmail{
		MessageID:  id,
		From:       from,
		Subject:    "Re: Enquiry about Desk | Carousell",
		Body:       "Yes, still available",
		Preview:    "Yes, still available",
		ReceivedAt: &at,
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 42, "buyer@gmail.com", true)

	require.NoError(t, f.ledger.Record(ctx, ledger.Turn{
		UserID: 42, AccountID: acc.ID, Email: "seller@gmail.com",
		Direction: models.DirectionOutgoing, Subject: "Enquiry", Body: "hi",
		AdLink: "https://carousell.sg/p/1", At: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}))
	f.fetcher.byAccount[acc.ID] = []*email.InboundEmail{inbound("<a@mail>", "seller@gmail.com")}

	assert.Equal(t, 1, f.watcher.Sweep(ctx))
	assert.Equal(t, 0, f.watcher.Sweep(ctx))

	require.Len(t, f.notifier.sent, 1)
	note := f.notifier.sent[0]
	assert.Equal(t, "https://carousell.sg/p/1", note.AdLink)
	assert.Equal(t, int64(42), note.Account.UserID)
	assert.Equal(t, "seller@gmail.com", note.Message.FromEmail)
	assert.NotZero(t, note.Message.ID)

	history, err := f.ledger.History(ctx, 42, "seller@gmail.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.DirectionIncoming, history[1].Direction)
	assert.Equal(t, "Yes, still available", history[1].Body)
	assert.Equal(t, "<a@mail>", history[1].MessageID.String)
	assert.Equal(t, "https://carousell.sg/p/1", history[1].AdLink.String)

	latest, err := f.db.GetLatestIncoming(ctx, 42, 10, 0)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestSweepRoutesToAccountOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, 1, "one@gmail.com", true)
	b := f.account(t, 2, "two@gmail.com", true)

	f.fetcher.byAccount[a.ID] = []*email.InboundEmail{inbound("<1@mail>", "x@gmail.com")}
	f.fetcher.byAccount[b.ID] = []*email.InboundEmail{inbound("<2@mail>", "y@gmail.com")}

	assert.Equal(t, 2, f.watcher.Sweep(ctx))

	owners := map[string]int64{}
	for _, n := range f.notifier.sent {
		owners[n.Message.FromEmail] = n.Account.UserID
		assert.Equal(t, n.Account.UserID, n.Message.UserID)
	}
	assert.Equal(t, map[string]int64{"x@gmail.com": 1, "y@gmail.com": 2}, owners)
}

func TestSweepIsolatesAccountFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broken := f.account(t, 1, "broken@gmail.com", true)
	crashing := f.account(t, 1, "crash@gmail.com", true)
	partial := f.account(t, 1, "partial@gmail.com", true)
	healthy := f.account(t, 1, "ok@gmail.com", true)
	disabled := f.account(t, 1, "off@gmail.com", false)

	f.fetcher.fail[broken.ID] = errors.New("login failed")
	f.fetcher.panics[crashing.ID] = true
	f.fetcher.byAccount[partial.ID] = []*email.InboundEmail{inbound("<p@mail>", "p@gmail.com")}
	f.fetcher.fail[partial.ID] = errors.New("connection reset")
	f.fetcher.byAccount[healthy.ID] = []*email.InboundEmail{inbound("<h@mail>", "h@gmail.com")}
	f.fetcher.byAccount[disabled.ID] = []*email.InboundEmail{inbound("<d@mail>", "d@gmail.com")}

	assert.Equal(t, 2, f.watcher.Sweep(ctx))

	var from []string
	for _, n := range f.notifier.sent {
		from = append(from, n.Message.FromEmail)
	}
	assert.ElementsMatch(t, []string{"p@gmail.com", "h@gmail.com"}, from)
}

func TestSweepSkipsMessagesWithoutSender(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1, "one@gmail.com", true)
	f.fetcher.byAccount[acc.ID] = []*email.InboundEmail{inbound("<x@mail>", "")}

	assert.Equal(t, 0, f.watcher.Sweep(context.Background()))
	assert.Empty(t, f.notifier.sent)
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1, "one@gmail.com", true)
	f.fetcher.byAccount[acc.ID] = []*email.InboundEmail{inbound("<r@mail>", "r@gmail.com")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.watcher.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// flakyLedger fails the first inbound Record and delegates everything else
type flakyLedger struct {
	*ledger.Ledger
	mu       sync.Mutex
	failures int
}

func (l *flakyLedger) Record(ctx context.Context, t ledger.Turn) error {
	l.mu.Lock()
	fail := t.Direction == models.DirectionIncoming && l.failures > 0
	if fail {
		l.failures--
	}
	l.mu.Unlock()

	if fail {
		return errors.New("database is locked")
	}
	return l.Ledger.Record(ctx, t)
}

func TestSweepRestoresTurnLostToLedgerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 42, "buyer@gmail.com", true)

	flaky := &flakyLedger{Ledger: f.ledger, failures: 1}
	f.watcher.ledger = flaky
	f.fetcher.byAccount[acc.ID] = []*email.InboundEmail{inbound("<a@mail>", "seller@gmail.com")}

	assert.Equal(t, 1, f.watcher.Sweep(ctx))
	history, err := f.ledger.History(ctx, 42, "seller@gmail.com", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Equal(t, 0, f.watcher.Sweep(ctx))
	assert.Equal(t, 0, f.watcher.Sweep(ctx))

	history, err = f.ledger.History(ctx, 42, "seller@gmail.com", 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "the inbound turn is restored once")
	assert.Equal(t, models.DirectionIncoming, history[0].Direction)
	assert.Equal(t, "<a@mail>", history[0].MessageID.String)

	assert.Len(t, f.notifier.sent, 1, "a restored turn is not announced again")
}
