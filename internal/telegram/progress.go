package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/mixelka/outreachbot/internal/formatter"
	"github.com/mixelka/outreachbot/internal/inbox"
	"github.com/mixelka/outreachbot/internal/outreach"
	appmodels "github.com/mixelka/outreachbot/pkg/models"
)

// progressInterval limits status edits per task. Telegram throttles bots that
// edit one message too often.
const progressInterval = 2 * time.Second

// taskProgress keeps a task status message up to date
type taskProgress struct {
	bot    *Bot
	chatID int64

	mu       sync.Mutex
	msgID    int
	last     outreach.Snapshot
	lastEdit time.Time
	final    *appmodels.Task
}

func newTaskProgress(b *Bot, chatID int64) *taskProgress {
	return &taskProgress{bot: b, chatID: chatID}
}

// attach binds the status message once it has been sent. A task that already
// finished gets its final text right away.
func (p *taskProgress) attach(ctx context.Context, msgID int) {
	p.mu.Lock()
	p.msgID = msgID
	final := p.final
	p.mu.Unlock()

	if final != nil {
		p.edit(ctx, msgID, final)
	}
}

// Update edits the status message, at most once per progressInterval
func (p *taskProgress) Update(ctx context.Context, s outreach.Snapshot) {
	p.mu.Lock()
	p.last = s
	if p.msgID == 0 || p.final != nil || time.Since(p.lastEdit) < progressInterval {
		p.mu.Unlock()
		return
	}
	p.lastEdit = time.Now()
	msgID := p.msgID
	p.mu.Unlock()

	p.edit(ctx, msgID, &appmodels.Task{
		ID:           s.TaskID,
		TotalSellers: s.Total,
		ValidEmails:  s.Valid,
		SentEmails:   s.Sent,
		Status:       s.Status,
	})
}

// Finished shows the final counters and sends the summary
func (p *taskProgress) Finished(ctx context.Context, s outreach.Snapshot, task *appmodels.Task) {
	if task == nil {
		task = &appmodels.Task{
			ID:           s.TaskID,
			TotalSellers: s.Total,
			ValidEmails:  s.Valid,
			SentEmails:   s.Sent,
			Status:       s.Status,
		}
	}

	p.mu.Lock()
	p.final = task
	msgID := p.msgID
	p.mu.Unlock()

	if msgID != 0 {
		p.edit(ctx, msgID, task)
	}
	p.bot.sendMessage(ctx, p.chatID, p.bot.formatter.FormatTaskSummary(task))
}

func (p *taskProgress) edit(ctx context.Context, msgID int, task *appmodels.Task) {
	err := p.bot.editMessage(ctx, p.chatID, msgID, p.bot.formatter.FormatTask(task), formatter.BuildTaskKeyboard(task.ID))
	if err != nil {
		p.bot.logger.Debug("failed to edit task status", "task_id", task.ID, "error", err)
	}
}

// NotifyIncoming sends a new reply to the user owning the account
func (b *Bot) NotifyIncoming(ctx context.Context, n inbox.Notification) error {
	text := b.formatter.FormatIncoming(n.Message, n.AdLink)
	_, err := b.sendMessageWithKeyboard(ctx, n.Account.UserID, text, formatter.BuildIncomingKeyboard(n.Message.ID, false))
	return err
}
