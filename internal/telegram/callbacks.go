package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/formatter"
	"github.com/mixelka/outreachbot/internal/outreach"
	appmodels "github.com/mixelka/outreachbot/pkg/models"
)

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Ошибка", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackMenu:
		b.answerCallback(ctx, callback.ID, "", false)
		b.showScreen(ctx, callback, "<b>Главное меню</b>", formatter.BuildMainMenu())
	case appmodels.CallbackAccounts:
		b.answerCallback(ctx, callback.ID, "", false)
		text, kb := b.accountsScreen(ctx, callback.From.ID, data.Page)
		b.showScreen(ctx, callback, text, kb)
	case appmodels.CallbackAccount:
		b.handleAccountView(ctx, callback, data)
	case appmodels.CallbackAccountStart:
		b.handleAccountStart(ctx, callback, data)
	case appmodels.CallbackAccountToggle:
		b.handleAccountToggle(ctx, callback, data)
	case appmodels.CallbackAccountDelete:
		b.handleAccountDelete(ctx, callback, data)
	case appmodels.CallbackTasks:
		b.answerCallback(ctx, callback.ID, "", false)
		text, kb := b.tasksScreen(ctx, callback.From.ID, data.Page)
		b.showScreen(ctx, callback, text, kb)
	case appmodels.CallbackTask:
		b.handleTaskView(ctx, callback, data)
	case appmodels.CallbackTaskLog:
		b.handleTaskLog(ctx, callback, data)
	case appmodels.CallbackInbox:
		b.answerCallback(ctx, callback.ID, "", false)
		text, kb := b.inboxScreen(ctx, callback.From.ID, data.Page)
		b.showScreen(ctx, callback, text, kb)
	case appmodels.CallbackIncoming:
		b.handleIncomingView(ctx, callback, data)
	case appmodels.CallbackReply:
		b.handleReplyStart(ctx, callback, data)
	case appmodels.CallbackHistory:
		b.handleHistory(ctx, callback, data)
	case appmodels.CallbackSettings:
		b.answerCallback(ctx, callback.ID, "", false)
		text, kb := b.settingsScreen(ctx, callback.From.ID)
		b.showScreen(ctx, callback, text, kb)
	case appmodels.CallbackAddAccount:
		b.answerCallback(ctx, callback.ID, "", false)
		b.showScreen(ctx, callback, addAccountUsage, formatter.BuildBackKeyboard())
	case appmodels.CallbackCancel:
		b.pending.clear(callback.From.ID)
		b.answerCallback(ctx, callback.ID, "Отменено", false)
		b.showScreen(ctx, callback, "Действие отменено", nil)
	case appmodels.CallbackHide:
		b.answerCallback(ctx, callback.ID, "", false)
		if chatID, msgID := callbackTarget(callback); msgID != 0 {
			b.deleteMessage(ctx, chatID, msgID)
		}
	case appmodels.CallbackNoop:
		b.answerCallback(ctx, callback.ID, "", false)
	default:
		b.answerCallback(ctx, callback.ID, "Неизвестное действие", false)
	}
}

// userAccount loads an account of the callback's user or answers the callback
func (b *Bot) userAccount(ctx context.Context, callback *models.CallbackQuery, id int64) (*appmodels.Account, bool) {
	account, err := b.db.GetUserAccount(ctx, callback.From.ID, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			b.logger.Error("failed to get account", "account_id", id, "error", err)
		}
		b.answerCallback(ctx, callback.ID, "Почта не найдена", true)
		return nil, false
	}
	return account, true
}

// userTask loads a task of the callback's user or answers the callback
func (b *Bot) userTask(ctx context.Context, callback *models.CallbackQuery, id int64) (*appmodels.Task, bool) {
	task, err := b.db.GetTask(ctx, id)
	if err == nil && task.UserID != callback.From.ID {
		err = database.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			b.logger.Error("failed to get task", "task_id", id, "error", err)
		}
		b.answerCallback(ctx, callback.ID, "Задача не найдена", true)
		return nil, false
	}
	return task, true
}

// userIncoming loads an incoming message of the callback's user or answers the callback
func (b *Bot) userIncoming(ctx context.Context, callback *models.CallbackQuery, id int64) (*appmodels.IncomingMessage, bool) {
	msg, err := b.db.GetIncoming(ctx, callback.From.ID, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			b.logger.Error("failed to get incoming message", "incoming_id", id, "error", err)
		}
		b.answerCallback(ctx, callback.ID, "Письмо не найдено", true)
		return nil, false
	}
	return msg, true
}

func (b *Bot) handleAccountView(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	account, ok := b.userAccount(ctx, callback, data.ID)
	if !ok {
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)
	b.showScreen(ctx, callback, b.formatter.FormatAccount(account), formatter.BuildAccountKeyboard(account))
}

func (b *Bot) handleAccountStart(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	account, ok := b.userAccount(ctx, callback, data.ID)
	if !ok {
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)

	b.pending.set(callback.From.ID, pendingTaskFile, account.ID)
	chatID, _ := callbackTarget(callback)
	b.sendMessageWithKeyboard(ctx, chatID,
		fmt.Sprintf("Отправьте JSON файл с продавцами для рассылки с <b>%s</b>", formatter.EscapeHTML(account.Email)),
		formatter.BuildCancelKeyboard())
}

func (b *Bot) handleAccountToggle(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	account, ok := b.userAccount(ctx, callback, data.ID)
	if !ok {
		return
	}

	account.IncomingEnabled = !account.IncomingEnabled
	if err := b.db.SetAccountIncoming(ctx, account.ID, account.IncomingEnabled); err != nil {
		b.logger.Error("failed to toggle incoming", "account_id", account.ID, "error", err)
		b.answerCallback(ctx, callback.ID, "Ошибка сохранения", true)
		return
	}

	status := "Проверка входящих выключена"
	if account.IncomingEnabled {
		status = "Проверка входящих включена"
	}
	b.answerCallback(ctx, callback.ID, status, false)
	b.showScreen(ctx, callback, b.formatter.FormatAccount(account), formatter.BuildAccountKeyboard(account))
}

func (b *Bot) handleAccountDelete(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	account, ok := b.userAccount(ctx, callback, data.ID)
	if !ok {
		return
	}

	if err := b.db.DeleteAccount(ctx, account.ID); err != nil {
		b.logger.Error("failed to delete account", "account_id", account.ID, "error", err)
		b.answerCallback(ctx, callback.ID, "Ошибка удаления", true)
		return
	}

	b.logger.Info("account deleted", "user_id", account.UserID, "account_id", account.ID)
	b.answerCallback(ctx, callback.ID, "Почта удалена", false)
	text, kb := b.accountsScreen(ctx, callback.From.ID, 1)
	b.showScreen(ctx, callback, text, kb)
}

func (b *Bot) handleTaskView(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	task, ok := b.userTask(ctx, callback, data.ID)
	if !ok {
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)
	b.showScreen(ctx, callback, b.formatter.FormatTask(task), formatter.BuildTaskKeyboard(task.ID))
}

func (b *Bot) handleTaskLog(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	task, ok := b.userTask(ctx, callback, data.ID)
	if !ok {
		return
	}

	content, err := b.taskLog(ctx, task)
	if err != nil {
		b.logger.Error("failed to read task log", "task_id", task.ID, "error", err)
		b.answerCallback(ctx, callback.ID, "Ошибка чтения лога", true)
		return
	}
	if len(content) == 0 {
		b.answerCallback(ctx, callback.ID, "Лог пуст", true)
		return
	}

	b.answerCallback(ctx, callback.ID, "", false)
	chatID, _ := callbackTarget(callback)
	b.sendDocument(ctx, chatID, fmt.Sprintf("task_%d.txt", task.ID), content, fmt.Sprintf("Лог задачи #%d", task.ID))
}

// taskLog returns the audit file of a task. Running tasks and lost files are
// rebuilt from the stored log items.
func (b *Bot) taskLog(ctx context.Context, task *appmodels.Task) ([]byte, error) {
	if task.LogFilePath.Valid && task.LogFilePath.String != "" {
		data, err := os.ReadFile(task.LogFilePath.String)
		if err == nil {
			return data, nil
		}
		b.logger.Warn("failed to read audit file, rebuilding", "path", task.LogFilePath.String, "error", err)
	}

	items, err := b.db.GetLogItemsByTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, it := range items {
		sb.WriteString(outreach.AuditLine(it))
	}
	return []byte(sb.String()), nil
}

func (b *Bot) handleIncomingView(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	msg, ok := b.userIncoming(ctx, callback, data.ID)
	if !ok {
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)

	adLink, err := b.ledger.LastAdLink(ctx, msg.UserID, msg.FromEmail)
	if err != nil {
		b.logger.Warn("failed to resolve ad link", "email", msg.FromEmail, "error", err)
	}
	b.showScreen(ctx, callback, b.formatter.FormatIncoming(msg, adLink), formatter.BuildIncomingKeyboard(msg.ID, true))
}

func (b *Bot) handleReplyStart(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	msg, ok := b.userIncoming(ctx, callback, data.ID)
	if !ok {
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)

	b.pending.set(callback.From.ID, pendingReply, msg.ID)
	chatID, _ := callbackTarget(callback)
	b.sendMessageWithKeyboard(ctx, chatID, b.formatter.FormatReplyPrompt(msg), formatter.BuildCancelKeyboard())
}

func (b *Bot) handleHistory(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	msg, ok := b.userIncoming(ctx, callback, data.ID)
	if !ok {
		return
	}

	turns, err := b.ledger.History(ctx, msg.UserID, msg.FromEmail, 0)
	if err != nil {
		b.logger.Error("failed to get history", "email", msg.FromEmail, "error", err)
		b.answerCallback(ctx, callback.ID, "Ошибка получения истории", true)
		return
	}
	b.answerCallback(ctx, callback.ID, "", false)

	chatID, _ := callbackTarget(callback)
	if len(turns) > formatter.HistoryInlineLimit {
		name := fmt.Sprintf("history_%s.txt", strings.ReplaceAll(msg.FromEmail, "@", "_at_"))
		b.sendDocument(ctx, chatID, name, b.formatter.FormatHistoryFile(turns),
			fmt.Sprintf("История с %s (%d сообщений)", msg.FromEmail, len(turns)))
		return
	}

	adLink, err := b.ledger.LastAdLink(ctx, msg.UserID, msg.FromEmail)
	if err != nil {
		b.logger.Warn("failed to resolve ad link", "email", msg.FromEmail, "error", err)
	}
	b.sendMessageWithKeyboard(ctx, chatID, b.formatter.FormatHistory(msg.FromEmail, adLink, turns), formatter.BuildHideKeyboard())
}
