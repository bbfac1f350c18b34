package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/formatter"
	"github.com/mixelka/outreachbot/internal/outreach"
)

// handleTaskUpload starts a task from the JSON file the user sent
func (b *Bot) handleTaskUpload(ctx context.Context, msg *models.Message, action pendingAction) {
	if msg.Document == nil {
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "Ожидается JSON файл с продавцами.", formatter.BuildCancelKeyboard())
		return
	}

	data, err := b.downloadFile(ctx, msg.Document.FileID)
	if err != nil {
		b.logger.Error("failed to download task file", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Не удалось скачать файл, попробуйте еще раз")
		return
	}

	batch, err := outreach.ParseBatch(data)
	if err != nil {
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, batchErrorText(err), formatter.BuildCancelKeyboard())
		return
	}

	if !batch.Templated() {
		settings, err := b.db.GetSettings(ctx, msg.From.ID)
		if err != nil {
			b.logger.Error("failed to get settings", "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "Ошибка получения настроек")
			return
		}
		if settings.AIToken == "" {
			b.pending.clear(msg.From.ID)
			b.sendMessage(ctx, msg.Chat.ID, "Сначала задайте AI токен: <code>/token значение</code>")
			return
		}
	}

	progress := newTaskProgress(b, msg.Chat.ID)
	task, err := b.outreach.Start(ctx, outreach.StartRequest{
		UserID:    msg.From.ID,
		AccountID: action.id,
		Batch:     batch,
		Progress:  progress,
	})
	if err != nil {
		switch {
		case outreach.IsUserError(err):
			b.sendMessageWithKeyboard(ctx, msg.Chat.ID, batchErrorText(err), formatter.BuildCancelKeyboard())
		case errors.Is(err, database.ErrNotFound):
			b.pending.clear(msg.From.ID)
			b.sendMessage(ctx, msg.Chat.ID, "Почта не найдена")
		default:
			b.logger.Error("failed to start task", "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "Ошибка запуска задачи")
		}
		return
	}
	b.pending.clear(msg.From.ID)

	status, err := b.sendMessageWithKeyboard(ctx, msg.Chat.ID, b.formatter.FormatTaskStarted(task), formatter.BuildTaskKeyboard(task.ID))
	if err != nil {
		return
	}
	progress.attach(ctx, status.ID)
}

// batchErrorText explains a rejected upload
func batchErrorText(err error) string {
	var be *outreach.BatchError
	var te *outreach.TemplateShortfallError

	switch {
	case errors.As(err, &be):
		return fmt.Sprintf("Строка %d: отсутствуют поля: %s", be.Row, strings.Join(be.Missing, ", "))
	case errors.As(err, &te):
		return fmt.Sprintf("Недостаточно текстов: %d сообщений на %d продавцов", te.Templates, te.Items)
	case errors.Is(err, outreach.ErrEmptyBatch):
		return "Файл не содержит продавцов"
	case errors.Is(err, outreach.ErrInvalidBatch):
		return "Файл должен быть JSON объектом или массивом продавцов"
	default:
		return "Не удалось разобрать JSON: " + formatter.EscapeHTML(err.Error())
	}
}

// handleCheckUpload validates a list of addresses without sending anything
func (b *Bot) handleCheckUpload(ctx context.Context, msg *models.Message) {
	if msg.Document == nil {
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "Ожидается .txt файл со строками <code>email | title | adLink</code>.", formatter.BuildCancelKeyboard())
		return
	}

	data, err := b.downloadFile(ctx, msg.Document.FileID)
	if err != nil {
		b.logger.Error("failed to download check file", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Не удалось скачать файл, попробуйте еще раз")
		return
	}

	rows := outreach.ParseCheckRows(data, b.config.ProbeDomain)
	if len(rows) == 0 {
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "Не удалось найти ни одной строки формата email | title | adLink.", formatter.BuildCancelKeyboard())
		return
	}
	b.pending.clear(msg.From.ID)

	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("Проверяю %d адресов...", len(rows)))

	chatID := msg.Chat.ID
	runCtx := context.WithoutCancel(ctx)
	b.outreach.ValidateAsync(runCtx, rows, func(valid []outreach.CheckRow) {
		if len(valid) == 0 {
			b.sendMessage(runCtx, chatID, "Валидных gmail-адресов не найдено.")
			return
		}

		var sb strings.Builder
		for _, row := range valid {
			sb.WriteString(row.String())
			sb.WriteByte('\n')
		}
		b.sendDocument(runCtx, chatID, fmt.Sprintf("valid_%d.txt", msg.ID), []byte(sb.String()),
			fmt.Sprintf("Готово! Валидных записей: %d", len(valid)))
	})
}

// handleReplyInput sends the user's text or image as a reply to an incoming message
func (b *Bot) handleReplyInput(ctx context.Context, msg *models.Message, action pendingAction) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var attachments []email.Attachment
	switch {
	case len(msg.Photo) > 0:
		// The last size is the largest
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := b.downloadFile(ctx, photo.FileID)
		if err != nil {
			b.logger.Error("failed to download photo", "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "Не удалось скачать фото, попробуйте еще раз")
			return
		}
		attachments = append(attachments, email.Attachment{Filename: photo.FileUniqueID + ".jpg", Data: data})

	case msg.Document != nil:
		att := email.Attachment{Filename: msg.Document.FileName}
		if !att.IsImage() && !strings.HasPrefix(msg.Document.MimeType, "image/") {
			b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "Можно отправить только текст или изображение.", formatter.BuildCancelKeyboard())
			return
		}
		data, err := b.downloadFile(ctx, msg.Document.FileID)
		if err != nil {
			b.logger.Error("failed to download document", "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "Не удалось скачать файл, попробуйте еще раз")
			return
		}
		att.Data = data
		attachments = append(attachments, att)
	}

	err := b.outreach.Reply(ctx, outreach.ReplyRequest{
		UserID:      msg.From.ID,
		IncomingID:  action.id,
		Text:        text,
		Attachments: attachments,
	})
	switch {
	case err == nil:
		b.pending.clear(msg.From.ID)
		b.sendMessage(ctx, msg.Chat.ID, "✅ Ответ отправлен")
	case errors.Is(err, outreach.ErrEmptyReply):
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "Ответ пустой. Отправьте текст или изображение.", formatter.BuildCancelKeyboard())
	case errors.Is(err, outreach.ErrSendFailed):
		b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "❌ Не удалось отправить ответ. Попробуйте еще раз.", formatter.BuildCancelKeyboard())
	case errors.Is(err, database.ErrNotFound):
		b.pending.clear(msg.From.ID)
		b.sendMessage(ctx, msg.Chat.ID, "Письмо или почта больше не найдены")
	default:
		b.logger.Error("failed to send reply", "incoming_id", action.id, "error", err)
		b.pending.clear(msg.From.ID)
		b.sendMessage(ctx, msg.Chat.ID, "Ошибка отправки ответа")
	}
}
