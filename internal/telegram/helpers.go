package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// maxDownloadSize is the Bot API limit for files a bot can download
const maxDownloadSize = 20 << 20

// commandMatcher matches "/cmd", "/cmd args" and "/cmd@botname"
func commandMatcher(cmd string) bot.MatchFunc {
	return func(update *models.Update) bool {
		if update.Message == nil || update.Message.From == nil {
			return false
		}
		return isCommand(update.Message.Text, cmd)
	}
}

func isCommand(text, cmd string) bool {
	if !strings.HasPrefix(text, cmd) {
		return false
	}
	rest := text[len(cmd):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '@'
}

// commandArgs returns the text after the command word
func commandArgs(text string) string {
	_, args, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(text, '\n'); i >= 0 && (args == "" || i < strings.IndexByte(text, ' ')) {
		args = text[i+1:]
	}
	return strings.TrimSpace(args)
}

// sendMessage sends an HTML message
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) (*models.Message, error) {
	return b.sendMessageWithKeyboard(ctx, chatID, text, nil)
}

// sendMessageWithKeyboard sends a message with inline keyboard
func (b *Bot) sendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	msg, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
	return msg, err
}

// editMessage replaces the text and keyboard of a message
func (b *Bot) editMessage(ctx context.Context, chatID int64, msgID int, text string, keyboard *models.InlineKeyboardMarkup) error {
	params := &bot.EditMessageTextParams{
		ChatID:             chatID,
		MessageID:          msgID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	return err
}

// showScreen edits the callback's message in place, or sends a new one when
// the original can no longer be edited
func (b *Bot) showScreen(ctx context.Context, cb *models.CallbackQuery, text string, keyboard *models.InlineKeyboardMarkup) {
	chatID, msgID := callbackTarget(cb)
	if msgID != 0 {
		err := b.editMessage(ctx, chatID, msgID, text, keyboard)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			return
		}
		b.logger.Debug("failed to edit message, sending a new one", "error", err)
	}
	b.sendMessageWithKeyboard(ctx, chatID, text, keyboard)
}

// deleteMessage deletes a message
func (b *Bot) deleteMessage(ctx context.Context, chatID int64, msgID int) error {
	_, err := b.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	})
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

// sendDocument uploads data as a file
func (b *Bot) sendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	_, err := b.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Caption:  caption,
	})
	if err != nil {
		b.logger.Warn("failed to send document", "chat_id", chatID, "file", filename, "error", err)
	}
	return err
}

// downloadFile fetches a file the user sent to the bot
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file is larger than %d bytes", maxDownloadSize)
	}
	return data, nil
}

// callbackTarget returns the chat and message a callback button belongs to
func callbackTarget(cb *models.CallbackQuery) (chatID int64, msgID int) {
	switch {
	case cb.Message.Message != nil:
		return cb.Message.Message.Chat.ID, cb.Message.Message.ID
	case cb.Message.InaccessibleMessage != nil:
		return cb.Message.InaccessibleMessage.Chat.ID, cb.Message.InaccessibleMessage.MessageID
	default:
		// Private chats share the user's id
		return cb.From.ID, 0
	}
}
