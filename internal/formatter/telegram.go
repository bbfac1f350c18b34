package formatter

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/outreachbot/pkg/models"
)

// HistoryInlineLimit is the longest thread shown as a chat message.
// Longer threads are sent as a file.
const HistoryInlineLimit = 25

const timestampLayout = "02.01.2006 15:04"

// TelegramFormatter formats pipeline state for Telegram HTML messages
type TelegramFormatter struct {
	maxLength int
	location  *time.Location
}

// NewTelegramFormatter creates a new Telegram formatter. Timestamps are
// shown in loc.
func NewTelegramFormatter(loc *time.Location) *TelegramFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
		location:  loc,
	}
}

// Location returns the zone timestamps are shown in
func (f *TelegramFormatter) Location() *time.Location {
	return f.location
}

// FormatTask formats the live status of a task
func (f *TelegramFormatter) FormatTask(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🆔 Задача #%d\n", task.ID))
	sb.WriteString(fmt.Sprintf("Статус: %s\n", task.Status))
	sb.WriteString(fmt.Sprintf("Всего продавцов: %d\n", task.TotalSellers))
	sb.WriteString(fmt.Sprintf("Валидных email: %d\n", task.ValidEmails))
	sb.WriteString(fmt.Sprintf("Отправлено: %d\n", task.SentEmails))
	return sb.String()
}

// FormatTaskStarted is the first text of a task status message
func (f *TelegramFormatter) FormatTaskStarted(task *models.Task) string {
	return fmt.Sprintf("Задача #%d запущена. Обработка продавцов...\n\n%s", task.ID, f.FormatTask(task))
}

// FormatTaskSummary is sent once a task finishes
func (f *TelegramFormatter) FormatTaskSummary(task *models.Task) string {
	return fmt.Sprintf("Задача #%d завершена!\nВсего продавцов: %d\nВалидных email: %d\nОтправлено: %d",
		task.ID, task.TotalSellers, task.ValidEmails, task.SentEmails)
}

// FormatAccount formats an account card
func (f *TelegramFormatter) FormatAccount(acc *models.Account) string {
	proxy := "нет"
	if acc.Proxy.Valid && acc.Proxy.String != "" {
		proxy = maskProxy(acc.Proxy.String)
	}
	incoming := "выключена"
	if acc.IncomingEnabled {
		incoming = "включена"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>%s</b>\n", f.escapeHTML(acc.Email)))
	sb.WriteString(fmt.Sprintf("Имя: %s\n", f.escapeHTML(acc.Name)))
	sb.WriteString(fmt.Sprintf("Proxy: %s\n", f.escapeHTML(proxy)))
	sb.WriteString(fmt.Sprintf("Проверка входящих: %s", incoming))
	return sb.String()
}

// FormatSettings formats user settings. The token is masked.
func (f *TelegramFormatter) FormatSettings(s *models.Settings) string {
	token := "не задан"
	if s.AIToken != "" {
		token = maskToken(s.AIToken)
	}
	prompt := "стандартный"
	if s.AIPrompt.Valid && s.AIPrompt.String != "" {
		prompt = "свой"
	}

	var sb strings.Builder
	sb.WriteString("<b>⚙️ Настройки</b>\n\n")
	sb.WriteString(fmt.Sprintf("🔑 AI Token: <code>%s</code>\n", f.escapeHTML(token)))
	sb.WriteString(fmt.Sprintf("⌛️ Задержка отправки: %d сек.\n", s.SendDelay))
	sb.WriteString(fmt.Sprintf("📝 Промпт: %s\n\n", prompt))
	sb.WriteString("/token &lt;значение&gt; - установить токен\n")
	sb.WriteString("/delay &lt;секунды&gt; - задержка между письмами\n")
	sb.WriteString("/prompt &lt;текст&gt; - свой промпт, /prompt reset - стандартный")
	return sb.String()
}

// FormatIncoming formats a new reply notification
func (f *TelegramFormatter) FormatIncoming(msg *models.IncomingMessage, adLink string) string {
	body := msg.BodyFull
	if strings.TrimSpace(body) == "" {
		body = msg.BodyPreview
	}
	if strings.TrimSpace(body) == "" {
		body = "Без текста"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📩 Письмо | %s\n\n", f.escapeHTML(msg.FromEmail)))
	sb.WriteString(fmt.Sprintf("🔗 %s\n", f.FormatLink(adLink)))
	sb.WriteString(fmt.Sprintf("🕒 Ответ получен: %s\n\n", f.FormatTimestamp(msg.ReceivedAt)))
	sb.WriteString("💬 Текст сообщения:\n\n")
	sb.WriteString(f.escapeHTML(f.truncate(body, f.maxLength-sb.Len()-100)))
	return sb.String()
}

// FormatReplyPrompt asks the user for reply text
func (f *TelegramFormatter) FormatReplyPrompt(msg *models.IncomingMessage) string {
	return fmt.Sprintf("Введите ответ для %s (тема: %s)\nМожно отправить текст, фото или файл изображения.",
		f.escapeHTML(msg.FromEmail), f.escapeHTML(msg.Subject))
}

// FormatHistory formats a thread as a chat message
func (f *TelegramFormatter) FormatHistory(email, adLink string, turns []*models.ConversationMessage) string {
	if len(turns) == 0 {
		return "История пуста."
	}

	lines := []string{
		fmt.Sprintf("📜 История | %s", f.escapeHTML(email)),
		"",
		fmt.Sprintf("🔗 %s", f.FormatLink(adLink)),
		"",
	}
	for _, t := range turns {
		body := strings.TrimSpace(t.Body)
		if body == "" {
			body = "(пусто)"
		}
		body = clip(body, f.maxLength/HistoryInlineLimit)
		lines = append(lines, fmt.Sprintf("%s [%s] %s", directionIcon(t.Direction), f.formatTime(t.CreatedAt), f.escapeHTML(body)))
	}

	return strings.Join(lines, "\n")
}

// FormatHistoryFile renders a thread as plain text for a document
func (f *TelegramFormatter) FormatHistoryFile(turns []*models.ConversationMessage) []byte {
	var sb strings.Builder
	for _, t := range turns {
		icon := "⬅️"
		if t.Direction == models.DirectionOutgoing {
			icon = "➡️"
		}
		link := "—"
		if t.AdLink.Valid && t.AdLink.String != "" {
			link = t.AdLink.String
		}
		sb.WriteString(fmt.Sprintf("%s [%s] %s\n%s\nAdlink: %s\n\n", icon, f.formatTime(t.CreatedAt), t.Subject, t.Body, link))
	}
	return []byte(sb.String())
}

// FormatLink renders an ad link or a placeholder
func (f *TelegramFormatter) FormatLink(adLink string) string {
	if adLink == "" {
		return "Ссылка не найдена"
	}
	return fmt.Sprintf(`<a href="%s">Ссылка на объявление</a>`, f.escapeAttr(adLink))
}

// FormatTimestamp renders a nullable time in the formatter's location
func (f *TelegramFormatter) FormatTimestamp(t sql.NullTime) string {
	if !t.Valid || t.Time.IsZero() {
		return "неизвестно"
	}
	return f.formatTime(t.Time)
}

func (f *TelegramFormatter) formatTime(t time.Time) string {
	if t.IsZero() {
		return "неизвестно"
	}
	return t.In(f.location).Format(timestampLayout)
}

func directionIcon(d models.Direction) string {
	if d == models.DirectionOutgoing {
		return "🦣"
	}
	return "👤"
}

// EscapeHTML escapes text for Telegram HTML parse mode
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func (f *TelegramFormatter) escapeHTML(s string) string {
	return EscapeHTML(s)
}

func (f *TelegramFormatter) escapeAttr(s string) string {
	return strings.ReplaceAll(EscapeHTML(s), `"`, "&quot;")
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "\n\n... (сообщение обрезано)"
}

// clip shortens s to n runes
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func maskToken(token string) string {
	runes := []rune(token)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "…" + string(runes[len(runes)-4:])
}

// maskProxy hides proxy credentials
func maskProxy(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
