package formatter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/outreachbot/pkg/models"
)

// PageSize is the number of entries per list page
const PageSize = 6

// Paginate returns the 1-based page of items, the clamped page number and the page count
func Paginate[T any](items []T, page, perPage int) ([]T, int, int) {
	totalPages := PageCount(len(items), perPage)
	page = max(1, min(page, totalPages))
	start := (page - 1) * perPage
	end := min(start+perPage, len(items))
	return items[start:end], page, totalPages
}

// PageCount returns how many pages total entries take, at least one
func PageCount(total, perPage int) int {
	return max(1, (total+perPage-1)/perPage)
}

// BuildMainMenu creates the main menu keyboard
func BuildMainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button("▶️ Запустить задачу", appmodels.CallbackData{Action: appmodels.CallbackAccounts, Page: 1})},
			{button("➕ Добавить почту", appmodels.CallbackData{Action: appmodels.CallbackAddAccount})},
			{button("📊 Список задач", appmodels.CallbackData{Action: appmodels.CallbackTasks, Page: 1})},
			{button("📥 Входящие письма", appmodels.CallbackData{Action: appmodels.CallbackInbox, Page: 1})},
			{button("⚙️ Настройки", appmodels.CallbackData{Action: appmodels.CallbackSettings})},
		},
	}
}

// BuildAccountsKeyboard lists the user's accounts
func BuildAccountsKeyboard(accounts []*appmodels.Account, page int) *models.InlineKeyboardMarkup {
	chunk, page, totalPages := Paginate(accounts, page, PageSize)

	var rows [][]models.InlineKeyboardButton
	for _, acc := range chunk {
		rows = append(rows, []models.InlineKeyboardButton{
			button(acc.Email, appmodels.CallbackData{Action: appmodels.CallbackAccount, ID: acc.ID}),
		})
	}
	if nav := navRow(appmodels.CallbackAccounts, page, totalPages); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, backRow(appmodels.CallbackData{Action: appmodels.CallbackMenu}))

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildAccountKeyboard creates actions for one account
func BuildAccountKeyboard(acc *appmodels.Account) *models.InlineKeyboardMarkup {
	toggle := "📥 Включить проверку входящих"
	if acc.IncomingEnabled {
		toggle = "📴 Выключить проверку входящих"
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button("▶️ Запустить", appmodels.CallbackData{Action: appmodels.CallbackAccountStart, ID: acc.ID})},
			{button(toggle, appmodels.CallbackData{Action: appmodels.CallbackAccountToggle, ID: acc.ID})},
			{button("❌ Удалить", appmodels.CallbackData{Action: appmodels.CallbackAccountDelete, ID: acc.ID})},
			backRow(appmodels.CallbackData{Action: appmodels.CallbackAccounts, Page: 1}),
		},
	}
}

// BuildTasksKeyboard lists the user's tasks
func BuildTasksKeyboard(tasks []*appmodels.Task, page int) *models.InlineKeyboardMarkup {
	chunk, page, totalPages := Paginate(tasks, page, PageSize)

	var rows [][]models.InlineKeyboardButton
	for _, t := range chunk {
		rows = append(rows, []models.InlineKeyboardButton{
			button(fmt.Sprintf("Задача #%d (%s)", t.ID, t.Status), appmodels.CallbackData{Action: appmodels.CallbackTask, ID: t.ID}),
		})
	}
	if nav := navRow(appmodels.CallbackTasks, page, totalPages); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, backRow(appmodels.CallbackData{Action: appmodels.CallbackMenu}))

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildTaskKeyboard creates actions for a task status message
func BuildTaskKeyboard(taskID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button("🔄 Обновить", appmodels.CallbackData{Action: appmodels.CallbackTask, ID: taskID})},
			{button("📄 Лог", appmodels.CallbackData{Action: appmodels.CallbackTaskLog, ID: taskID})},
			backRow(appmodels.CallbackData{Action: appmodels.CallbackTasks, Page: 1}),
		},
	}
}

// BuildInboxKeyboard lists one page of senders. items is already the page,
// total is the number of senders across all pages.
func BuildInboxKeyboard(items []*appmodels.IncomingMessage, page, total int, loc *time.Location) *models.InlineKeyboardMarkup {
	totalPages := PageCount(total, PageSize)
	page = max(1, min(page, totalPages))

	var rows [][]models.InlineKeyboardButton
	for _, it := range items {
		ts := "–"
		if it.ReceivedAt.Valid {
			ts = it.ReceivedAt.Time.In(loc).Format(timestampLayout)
		}
		rows = append(rows, []models.InlineKeyboardButton{
			button(fmt.Sprintf("%s (%s)", it.FromEmail, ts), appmodels.CallbackData{Action: appmodels.CallbackIncoming, ID: it.ID}),
		})
	}
	if nav := navRow(appmodels.CallbackInbox, page, totalPages); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, backRow(appmodels.CallbackData{Action: appmodels.CallbackMenu}))

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildIncomingKeyboard creates actions for an incoming message
func BuildIncomingKeyboard(incomingID int64, withBack bool) *models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{
		{button("💬 Ответить", appmodels.CallbackData{Action: appmodels.CallbackReply, ID: incomingID})},
		{button("📜 История", appmodels.CallbackData{Action: appmodels.CallbackHistory, ID: incomingID})},
	}
	if withBack {
		rows = append(rows, backRow(appmodels.CallbackData{Action: appmodels.CallbackInbox, Page: 1}))
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildCancelKeyboard aborts a pending input
func BuildCancelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button("❌ Отменить", appmodels.CallbackData{Action: appmodels.CallbackCancel})},
		},
	}
}

// BuildHideKeyboard removes the message it is attached to
func BuildHideKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button("🙈 Скрыть", appmodels.CallbackData{Action: appmodels.CallbackHide})},
		},
	}
}

// BuildBackKeyboard returns to the main menu
func BuildBackKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			backRow(appmodels.CallbackData{Action: appmodels.CallbackMenu}),
		},
	}
}

func navRow(action appmodels.CallbackAction, page, totalPages int) []models.InlineKeyboardButton {
	if totalPages <= 1 {
		return nil
	}

	var nav []models.InlineKeyboardButton
	if page > 1 {
		nav = append(nav, button("⬅️", appmodels.CallbackData{Action: action, Page: page - 1}))
	}
	nav = append(nav, button(fmt.Sprintf("%d/%d", page, totalPages), appmodels.CallbackData{Action: appmodels.CallbackNoop}))
	if page < totalPages {
		nav = append(nav, button("➡️", appmodels.CallbackData{Action: action, Page: page + 1}))
	}
	return nav
}

func backRow(target appmodels.CallbackData) []models.InlineKeyboardButton {
	return []models.InlineKeyboardButton{button("◀️ Назад", target)}
}

func button(text string, data appmodels.CallbackData) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: EncodeCallback(data)}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
