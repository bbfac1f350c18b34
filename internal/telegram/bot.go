package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/outreachbot/internal/config"
	"github.com/mixelka/outreachbot/internal/database"
	"github.com/mixelka/outreachbot/internal/email"
	"github.com/mixelka/outreachbot/internal/formatter"
	"github.com/mixelka/outreachbot/internal/ledger"
	"github.com/mixelka/outreachbot/internal/outreach"
	"github.com/mixelka/outreachbot/internal/secret"
)

// Bot represents the Telegram bot
type Bot struct {
	bot        *bot.Bot
	db         *database.DB
	outreach   *outreach.Service
	ledger     *ledger.Ledger
	fetcher    *email.Fetcher
	cipher     *secret.Cipher
	formatter  *formatter.TelegramFormatter
	httpClient *http.Client
	pending    *pendingStore
	logger     *slog.Logger
	config     *config.Config
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config    *config.Config
	DB        *database.DB
	Outreach  *outreach.Service
	Ledger    *ledger.Ledger
	Fetcher   *email.Fetcher
	Cipher    *secret.Cipher
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:         deps.DB,
		outreach:   deps.Outreach,
		ledger:     deps.Ledger,
		fetcher:    deps.Fetcher,
		cipher:     deps.Cipher,
		formatter:  deps.Formatter,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pending:    newPendingStore(),
		logger:     deps.Logger.With("component", "telegram_bot"),
		config:     deps.Config,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	commands := map[string]bot.HandlerFunc{
		"/start":      b.handleStart,
		"/help":       b.handleHelp,
		"/addaccount": b.handleAddAccount,
		"/accounts":   b.handleAccounts,
		"/tasks":      b.handleTasks,
		"/inbox":      b.handleInbox,
		"/settings":   b.handleSettings,
		"/token":      b.handleToken,
		"/delay":      b.handleDelay,
		"/prompt":     b.handlePrompt,
		"/check":      b.handleCheck,
		"/cancel":     b.handleCancel,
	}
	for cmd, h := range commands {
		b.bot.RegisterHandlerMatchFunc(commandMatcher(cmd), h)
	}
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// defaultHandler receives uploads and free text. They only mean something
// while the user has a pending action.
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	action, ok := b.pending.get(msg.From.ID)
	if !ok {
		if msg.Text != "" && msg.Text[0] == '/' {
			b.logger.Debug("unknown command", "text", msg.Text)
		}
		if msg.Document != nil {
			b.sendMessage(ctx, msg.Chat.ID, "Чтобы запустить задачу, выберите почту в меню и нажмите «Запустить».")
		}
		return
	}

	switch action.kind {
	case pendingTaskFile:
		b.handleTaskUpload(ctx, msg, action)
	case pendingCheckFile:
		b.handleCheckUpload(ctx, msg)
	case pendingReply:
		b.handleReplyInput(ctx, msg, action)
	}
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	b.pending.clear(msg.From.ID)
	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, "<b>Главное меню</b>", formatter.BuildMainMenu())
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	text := `<b>Бот рассылки по объявлениям</b>

<b>Команды:</b>
/start - главное меню
/addaccount email | app password | имя [| socks5://proxy] - добавить почту
/accounts - список почт и запуск задачи
/tasks - список задач
/inbox - входящие ответы
/check - проверить список адресов без рассылки
/settings - настройки
/token значение - AI токен
/delay секунды - задержка между письмами
/prompt текст - свой промпт, /prompt reset - стандартный
/cancel - отменить текущее действие

<b>Файл задачи (JSON):</b>
<code>{"1": {"title": "...", "price": "...", "img_url": "...", "seller": "...", "adlink": "..."}}</code>
Для своих текстов: <code>{"items": {...}, "messages": ["...", "..."]}</code>

<b>Промпт</b> может использовать поля {{.Title}}, {{.Seller}}, {{.BuyerName}}, {{.Price}}, {{.Tone}}, {{.Opening}}, {{.Closing}}.`

	b.sendMessage(ctx, msg.Chat.ID, text)
}
