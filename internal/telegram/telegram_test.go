package telegram

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/outreachbot/internal/outreach"
)

func TestParseAddAccount(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    accountInput
		wantErr bool
	}{
		{
			name: "pipe format",
			args: "Buyer@Gmail.com | abcd efgh ijkl mnop | Alex",
			want: accountInput{Email: "buyer@gmail.com", Password: "abcdefghijklmnop", Name: "Alex"},
		},
		{
			name: "pipe format with proxy",
			args: "buyer@gmail.com | abcdefghijklmnop | Alex Tan | socks5://u:p@10.0.0.1:1080",
			want: accountInput{Email: "buyer@gmail.com", Password: "abcdefghijklmnop", Name: "Alex Tan", Proxy: "socks5://u:p@10.0.0.1:1080"},
		},
		{
			name: "space format",
			args: "buyer@gmail.com abcdefghijklmnop Alex",
			want: accountInput{Email: "buyer@gmail.com", Password: "abcdefghijklmnop", Name: "Alex"},
		},
		{
			name: "space format with grouped password",
			args: "buyer@gmail.com abcd efgh ijkl mnop Alex",
			want: accountInput{Email: "buyer@gmail.com", Password: "abcdefghijklmnop", Name: "Alex"},
		},
		{
			name: "space format with proxy",
			args: "buyer@gmail.com abcdefghijklmnop Alex socks5://10.0.0.1:1080",
			want: accountInput{Email: "buyer@gmail.com", Password: "abcdefghijklmnop", Name: "Alex", Proxy: "socks5://10.0.0.1:1080"},
		},
		{name: "too few fields", args: "buyer@gmail.com | secret", wantErr: true},
		{name: "bad email", args: "buyer | secret | Alex", wantErr: true},
		{name: "empty name", args: "buyer@gmail.com | secret | ", wantErr: true},
		{name: "http proxy", args: "buyer@gmail.com | secret | Alex | http://10.0.0.1:8080", wantErr: true},
		{name: "empty", args: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAddAccount(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandMatching(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		want bool
	}{
		{"/token", "/token", true},
		{"/token abc", "/token", true},
		{"/token@outreach_bot abc", "/token", true},
		{"/token\nabc", "/token", true},
		{"/tokens", "/token", false},
		{"token", "/token", false},
		{"/tasks", "/task", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, isCommand(tt.text, tt.cmd))
		})
	}

	match := commandMatcher("/start")
	assert.True(t, match(&models.Update{Message: &models.Message{Text: "/start", From: &models.User{ID: 1}}}))
	assert.False(t, match(&models.Update{Message: &models.Message{Text: "/start"}}))
	assert.False(t, match(&models.Update{}))
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, "5", commandArgs("/delay 5"))
	assert.Equal(t, "", commandArgs("/delay"))
	assert.Equal(t, "a | b | c", commandArgs("/addaccount  a | b | c "))
	assert.Equal(t, "line one\nline two", commandArgs("/prompt\nline one\nline two"))
	assert.Equal(t, "Write to {{.Seller}}", commandArgs("/prompt Write to {{.Seller}}"))
}

func TestPendingStore(t *testing.T) {
	s := newPendingStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, ok := s.get(1)
	assert.False(t, ok)

	s.set(1, pendingTaskFile, 10)
	s.set(1, pendingReply, 20)
	s.set(2, pendingCheckFile, 0)

	action, ok := s.get(1)
	require.True(t, ok)
	assert.Equal(t, pendingReply, action.kind)
	assert.Equal(t, int64(20), action.id)

	assert.True(t, s.clear(1))
	assert.False(t, s.clear(1))
	_, ok = s.get(1)
	assert.False(t, ok)

	now = now.Add(pendingTTL + time.Second)
	_, ok = s.get(2)
	assert.False(t, ok, "expired actions are dropped")
}

func TestBatchErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&outreach.BatchError{Row: 3, Missing: []string{"price", "seller"}}, "Строка 3: отсутствуют поля: price, seller"},
		{fmt.Errorf("wrapped: %w", &outreach.TemplateShortfallError{Templates: 1, Items: 2}), "Недостаточно текстов: 1 сообщений на 2 продавцов"},
		{outreach.ErrEmptyBatch, "Файл не содержит продавцов"},
		{outreach.ErrInvalidBatch, "Файл должен быть JSON объектом или массивом продавцов"},
		{fmt.Errorf("unexpected <EOF>"), "Не удалось разобрать JSON: unexpected &lt;EOF&gt;"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, batchErrorText(tt.err))
	}
}

func TestCallbackTarget(t *testing.T) {
	cb := &models.CallbackQuery{
		From:    models.User{ID: 7},
		Message: models.MaybeInaccessibleMessage{Message: &models.Message{ID: 42, Chat: models.Chat{ID: 99}}},
	}
	chatID, msgID := callbackTarget(cb)
	assert.Equal(t, int64(99), chatID)
	assert.Equal(t, 42, msgID)

	chatID, msgID = callbackTarget(&models.CallbackQuery{From: models.User{ID: 7}})
	assert.Equal(t, int64(7), chatID)
	assert.Equal(t, 0, msgID)
}
