package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "quote marker",
			body: "Yes, still available\n> Hi! Is it available?",
			want: "Yes, still available",
		},
		{
			name: "english attribution",
			body: "Sure, 50 is fine\n\nOn Mon, 3 Jun 2024 at 10:00, Alex <a@gmail.com> wrote:\n> Hello",
			want: "Sure, 50 is fine",
		},
		{
			name: "russian attribution",
			body: "Да, актуально\n3 июня 2024 г., Alex написал:\nHello",
			want: "Да, актуально",
		},
		{
			name: "signature delimiter",
			body: "Deal\n-- \nSent from my phone",
			want: "Deal",
		},
		{
			name: "day stamp",
			body: "Ок\nчт, 6 июн. 2024 г. в 12:00, Alex <a@gmail.com>:\nтекст",
			want: "Ок",
		},
		{
			name: "weekend day stamp",
			body: "Договорились\n  вс, 9 июн. 2024 г. в 18:00, Alex <a@gmail.com>\nтекст",
			want: "Договорились",
		},
		{
			name: "capitalized day names are reply text",
			body: "Пт, суббота или воскресенье подойдут\nСр, к сожалению, занят",
			want: "Пт, суббота или воскресенье подойдут\nСр, к сожалению, занят",
		},
		{
			name: "weekday stamps outside the list are kept",
			body: "Да\nпт, вечером могу встретиться",
			want: "Да\nпт, вечером могу встретиться",
		},
		{
			name: "marker without colon is kept",
			body: "Он написал мне вчера\nВсё хорошо",
			want: "Он написал мне вчера\nВсё хорошо",
		},
		{
			name: "nothing left falls back to original",
			body: "  > only quoted text  ",
			want: "> only quoted text",
		},
		{
			name: "empty",
			body: "",
			want: "",
		},
		{
			name: "crlf",
			body: "Yes\r\n> quoted\r\n",
			want: "Yes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanReply(tt.body))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "first line", Preview("\n  first line\nsecond", PreviewLength))
	assert.Equal(t, "", Preview("   ", PreviewLength))

	long := strings.Repeat("я", 250)
	assert.Equal(t, strings.Repeat("я", 200), Preview(long, PreviewLength))
}

func TestHTMLParserDropsQuotes(t *testing.T) {
	p := NewHTMLParser()
	html := `<html><head><style>p{}</style></head><body>
		<div>Still available&#8203;!</div><div>Price is firm<br>Thanks</div>
		<div class="gmail_quote"><div class="gmail_attr">On Mon Alex wrote:</div>
		<blockquote>Hi! Is it available?</blockquote></div></body></html>`

	text, err := p.Parse(html)
	require.NoError(t, err)
	assert.Equal(t, "Still available!\nPrice is firm\nThanks", text)
}

func TestHTMLParserEmpty(t *testing.T) {
	text, err := NewHTMLParser().Parse("")
	require.NoError(t, err)
	assert.Empty(t, text)
}
