package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/mixelka/outreachbot/pkg/models"
)

// ErrTemplatesExhausted is returned when a template list has no body left for an item
var ErrTemplatesExhausted = errors.New("message templates exhausted")

// ComposeRequest is everything a composer may use to write one message
type ComposeRequest struct {
	Index          int // position of the item in the batch
	Item           models.Item
	RecipientLocal string
	BuyerName      string
	Settings       *models.Settings
}

// Draft is a composed subject and body
type Draft struct {
	Subject string
	Body    string
}

// Composer decides the text of an outreach message
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (Draft, error)
}

// Bounded is implemented by composers that can only serve a fixed number of items
type Bounded interface {
	Capacity() int
}

// Completer is a text generation capability
type Completer interface {
	Complete(ctx context.Context, token, prompt string) (string, error)
}

// GenerativeComposer asks a text generation service for each message and
// falls back to a fixed message when the service fails. It never returns an error.
type GenerativeComposer struct {
	ai     Completer
	pick   func(n int) int
	logger *slog.Logger
}

// NewGenerativeComposer creates a composer backed by a text generation service
func NewGenerativeComposer(ai Completer, logger *slog.Logger) *GenerativeComposer {
	return &GenerativeComposer{
		ai:     ai,
		pick:   rand.IntN,
		logger: logger.With("component", "composer"),
	}
}

// Compose implements Composer
func (g *GenerativeComposer) Compose(ctx context.Context, req ComposeRequest) (Draft, error) {
	var token string
	var custom string
	if req.Settings != nil {
		token = req.Settings.AIToken
		if req.Settings.AIPrompt.Valid {
			custom = req.Settings.AIPrompt.String
		}
	}

	prompt := renderPrompt(custom, promptData{
		Title:     req.Item.Title,
		Seller:    req.RecipientLocal,
		BuyerName: req.BuyerName,
		Price:     req.Item.Price,
		Tone:      tones[g.pick(len(tones))],
		Opening:   openings[g.pick(len(openings))],
		Closing:   closings[g.pick(len(closings))],
	})

	raw, err := g.ai.Complete(ctx, token, prompt)
	if err != nil {
		g.logger.Warn("generation failed, using fallback", "title", req.Item.Title, "error", err)
		return unavailableDraft(req), nil
	}

	draft, err := parseDraft(raw)
	if err != nil {
		g.logger.Warn("unparseable generation, using fallback", "title", req.Item.Title, "error", err)
		return unparsedDraft(req), nil
	}

	if draft.Subject == "" {
		draft.Subject = unparsedDraft(req).Subject
	}
	if draft.Body == "" {
		draft.Body = unparsedDraft(req).Body
	}

	g.logger.Debug("message generated", "title", req.Item.Title, "subject", draft.Subject)
	return draft, nil
}

func unavailableDraft(req ComposeRequest) Draft {
	return Draft{
		Subject: fmt.Sprintf("Question about %s", req.Item.Title),
		Body:    fmt.Sprintf("Hi! I'm interested in %s. Is it still available? - %s", req.Item.Title, req.BuyerName),
	}
}

func unparsedDraft(req ComposeRequest) Draft {
	return Draft{
		Subject: fmt.Sprintf("Question about %s", req.Item.Title),
		Body:    fmt.Sprintf("Hello! I liked %s. Is it still up for sale? - %s", req.Item.Title, req.BuyerName),
	}
}

type generated struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	Content string `json:"content"`
}

// parseDraft reads {"subject","message"} from a model reply. Code fences,
// surrounding prose and a wrapping {"content": "..."} object are tolerated.
func parseDraft(raw string) (Draft, error) {
	return parseDraftDepth(raw, 0)
}

func parseDraftDepth(raw string, depth int) (Draft, error) {
	s := stripFences(strings.TrimSpace(raw))

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Draft{}, fmt.Errorf("no JSON object in reply")
	}

	var g generated
	if err := json.Unmarshal([]byte(s[start:end+1]), &g); err != nil {
		return Draft{}, fmt.Errorf("failed to decode reply: %w", err)
	}

	if g.Subject == "" && g.Message == "" {
		if g.Content != "" && depth == 0 {
			return parseDraftDepth(g.Content, depth+1)
		}
		return Draft{}, fmt.Errorf("reply has no subject or message")
	}

	return Draft{Subject: strings.TrimSpace(g.Subject), Body: strings.TrimSpace(g.Message)}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, it may carry a language tag
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// TemplateListComposer pairs the Nth pre-written body with the Nth item.
// The subject is always the item title.
type TemplateListComposer struct {
	messages []string
}

// NewTemplateListComposer creates a composer over pre-written bodies
func NewTemplateListComposer(messages []string) *TemplateListComposer {
	return &TemplateListComposer{messages: messages}
}

// Capacity implements Bounded
func (t *TemplateListComposer) Capacity() int {
	return len(t.messages)
}

// Compose implements Composer
func (t *TemplateListComposer) Compose(_ context.Context, req ComposeRequest) (Draft, error) {
	if req.Index < 0 || req.Index >= len(t.messages) {
		return Draft{}, fmt.Errorf("item %d: %w", req.Index+1, ErrTemplatesExhausted)
	}
	return Draft{Subject: req.Item.Title, Body: t.messages[req.Index]}, nil
}
