package outreach

import (
	"fmt"
	"strings"
	"text/template"
)

// Stylistic hints drawn per message so a batch does not read like one template
var (
	tones = []string{
		"friendly and relaxed",
		"polite and a little curious",
		"warm and to the point",
		"casual but respectful",
	}
	openings = []string{
		"mention that you came across the listing while browsing Carousell",
		"open with a short greeting and name the item",
		"start with what caught your eye in the photos",
	}
	closings = []string{
		"thank the seller for their time",
		"ask when would be a good time to collect",
		"ask politely whether the price has any flexibility",
	}
)

// DefaultPrompt is used when the user has no custom prompt.
// Custom prompts use the same fields.
const DefaultPrompt = `You write short, natural English messages from a real buyer on Carousell Singapore to a seller.

Write ONE original message to the seller "{{.Seller}}" about the item "{{.Title}}".

Requirements:
- Ask whether the item is still available, phrased in your own words. Avoid stock phrasing such as "Is this available?" or "Still available?".
- Add one brief personal remark about the item that sounds genuine.
- Tone: {{.Tone}}.
- Opening: {{.Opening}}.
- Closing: {{.Closing}}.
- No lists, no heavy Singlish, no marketplace boilerplate.
- End the message with the buyer name: {{.BuyerName}}

Subject must be exactly: "Enquiry about {{.Title}} | Carousell"

Reply with JSON only:
{"subject": "", "message": ""}`

type promptData struct {
	Title     string
	Seller    string
	BuyerName string
	Price     string
	Tone      string
	Opening   string
	Closing   string
}

var defaultPromptTmpl = template.Must(template.New("prompt").Parse(DefaultPrompt))

// ValidatePrompt checks that a custom prompt template parses and renders
func ValidatePrompt(text string) error {
	tmpl, err := template.New("custom").Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("invalid prompt template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, promptData{}); err != nil {
		return fmt.Errorf("invalid prompt template: %w", err)
	}
	return nil
}

// renderPrompt renders the custom template, or the default one when the custom
// template is empty or broken
func renderPrompt(custom string, data promptData) string {
	var sb strings.Builder
	if custom != "" {
		if tmpl, err := template.New("custom").Parse(custom); err == nil {
			if err := tmpl.Execute(&sb, data); err == nil {
				return sb.String()
			}
		}
		sb.Reset()
	}

	// The default template is static and cannot fail on promptData
	_ = defaultPromptTmpl.Execute(&sb, data)
	return sb.String()
}
