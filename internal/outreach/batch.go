package outreach

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mixelka/outreachbot/pkg/models"
)

var (
	// ErrEmptyBatch is returned when an upload holds no items
	ErrEmptyBatch = errors.New("batch has no items")
	// ErrInvalidBatch is returned when an upload is not a JSON object or array of items
	ErrInvalidBatch = errors.New("batch is not a JSON object or array")
)

var requiredFields = []string{"title", "price", "img_url", "seller"}

// BatchError reports an item with missing required fields
type BatchError struct {
	Row     int // 1-based position in the upload
	Missing []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("item %d: missing fields: %s", e.Row, strings.Join(e.Missing, ", "))
}

// TemplateShortfallError is returned when a template batch has fewer bodies than items
type TemplateShortfallError struct {
	Templates int
	Items     int
}

func (e *TemplateShortfallError) Error() string {
	return fmt.Sprintf("%d message templates for %d items", e.Templates, e.Items)
}

// Batch is a parsed upload. Messages is non-nil for the template-list variant.
type Batch struct {
	Items    []models.Item
	Messages []string
}

// Templated reports whether the batch carries its own message bodies
func (b *Batch) Templated() bool {
	return b.Messages != nil
}

// ParseBatch reads an upload. Accepted shapes are an object or array of items,
// or an envelope {"items": ..., "messages": [...]} for pre-written bodies.
// Object keys keep their upload order.
func ParseBatch(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 {
		return nil, ErrEmptyBatch
	}

	var batch Batch
	switch data[0] {
	case '[':
		raws, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		if batch.Items, err = decodeItems(raws); err != nil {
			return nil, err
		}
	case '{':
		keys, raws, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		if isEnvelope(keys) {
			return parseEnvelope(keys, raws)
		}
		if batch.Items, err = decodeItems(raws); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidBatch
	}

	if len(batch.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	return &batch, nil
}

func isEnvelope(keys []string) bool {
	hasItems := false
	for _, k := range keys {
		switch k {
		case "items":
			hasItems = true
		case "messages":
		default:
			return false
		}
	}
	return hasItems
}

func parseEnvelope(keys []string, raws []json.RawMessage) (*Batch, error) {
	batch := &Batch{}
	for i, k := range keys {
		raw := bytes.TrimSpace(raws[i])
		switch k {
		case "messages":
			var messages []string
			if err := json.Unmarshal(raw, &messages); err != nil {
				return nil, fmt.Errorf("failed to decode messages: %w", err)
			}
			if messages == nil {
				messages = []string{}
			}
			batch.Messages = messages
		case "items":
			var itemRaws []json.RawMessage
			var err error
			switch {
			case len(raw) > 0 && raw[0] == '[':
				itemRaws, err = decodeArray(raw)
			case len(raw) > 0 && raw[0] == '{':
				_, itemRaws, err = decodeObject(raw)
			default:
				err = ErrInvalidBatch
			}
			if err != nil {
				return nil, err
			}
			if batch.Items, err = decodeItems(itemRaws); err != nil {
				return nil, err
			}
		}
	}

	if len(batch.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	return batch, nil
}

func decodeArray(data []byte) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	return raws, nil
}

// decodeObject walks an object token by token to preserve key order
func decodeObject(data []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}

	var keys []string
	var raws []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
		keys = append(keys, key)
		raws = append(raws, raw)
	}

	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	return keys, raws, nil
}

func decodeItems(raws []json.RawMessage) ([]models.Item, error) {
	items := make([]models.Item, 0, len(raws))
	for i, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			var be *BatchError
			if errors.As(err, &be) {
				be.Row = i + 1
				return nil, be
			}
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(raw json.RawMessage) (models.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return models.Item{}, fmt.Errorf("%w: item is not an object", ErrInvalidBatch)
	}

	// Only absent keys count as missing; empty values are accepted
	var missing []string
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return models.Item{}, &BatchError{Missing: missing}
	}

	item := models.Item{
		Title:  scalar(fields["title"]),
		Price:  scalar(fields["price"]),
		ImgURL: scalar(fields["img_url"]),
		Seller: scalar(fields["seller"]),
	}
	for _, name := range []string{"adlink", "adLink", "ad_link"} {
		if link := scalar(fields[name]); link != "" {
			item.AdLink = link
			break
		}
	}
	return item, nil
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return fmt.Sprint(val)
	default:
		return ""
	}
}

// CheckRow is one line of a validation-only upload
type CheckRow struct {
	Email  string
	Title  string
	AdLink string
}

func (r CheckRow) String() string {
	return r.Email + " | " + r.Title + " | " + r.AdLink
}

// ParseCheckRows reads lines of "email_or_login | title | adLink". A bare
// login gets the default domain. Lines without all three parts are skipped.
func ParseCheckRows(data []byte, domain string) []CheckRow {
	var rows []CheckRow

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 {
			continue
		}
		login := strings.TrimSpace(parts[0])
		if login == "" {
			continue
		}

		rows = append(rows, CheckRow{
			Email:  RecipientAddress(login, domain),
			Title:  strings.TrimSpace(parts[1]),
			AdLink: strings.TrimSpace(parts[2]),
		})
	}
	return rows
}

// RecipientAddress derives a mailbox from a seller handle. Handles that are
// already addresses are kept as is.
func RecipientAddress(seller, domain string) string {
	seller = strings.ToLower(strings.TrimSpace(seller))
	if strings.Contains(seller, "@") {
		return seller
	}
	return seller + "@" + strings.ToLower(domain)
}
