package outreach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/outreachbot/pkg/models"
)

func TestParseBatchObjectKeepsOrder(t *testing.T) {
	data := []byte(`{
		"z": {"title": "Desk", "price": 80, "img_url": "https://i/1", "seller": "zed", "adLink": "https://c/1"},
		"a": {"title": "Lamp", "price": "S$10", "img_url": "https://i/2", "seller": "amy", "ad_link": "https://c/2"},
		"m": {"title": "Sofa", "price": 12.5, "img_url": "https://i/3", "seller": "max@mail.com"}
	}`)

	batch, err := ParseBatch(data)
	require.NoError(t, err)
	assert.False(t, batch.Templated())
	assert.Equal(t, []models.Item{
		{Title: "Desk", Price: "80", ImgURL: "https://i/1", Seller: "zed", AdLink: "https://c/1"},
		{Title: "Lamp", Price: "S$10", ImgURL: "https://i/2", Seller: "amy", AdLink: "https://c/2"},
		{Title: "Sofa", Price: "12.5", ImgURL: "https://i/3", Seller: "max@mail.com"},
	}, batch.Items)
}

func TestParseBatchArray(t *testing.T) {
	batch, err := ParseBatch([]byte(`[{"title":"Desk","price":"1","img_url":"u","seller":"s","adlink":"l"}]`))
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "l", batch.Items[0].AdLink)
}

func TestParseBatchEnvelope(t *testing.T) {
	batch, err := ParseBatch([]byte(`{
		"items": {"1": {"title":"Desk","price":"1","img_url":"u","seller":"s"}},
		"messages": ["Hello, is the desk still there?"]
	}`))
	require.NoError(t, err)
	assert.True(t, batch.Templated())
	assert.Equal(t, []string{"Hello, is the desk still there?"}, batch.Messages)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "Desk", batch.Items[0].Title)
}

func TestParseBatchAcceptsEmptyValues(t *testing.T) {
	batch, err := ParseBatch([]byte(`[{"title":"Lamp","price":"","img_url":null,"seller":"anna"}]`))
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "Lamp", batch.Items[0].Title)
	assert.Equal(t, "", batch.Items[0].Price)
	assert.Equal(t, "", batch.Items[0].ImgURL)
	assert.Equal(t, "anna", batch.Items[0].Seller)
}

func TestParseBatchErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantRow     int
		wantMissing []string
		wantErr     error
	}{
		{name: "empty input", data: "  ", wantErr: ErrEmptyBatch},
		{name: "empty object", data: "{}", wantErr: ErrEmptyBatch},
		{name: "empty envelope", data: `{"items": [], "messages": []}`, wantErr: ErrEmptyBatch},
		{name: "not json", data: "seller1, seller2", wantErr: ErrInvalidBatch},
		{name: "truncated", data: `{"a": {"title": "x"`, wantErr: ErrInvalidBatch},
		{name: "scalar item", data: `["just a string"]`, wantErr: ErrInvalidBatch},
		{
			name:        "missing fields",
			data:        `{"a": {"title":"t","price":"1","img_url":"u","seller":"s"}, "b": {"title":"t","seller":"s"}}`,
			wantRow:     2,
			wantMissing: []string{"price", "img_url"},
		},
		{
			name:        "all fields absent",
			data:        `[{"adlink":"https://c/1"}]`,
			wantRow:     1,
			wantMissing: []string{"title", "price", "img_url", "seller"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsUserError(err))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			var be *BatchError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantRow, be.Row)
			assert.Equal(t, tt.wantMissing, be.Missing)
		})
	}
}

func TestParseCheckRows(t *testing.T) {
	data := []byte("\ufeffJohn.Doe | Old bike | https://c/1\r\n" +
		"\n" +
		"no pipes here\n" +
		"Seller@Mail.com|Chair|https://c/2\n" +
		" | missing login | x\n" +
		"kim | Title | with | pipes\n")

	rows := ParseCheckRows(data, "gmail.com")
	assert.Equal(t, []CheckRow{
		{Email: "john.doe@gmail.com", Title: "Old bike", AdLink: "https://c/1"},
		{Email: "seller@mail.com", Title: "Chair", AdLink: "https://c/2"},
		{Email: "kim@gmail.com", Title: "Title", AdLink: "with | pipes"},
	}, rows)
}

func TestRecipientAddress(t *testing.T) {
	assert.Equal(t, "anna@gmail.com", RecipientAddress(" Anna ", "gmail.com"))
	assert.Equal(t, "anna@mail.sg", RecipientAddress("Anna@Mail.SG", "gmail.com"))
}
