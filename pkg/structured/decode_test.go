package structured

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applicant struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

type passport struct {
	Number   string    `json:"number"`
	Holder   applicant `json:"holder"`
	Stamps   []stamp   `json:"stamps"`
	Note     string    `json:"note,omitempty"`
	Expiry   *string   `json:"expiry"`
	internal string
	Extra    *applicant `json:"extra"`
}

type stamp struct {
	Country string `json:"country"`
	Year    int    `json:"year"`
}

type country struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (c country) Validate() error {
	if c.Language == "" {
		return errors.New("language must not be empty")
	}
	return nil
}

type base struct {
	ID string `json:"id"`
}

type visa struct {
	base
	Kind string `json:"kind"`
}

func TestDecodeRepairsEmbeddedNewline(t *testing.T) {
	reply := "Here you go: {\"name\": \"Ann\", \"bio\": \"Line1\nLine2\"} thanks"

	got, err := Decode[applicant](reply)
	require.NoError(t, err)
	assert.Equal(t, applicant{Name: "Ann", Bio: "Line1\nLine2"}, got)
}

func TestDecodeLenientSyntax(t *testing.T) {
	reply := "```json\n{\n  // the applicant\n  \"name\": \"Jorji\",\n  \"bio\": \"Smuggler\",\n}\n```"

	got, err := Decode[applicant](reply)
	require.NoError(t, err)
	assert.Equal(t, "Jorji", got.Name)
}

func TestDecodeRequiredFields(t *testing.T) {
	_, err := Decode[applicant](`{"name": "Ann"}`)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, err.Error(), `"bio"`)

	_, err = Decode[passport](`{"number": "X1", "holder": {"name": "Ann", "bio": ""}, "stamps": [{"country": "Kolechia"}]}`)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, err.Error(), `"stamps[0].year"`)

	got, err := Decode[passport](`{"number": "X1", "holder": {"name": "Ann", "bio": ""}, "stamps": []}`)
	require.NoError(t, err, "omitempty and pointer fields are optional")
	assert.Nil(t, got.Expiry)
	assert.Empty(t, got.internal)
}

func TestDecodeKeysMatchCaseInsensitively(t *testing.T) {
	got, err := Decode[applicant](`{"Name": "Ann", "BIO": "b"}`)
	require.NoError(t, err)
	assert.Equal(t, applicant{Name: "Ann", Bio: "b"}, got)
}

func TestDecodeEmbeddedStruct(t *testing.T) {
	_, err := Decode[visa](`{"kind": "work"}`)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, err.Error(), `"id"`)

	got, err := Decode[visa](`{"id": "v1", "kind": "work"}`)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ID)
}

func TestDecodeTypeMismatch(t *testing.T) {
	_, err := Decode[stamp](`{"country": "Obristan", "year": "soon"}`)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeValidator(t *testing.T) {
	_, err := Decode[country](`{"name": "Arstotzka", "language": ""}`)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, err.Error(), "language must not be empty")

	got, err := Decode[country](`{"name": "Arstotzka", "language": "Arstotzkan"}`)
	require.NoError(t, err)
	assert.Equal(t, "Arstotzkan", got.Language)
}

func TestDecodeGenericMap(t *testing.T) {
	got, err := Decode[map[string]any](`Result: {"ok": true, "n": 2}`)
	require.NoError(t, err)
	assert.Equal(t, true, got["ok"])
	assert.InDelta(t, 2.0, got["n"], 0)
}

func TestDecodeNoPayload(t *testing.T) {
	_, err := Decode[applicant]("I cannot help with that.")
	require.ErrorIs(t, err, ErrNoStructuredPayload)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeList(t *testing.T) {
	reply := "Phrases:\n[{\"country\": \"Impor\", \"year\": 1982}, {\"country\": \"Antegria\", \"year\": 1983},]"

	got, err := DecodeList[stamp](reply)
	require.NoError(t, err)
	assert.Equal(t, []stamp{{Country: "Impor", Year: 1982}, {Country: "Antegria", Year: 1983}}, got)

	_, err = DecodeList[stamp](`[{"country": "Impor", "year": 1982}, {"country": "Antegria"}]`)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, err.Error(), `"[1].year"`)

	_, err = DecodeList[stamp](`[1, 2`)
	require.ErrorIs(t, err, ErrNoStructuredPayload)
}
