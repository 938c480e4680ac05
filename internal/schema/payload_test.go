package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscheck/pkg/exception"
)

func TestParseText(t *testing.T) {
	cases := []struct {
		text    string
		typ     string
		payload string
		ok      bool
	}{
		{text: "CHECK=AAPL:10", typ: "CHECK", payload: "AAPL:10", ok: true},
		{text: "  UPDATE=MSFT:-5\n", typ: "UPDATE", payload: "MSFT:-5", ok: true},
		{text: "CHECK=AAPL:10=", typ: "CHECK", payload: "AAPL:10", ok: true},
		{text: "CHECK=AAPL:10==", typ: "CHECK", payload: "AAPL:10", ok: true},
		{text: "CHECK="},
		{text: "CHECK"},
		{text: ""},
		{text: "="},
		{text: "CHECK=A=1"},
		{text: "CHECK==1"},
	}
	for _, tc := range cases {
		p, err := ParseText(tc.text)
		if !tc.ok {
			assert.ErrorIs(t, err, exception.ErrMalformedMessage, "text %q", tc.text)
			continue
		}
		require.NoError(t, err, "text %q", tc.text)
		assert.Equal(t, tc.typ, p.PayloadType)
		assert.Equal(t, tc.payload, p.Payload)
		assert.NotEmpty(t, p.UID)
		assert.Positive(t, p.CreatedTime)
	}
}

func TestPayloadTextRendersParsedForm(t *testing.T) {
	p, err := ParseText("UPDATE=AAPL:3=")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE=AAPL:3", p.Text())

	a, b := NewPayload("CHECK", "A:1"), NewPayload("CHECK", "A:1")
	assert.NotEqual(t, a.UID, b.UID)
}
