package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Analytica/internal/domain"
)

func TestExtract(t *testing.T) {
	const doc = `{"data": {"rates": [{"symbol": "BTC", "funding": 0.0001}, {"symbol": "ETH", "funding": -0.0002}]}, "note": "ok"}`

	tests := []struct {
		name   string
		raw    string
		method string
		cfg    domain.ExtractionConfig
		want   string
	}{
		{name: "raw default", raw: "plain", method: "", want: "plain"},
		{name: "raw explicit", raw: "plain", method: "raw", want: "plain"},
		{name: "json string leaf", raw: doc, method: "json_path", cfg: domain.ExtractionConfig{Path: "note"}, want: "ok"},
		{name: "json number by index", raw: doc, method: "json_path", cfg: domain.ExtractionConfig{Path: "data.rates.1.funding"}, want: "-0.0002"},
		{name: "json object", raw: doc, method: "json_path", cfg: domain.ExtractionConfig{Path: "data.rates.0"}, want: `{"symbol": "BTC", "funding": 0.0001}`},
		{name: "json large integers", raw: `{"data":{"volume":12345678901234567890,"id":9007199254740993}}`, method: "json_path", cfg: domain.ExtractionConfig{Path: "data.volume"}, want: "12345678901234567890"},
		{name: "json integer above float precision", raw: `{"data":{"volume":12345678901234567890,"id":9007199254740993}}`, method: "json_path", cfg: domain.ExtractionConfig{Path: "data.id"}, want: "9007199254740993"},
		{name: "json nested array index", raw: `{"candles": [[1, 2], [3, [4, 5]]]}`, method: "json_path", cfg: domain.ExtractionConfig{Path: "candles.1.1.0"}, want: "4"},
		{name: "json whole document", raw: ` {"a": 1} `, method: "json_path", want: `{"a": 1}`},
		{name: "regex whole match", raw: "price=123.5 USD", method: "regex", cfg: domain.ExtractionConfig{Pattern: `\d+\.\d+`}, want: "123.5"},
		{name: "regex named group", raw: "price=123.5 USD", method: "regex", cfg: domain.ExtractionConfig{Pattern: `price=(?P<value>[\d.]+)`, Group: "value"}, want: "123.5"},
		{name: "truncate", raw: "абвгдеж", method: "truncate", cfg: domain.ExtractionConfig{MaxChars: 3}, want: "абв"},
		{name: "truncate short", raw: "ab", method: "truncate", cfg: domain.ExtractionConfig{MaxChars: 3}, want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw, tt.method, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		method string
		cfg    domain.ExtractionConfig
	}{
		{name: "not json", raw: "<html>", method: "json_path", cfg: domain.ExtractionConfig{Path: "a"}},
		{name: "missing key", raw: `{"a": 1}`, method: "json_path", cfg: domain.ExtractionConfig{Path: "b"}},
		{name: "index out of range", raw: `[1, 2]`, method: "json_path", cfg: domain.ExtractionConfig{Path: "5"}},
		{name: "descend into scalar", raw: `{"a": 1}`, method: "json_path", cfg: domain.ExtractionConfig{Path: "a.b"}},
		{name: "no regex match", raw: "abc", method: "regex", cfg: domain.ExtractionConfig{Pattern: `\d+`}},
		{name: "truncate without limit", raw: "abc", method: "truncate"},
		{name: "unknown method", raw: "abc", method: "xpath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.raw, tt.method, tt.cfg)
			assert.ErrorIs(t, err, ErrExtraction)
		})
	}
}
