package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{input: "1.25", decimals: 6, want: 1_250_000},
		{input: "0.000001", decimals: 6, want: 1},
		{input: "42", decimals: 0, want: 42},
		{input: "0", decimals: 18, want: 0},
		{input: "1.2345", decimals: 2, wantErr: true},  // excess precision
		{input: "-1", decimals: 6, wantErr: true},      // negative
		{input: "abc", decimals: 6, wantErr: true},     // not a number
		{input: "99999999999999999999", decimals: 6, wantErr: true}, // overflow
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.input, tt.decimals)
		if tt.wantErr {
			check.Error(t, err)
			continue
		}
		check.Nil(t, err)
		check.Equal(t, tt.want, got)
	}
}

func TestFormatPrice(t *testing.T) {
	check.Equal(t, "1.25", FormatPrice(1_250_000, 6))
	check.Equal(t, "42", FormatPrice(42, 0))
	check.Equal(t, "0", FormatPrice(0, 6))
}

func TestParseFormatRoundTrip(t *testing.T) {
	v, err := ParsePrice("123.456789", 6)
	check.Nil(t, err)
	check.Equal(t, "123.456789", FormatPrice(v, 6))
}
