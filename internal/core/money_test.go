package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "dot separator", input: "12.34", want: "12.34"},
		{name: "comma separator", input: "12,34", want: "12.34"},
		{name: "integer", input: "200", want: "200"},
		{name: "zero", input: "0", want: "0"},
		{name: "rounds third decimal up", input: "12.345", want: "12.35"},
		{name: "rounds third decimal down", input: "12.344", want: "12.34"},
		{name: "whitespace trimmed", input: "  7.50  ", want: "7.5"},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-5", wantErr: true},
		{name: "explicit plus", input: "+5", wantErr: true},
		{name: "letters", input: "abc", wantErr: true},
		{name: "mixed", input: "12.3a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %s", tt.input, got)
				}
				var validation *ValidationError
				if !errors.As(err, &validation) {
					t.Errorf("ParseAmount(%q) error = %v, want ValidationError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"-1.005", "-1.01"},
		{"100", "100"},
	}
	for _, tt := range tests {
		got := Round2(decimal.RequireFromString(tt.input))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Round2(%s) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.RequireFromString("2000.00"), decimal.RequireFromString("10"))
	if !got.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("Percent(2000, 10) = %s, want 200", got)
	}
}
