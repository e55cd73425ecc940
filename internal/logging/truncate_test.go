package logging

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "exact length unchanged",
			input:    strings.Repeat("a", MaxLogFieldLength),
			expected: strings.Repeat("a", MaxLogFieldLength),
		},
		{
			name:     "long string truncated",
			input:    strings.Repeat("a", MaxLogFieldLength+100),
			expected: strings.Repeat("a", MaxLogFieldLength) + "...",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input); got != tt.expected {
				t.Errorf("Truncate() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTruncateN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "short string unchanged", input: "hello", n: 10, expected: "hello"},
		{name: "long string truncated", input: "hello world", n: 5, expected: "hello..."},
		{name: "exact length unchanged", input: "hello", n: 5, expected: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateN(tt.input, tt.n); got != tt.expected {
				t.Errorf("TruncateN() = %q, want %q", got, tt.expected)
			}
		})
	}
}
