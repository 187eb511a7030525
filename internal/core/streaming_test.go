package core

import (
	"bytes"
	"io"
	"testing"
)

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[{"BL01":"31"}]`)...),
			expected: `[{"BL01":"31"}]`,
		},
		{
			name:     "file without BOM",
			input:    []byte(`[]`),
			expected: `[]`,
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(SkipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 200)
	cr := NewCountingReader(bytes.NewReader(data), int64(len(data)))

	buf := make([]byte, 50)
	if _, err := cr.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := cr.Percent(); got != 25 {
		t.Errorf("Percent() = %d, want 25", got)
	}

	if _, err := io.ReadAll(cr); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got := cr.BytesRead(); got != 200 {
		t.Errorf("BytesRead() = %d, want 200", got)
	}
	if got := cr.Percent(); got != 100 {
		t.Errorf("Percent() = %d, want 100", got)
	}
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	cr := NewCountingReader(bytes.NewReader([]byte("abc")), 0)
	_, _ = io.ReadAll(cr)
	if got := cr.Percent(); got != 0 {
		t.Errorf("Percent() = %d, want 0 when total is unknown", got)
	}
}

func TestWrapForDecoding_CountsBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("[]")...)
	r, counter := WrapForDecoding(bytes.NewReader(input), int64(len(input)))

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(out) != "[]" {
		t.Errorf("decoded = %q, want %q", out, "[]")
	}
	if counter.Percent() != 100 {
		t.Errorf("Percent() = %d, want 100", counter.Percent())
	}
}
