package core

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("service_name,category")...),
			expected: "service_name,category",
		},
		{
			name:     "file without BOM",
			input:    []byte("service_name,category"),
			expected: "service_name,category",
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
			name:     "shorter than a BOM",
			input:    []byte("ab"),
			expected: "ab",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
		{
			name:     "BOM only stripped at start",
			input:    append([]byte("a"), 0xEF, 0xBB, 0xBF),
			expected: string(append([]byte("a"), 0xEF, 0xBB, 0xBF)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewBOMSkippingReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestBOMSkippingReader_OneByteReads(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("x,y\n1,2\n")...)
	r := iotest.OneByteReader(NewBOMSkippingReader(iotest.OneByteReader(bytes.NewReader(input))))

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "x,y\n1,2\n" {
		t.Errorf("got %q", got)
	}
}

func TestBOMSkippingReader_PropagatesError(t *testing.T) {
	r := NewBOMSkippingReader(iotest.ErrReader(io.ErrClosedPipe))
	if _, err := r.Read(make([]byte, 8)); err != io.ErrClosedPipe {
		t.Errorf("Read() error = %v, want %v", err, io.ErrClosedPipe)
	}
}
