package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"receipts/1/FE-000001.txt", "receipts/1/FE-000001.txt", true},
		{"fiscal//1/./a.xml", "fiscal/1/a.xml", true},
		{"", "", false},
		{"/etc/passwd", "", false},
		{"../secret", "", false},
		{"a/../../b", "", false},
		{`a\b`, "", false},
	}
	for _, tt := range tests {
		got, err := cleanKey(tt.key)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("cleanKey(%q) = %q, %v; want %q", tt.key, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("cleanKey(%q) should fail with ErrInvalidKey, got %v", tt.key, err)
		}
	}
}

func TestDirStore_Put(t *testing.T) {
	root := t.TempDir()
	s, err := NewDirStore(root)
	if err != nil {
		t.Fatal(err)
	}

	loc, err := s.Put(context.Background(), "receipts/1/FE-000001.txt", []byte("hello"), "text/plain")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc != filepath.Join(root, "receipts", "1", "FE-000001.txt") {
		t.Errorf("location = %q", loc)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "hello" {
		t.Fatalf("stored %q, %v", data, err)
	}

	if _, err := s.Put(context.Background(), "receipts/1/FE-000001.txt", []byte("again"), "text/plain"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = os.ReadFile(loc)
	if string(data) != "again" {
		t.Errorf("overwrite stored %q", data)
	}

	if _, err := s.Put(context.Background(), "../escape.txt", []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
