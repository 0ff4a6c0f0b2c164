package idgen

import (
	"testing"
)

// TestNew проверяет формат генерируемого идентификатора.
func TestNew(t *testing.T) {
	id := New()

	if len(id) != Length {
		t.Errorf("длина: ожидалось %d, получено %d (%s)", Length, len(id), id)
	}
	if !Valid(id) {
		t.Errorf("сгенерированный идентификатор должен быть валидным: %s", id)
	}
}

// TestNew_Unique проверяет уникальность идентификаторов.
func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("повторный идентификатор: %s", id)
		}
		seen[id] = true
	}
}

// TestValid проверяет валидацию идентификаторов.
func TestValid(t *testing.T) {
	tests := []struct {
		id       string
		expected bool
	}{
		{"0123456789abcdef0123456789abcdef", true},
		{"", false},
		{"short", false},
		{"0123456789ABCDEF0123456789ABCDEF", false},              // верхний регистр
		{"0123456789abcdef0123456789abcdeg", false},              // не hex
		{"0123456789abcdef0123456789abcde", false},               // 31 символ
		{"0123456789abcdef0123456789abcdef0", false},             // 33 символа
		{"../../../etc/passwd/badbadbadbad", false},              // traversal
		{"0123456789abcdef-123456789abcdef", false},              // дефис
	}

	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.expected {
			t.Errorf("Valid(%q): ожидалось %v, получено %v", tt.id, tt.expected, got)
		}
	}
}
