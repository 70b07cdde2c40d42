package device

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidDeviceID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"ab", true},
		{"1a2b3c", true},
		{"ABCDEF", true},
		{"0f0", true},
		{"xyz", false},
		{"zz", false},
		{"1234567", false},
		{"a", false},
		{"", false},
		{"ab cd", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.id), func(t *testing.T) {
			if got := ValidDeviceID(tt.id); got != tt.want {
				t.Errorf("ValidDeviceID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// sequence returns the given candidates in order.
func sequence(ids ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		id := ids[i%len(ids)]
		i++
		return id, nil
	}
}

func TestGenerate_ReturnsTenthCandidate(t *testing.T) {
	candidates := []string{"0001", "0002", "0003", "0004", "0005", "0006", "0007", "0008", "0009", "000a"}
	g := NewIDGenerator(10)
	g.candidate = sequence(candidates...)

	taken := map[string]bool{}
	for _, id := range candidates[:9] {
		taken[id] = true
	}
	checks := 0
	exists := func(_ context.Context, id string) (bool, error) {
		checks++
		return taken[id], nil
	}

	id, err := g.Generate(context.Background(), exists)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if id != "000a" {
		t.Errorf("Generate() = %q, want %q", id, "000a")
	}
	if checks != 10 {
		t.Errorf("existence checks = %d, want 10", checks)
	}
}

func TestGenerate_Exhausted(t *testing.T) {
	g := NewIDGenerator(10)
	g.candidate = sequence("beef")

	checks := 0
	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) {
		checks++
		return true, nil
	})
	if !errors.Is(err, ErrIDSpaceExhausted) {
		t.Fatalf("Generate() error = %v, want ErrIDSpaceExhausted", err)
	}
	if checks != 10 {
		t.Errorf("existence checks = %d, want 10", checks)
	}
	if IsBusiness(err) || IsValidation(err) {
		t.Error("exhaustion must not be a business or validation error")
	}
}

func TestGenerate_LookupError(t *testing.T) {
	g := NewIDGenerator(3)
	boom := errors.New("db down")
	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Generate() error = %v, want %v", err, boom)
	}
}

func TestNewIDGenerator_DefaultAttempts(t *testing.T) {
	if g := NewIDGenerator(0); g.attempts != DefaultIDAttempts {
		t.Errorf("attempts = %d, want %d", g.attempts, DefaultIDAttempts)
	}
}

func TestRandomCandidate(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := randomCandidate()
		if err != nil {
			t.Fatalf("randomCandidate() error = %v", err)
		}
		if len(id) != 4 || !ValidDeviceID(id) {
			t.Fatalf("randomCandidate() = %q, want 4 hex digits", id)
		}
		for _, r := range id {
			if r >= 'A' && r <= 'F' {
				t.Fatalf("randomCandidate() = %q, want lowercase", id)
			}
		}
	}
}
