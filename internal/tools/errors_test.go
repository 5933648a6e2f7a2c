package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "get_weather"}
	want := `tool "get_weather" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	tests := []struct {
		name   string
		err    error
		wantOK bool
	}{
		{"bare", err, true},
		{"wrapped", fmt.Errorf("tool loop: %w", err), true},
		{"other", errors.New("handler failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target *ErrToolUnavailable
			if ok := errors.As(tt.err, &target); ok != tt.wantOK {
				t.Fatalf("errors.As = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && target.ToolName != "get_weather" {
				t.Errorf("ToolName = %q", target.ToolName)
			}
		})
	}
}
