package llm

import (
	"strings"

	"github.com/google/uuid"
)

// NewCallID mints an opaque, unique tool-call id (a UUID without dashes).
func NewCallID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newCallID() string { return NewCallID() }
