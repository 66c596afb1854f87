package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for each entity kind.
const (
	PrefixMessage = "msg"
	PrefixThread  = "thrd"
	PrefixEvent   = "evt"
)

// NewID returns a time-sortable identifier with the provided prefix,
// e.g. "msg-0190f6c2-7d3a-7b1e-9c1a-6f0e2d4b8a11".
//
// The suffix is a UUIDv7, whose canonical text form sorts in creation order.
func NewID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fmt.Sprintf("%s-%s", strings.TrimSuffix(prefix, "-"), id.String()), nil
}

// IDHasPrefix reports whether id was generated with prefix.
func IDHasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, strings.TrimSuffix(prefix, "-")+"-")
}
