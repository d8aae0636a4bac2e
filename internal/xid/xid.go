package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered id such as "audit-0190f3c1...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(id.String(), "-", ""))
}

// Prefix returns the part of id before the first dash.
func Prefix(id string) string {
	prefix, _, found := strings.Cut(id, "-")
	if !found {
		return ""
	}
	return prefix
}
