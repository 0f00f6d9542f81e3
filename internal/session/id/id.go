// Package id provides unique identifier generation for sessions.
package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique session ID.
// Format: sess-<timestamp>-<random>
// Example: sess-1701432000-a1b2c3d4e5f6
func Generate() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("sess-%d-%s", time.Now().Unix(), random[:12])
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != "sess" || len(parts[2]) != 12 {
		return false
	}
	for _, r := range parts[1] + parts[2] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return parts[1] != ""
}
