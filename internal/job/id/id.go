// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v4 without dashes, first 16 hex chars>
// Example: job-3f2a9c1e0b7d4e58
func Generate() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "job-" + u[:16]
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, "job-")
	if !ok || len(rest) != 16 {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
