package server

import (
	"strings"
	"testing"
)

// FuzzSanitizeBase tests the base-path normalization with arbitrary input.
func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("api")
	f.Add("/api/")
	f.Add(" api ")
	f.Add("///")
	f.Add("/a/b/c/")
	f.Add("\t/x\t")
	f.Add("/path with spaces/")

	f.Fuzz(func(t *testing.T, bp string) {
		if len(bp) > 500 {
			t.Skip("base path too long")
		}

		got := sanitizeBase(bp)

		if got != "" {
			if !strings.HasPrefix(got, "/") {
				t.Errorf("sanitizeBase(%q)=%q: missing leading slash", bp, got)
			}
			if strings.HasSuffix(got, "/") {
				t.Errorf("sanitizeBase(%q)=%q: trailing slash survived", bp, got)
			}
		}

		// Sanitizing twice must be a fixed point.
		if again := sanitizeBase(got); again != got {
			t.Errorf("sanitizeBase not idempotent for %q: %q then %q", bp, got, again)
		}
	})
}
