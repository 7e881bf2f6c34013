package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"api":       "/api",
		"/api":      "/api",
		"/api/":     "/api",
		" /api/v1 ": "/api/v1",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	requireUnix(t) // exercises Unix-style absolute paths
	cases := map[string]bool{
		"":                 false,
		"rel/data.db":      false,
		"./data.db":        false,
		"/data/app.db":     true,
		"/data/../evil.db": false,
		"/":                true,
	}
	for in, want := range cases {
		if got := isSafeAbsPath(in); got != want {
			t.Fatalf("isSafeAbsPath(%q) = %v, want %v", in, got, want)
		}
	}
}
