package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/credentials/llm":             "/v1/credentials/llm",
		"/v1/credentials/llm/abc":         "/v1/credentials/llm/:id",
		"/v1/credentials/llm/abc/test":    "/v1/credentials/llm/:id/test",
		"/v1/admin/users/u1/approve":      "/v1/admin/users/:id/approve",
		"/v1/admin/users/pending":         "/v1/admin/users/:id",
		"/v1/projects/p1/credentials?x=1": "/v1/projects/:id/credentials",
		"/v1/mcp-servers/s1/oauth/start":  "/v1/mcp-servers/:id/oauth/start",
		"/v1/auth/login":                  "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
