package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/health", want: true},
		{path: "/metrics", want: true},
		{path: "/webhooks/web", want: true},
		{path: "/webhooks/instagram", want: true},
		{path: "/v1/messages/inbound", want: true},
		{path: "/admin/knowledge_assets/upload", want: false},
		{path: "/admin/policies/11111111-1111-1111-1111-111111111111/publish", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
