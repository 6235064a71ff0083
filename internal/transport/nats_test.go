package transport

import "testing"

func TestSessionFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"opsdesk.chat.in.tg-123", "tg-123"},
		{"opsdesk.chat.in.user.42", "user.42"},
		{"opsdesk.chat.out.tg-123", ""},
		{"other.chat.in.tg-123", ""},
	}
	for _, tc := range cases {
		if got := sessionFromSubject("opsdesk", tc.subject); got != tc.want {
			t.Errorf("sessionFromSubject(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}
