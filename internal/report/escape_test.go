package report

import "testing"

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "nginx:1.25", want: "`nginx:1.25`"},
		{name: "backtick inside", in: "a`b", want: "``a`b``"},
		{name: "backtick run", in: "x```y", want: "````x```y````"},
		{name: "leading backtick", in: "`x", want: "`` `x ``"},
		{name: "newline", in: "a\nb", want: "`a b`"},
		{name: "empty", in: "", want: "`  `"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.in); got != tt.want {
				t.Errorf("Code(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscapeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "web", want: "web"},
		{in: "a|b", want: `a\|b`},
		{in: "# title", want: `\# title`},
		{in: "<script>", want: "&lt;script&gt;"},
		{in: "[x](http://evil)", want: `\[x\](http://evil)`},
		{in: "line1\r\nline2", want: "line1 line2"},
		{in: "snake_case*", want: `snake\_case\*`},
	}

	for _, tt := range tests {
		if got := EscapeText(tt.in); got != tt.want {
			t.Errorf("EscapeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{in: "short", limit: 10, want: "short"},
		{in: "exactly10!", limit: 10, want: "exactly10!"},
		{in: "this is too long", limit: 8, want: "this is…"},
		{in: "ünïcödé", limit: 4, want: "ünï…"},
		{in: "anything", limit: 0, want: "anything"},
	}

	for _, tt := range tests {
		if got := Truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
