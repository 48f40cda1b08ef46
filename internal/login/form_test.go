package login

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestParseLoginForm(t *testing.T) {
	doc := mustDoc(t, `
		<form action="/search"><input type="text" name="q"></form>
		<form action="/session" method="post">
			<input type="hidden" name="authenticity_token" value="abc123">
			<input type="text" name="login">
			<input type="password" name="password">
		</form>`)

	form := parseLoginForm(doc, "https://github.com/login")
	if form == nil {
		t.Fatal("no form found")
	}
	if form.Action != "https://github.com/session" {
		t.Errorf("Action = %q", form.Action)
	}
	if form.UserField != "login" || form.PassField != "password" {
		t.Errorf("fields = (%q, %q)", form.UserField, form.PassField)
	}
	if form.Fields["authenticity_token"] != "abc123" {
		t.Errorf("hidden token not captured: %v", form.Fields)
	}
}

func TestParseLoginFormNone(t *testing.T) {
	doc := mustDoc(t, `<form action="/search"><input name="q"></form>`)
	if form := parseLoginForm(doc, "https://example.com"); form != nil {
		t.Fatalf("found a login form in a search form: %+v", form)
	}
}

func TestParseOTPForm(t *testing.T) {
	doc := mustDoc(t, `
		<form action="/sessions/two-factor" method="post">
			<input type="hidden" name="authenticity_token" value="tok">
			<input type="text" name="app_otp" autocomplete="one-time-code">
		</form>`)

	form := parseOTPForm(doc, "https://github.com/sessions/two-factor")
	if form == nil {
		t.Fatal("no otp form found")
	}
	if form.OTPField != "app_otp" {
		t.Errorf("OTPField = %q, want app_otp", form.OTPField)
	}
	if form.Fields["authenticity_token"] != "tok" {
		t.Errorf("hidden token not captured: %v", form.Fields)
	}
}

func TestFindOAuthLink(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "relative link",
			html: `<a href="/auth/github">Sign in with GitHub</a>`,
			want: "https://example.com/auth/github",
		},
		{
			name: "absolute oauth link",
			html: `<a href="https://github.com/login/oauth/authorize?client_id=x">GitHub</a>`,
			want: "https://github.com/login/oauth/authorize?client_id=x",
		},
		{
			name: "unrelated github link ignored",
			html: `<a href="https://github.com/acme/docs">docs</a>`,
			want: "",
		},
		{
			name: "no links",
			html: `<p>nothing here</p>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDoc(t, tt.html)
			if got := findOAuthLink(doc, "https://example.com/"); got != tt.want {
				t.Fatalf("findOAuthLink = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://example.com/login", "/session", "https://example.com/session"},
		{"https://example.com/a/b", "c", "https://example.com/a/c"},
		{"https://example.com/", "https://other.com/x", "https://other.com/x"},
		{"https://example.com/login", "", "https://example.com/login"},
	}
	for _, tt := range tests {
		if got := resolveURL(tt.base, tt.ref); got != tt.want {
			t.Errorf("resolveURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}
