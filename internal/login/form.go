package login

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// loginForm is a parsed HTML form ready to be submitted with credentials
// filled in. Fields holds every pre-populated input, including hidden
// CSRF tokens such as authenticity_token.
type loginForm struct {
	Action    string
	Fields    map[string]string
	UserField string
	PassField string
	OTPField  string
}

// parseLoginForm finds the first form containing a password input and
// extracts its action and inputs. pageURL resolves relative actions.
func parseLoginForm(doc *goquery.Document, pageURL string) *loginForm {
	return parseForm(doc, pageURL, "input[type='password']")
}

// parseOTPForm finds a one-time-passcode form: a form with a totp/otp
// input and no password input.
func parseOTPForm(doc *goquery.Document, pageURL string) *loginForm {
	form := parseForm(doc, pageURL, "input[name*='otp'], input[autocomplete='one-time-code']")
	if form != nil && form.OTPField == "" {
		// The passcode input had no name we recognized up front.
		form.OTPField = "otp"
	}
	return form
}

func parseForm(doc *goquery.Document, pageURL, anchor string) *loginForm {
	var result *loginForm
	doc.Find("form").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Find(anchor).Length() == 0 {
			return true
		}

		form := &loginForm{Fields: make(map[string]string)}
		action, _ := sel.Attr("action")
		form.Action = resolveURL(pageURL, action)

		sel.Find("input").Each(func(_ int, input *goquery.Selection) {
			name, ok := input.Attr("name")
			if !ok || name == "" {
				return
			}
			value, _ := input.Attr("value")
			typ, _ := input.Attr("type")

			switch {
			case typ == "password":
				form.PassField = name
			case isUserField(name, typ):
				if form.UserField == "" {
					form.UserField = name
				}
			case isOTPField(name):
				form.OTPField = name
			default:
				form.Fields[name] = value
			}
		})

		result = form
		return false
	})
	return result
}

func isUserField(name, typ string) bool {
	lower := strings.ToLower(name)
	for _, candidate := range []string{"login", "username", "user", "email", "account"} {
		if lower == candidate {
			return true
		}
	}
	return typ == "email"
}

func isOTPField(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "otp") || strings.Contains(lower, "totp") || lower == "code"
}

// findOAuthLink looks for a GitHub OAuth entry point on the page.
func findOAuthLink(doc *goquery.Document, pageURL string) string {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		lower := strings.ToLower(href)
		if !strings.Contains(lower, "github") {
			return true
		}
		for _, fragment := range []string{"oauth", "/auth/", "/signin/", "/login/"} {
			if strings.Contains(lower, fragment) {
				found = resolveURL(pageURL, href)
				return false
			}
		}
		return true
	})
	return found
}

// Conventional OAuth endpoints tried when no link is discoverable.
var oauthFallbackPaths = []string{"/auth/github", "/signin/github"}

func resolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
