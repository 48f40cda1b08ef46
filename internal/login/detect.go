package login

import (
	"net/http"
	"strings"
)

// Signal is one piece of evidence that a response is an anti-automation
// challenge rather than a real page.
type Signal struct {
	Name   string
	Weight int
}

// PageInfo is the view of a response the detector inspects.
type PageInfo struct {
	StatusCode int
	Header     http.Header
	FinalURL   string
	Body       string
}

// Check inspects a response and returns a signal, or nil.
type Check func(PageInfo) *Signal

// Detector scores a response against a set of checks. A response whose
// accumulated weight reaches the threshold is treated as a challenge.
type Detector struct {
	checks    []Check
	threshold int
}

// NewDetector builds the default detector.
func NewDetector() *Detector {
	return &Detector{
		checks: []Check{
			checkCaptchaMarkers,
			checkChallengeRedirect,
			checkScriptOnlyBody,
			checkChallengeHeaders,
			checkBlockedStatus,
		},
		threshold: 2,
	}
}

// WithCheck appends a custom check.
func (d *Detector) WithCheck(c Check) *Detector {
	d.checks = append(d.checks, c)
	return d
}

// Detect reports whether the page looks like a challenge, with the
// signals that fired.
func (d *Detector) Detect(page PageInfo) (bool, []Signal) {
	var fired []Signal
	total := 0
	for _, check := range d.checks {
		if s := check(page); s != nil {
			fired = append(fired, *s)
			total += s.Weight
		}
	}
	return total >= d.threshold, fired
}

func checkCaptchaMarkers(page PageInfo) *Signal {
	body := strings.ToLower(page.Body)
	for _, marker := range []string{"captcha", "hcaptcha", "recaptcha", "cf-turnstile", "verify you are human", "are you a robot"} {
		if strings.Contains(body, marker) {
			return &Signal{Name: "captcha_marker", Weight: 3}
		}
	}
	return nil
}

func checkChallengeRedirect(page PageInfo) *Signal {
	lower := strings.ToLower(page.FinalURL)
	for _, fragment := range []string{"/challenge", "/cdn-cgi/challenge-platform", "/captcha", "/blocked"} {
		if strings.Contains(lower, fragment) {
			return &Signal{Name: "challenge_redirect", Weight: 3}
		}
	}
	return nil
}

// Tiny bodies that are mostly script are interstitial pages waiting for
// a JS proof-of-work to run.
func checkScriptOnlyBody(page PageInfo) *Signal {
	body := strings.ToLower(page.Body)
	if len(body) > 0 && len(body) < 1000 && strings.Contains(body, "javascript") {
		return &Signal{Name: "script_only_body", Weight: 2}
	}
	return nil
}

func checkChallengeHeaders(page PageInfo) *Signal {
	if page.Header == nil {
		return nil
	}
	if page.Header.Get("cf-mitigated") != "" || page.Header.Get("cf-chl-bypass") != "" {
		return &Signal{Name: "challenge_header", Weight: 3}
	}
	if page.Header.Get("cf-ray") != "" && page.StatusCode == http.StatusForbidden {
		return &Signal{Name: "cf_forbidden", Weight: 2}
	}
	return nil
}

func checkBlockedStatus(page PageInfo) *Signal {
	switch page.StatusCode {
	case http.StatusTooManyRequests:
		return &Signal{Name: "rate_limited", Weight: 2}
	case http.StatusForbidden, http.StatusServiceUnavailable:
		return &Signal{Name: "blocked_status", Weight: 1}
	}
	return nil
}
