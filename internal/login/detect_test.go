package login

import (
	"net/http"
	"testing"
)

func TestDetectorChallenges(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name string
		page PageInfo
		want bool
	}{
		{
			name: "plain login page",
			page: PageInfo{
				StatusCode: 200,
				FinalURL:   "https://example.com/login",
				Body:       `<html><body><form action="/login"><input name="username"></form></body></html>`,
			},
			want: false,
		},
		{
			name: "captcha body",
			page: PageInfo{
				StatusCode: 200,
				FinalURL:   "https://example.com/login",
				Body:       `<html><div class="g-recaptcha"></div></html>`,
			},
			want: true,
		},
		{
			name: "challenge redirect",
			page: PageInfo{
				StatusCode: 200,
				FinalURL:   "https://example.com/cdn-cgi/challenge-platform/h/b",
				Body:       "<html></html>",
			},
			want: true,
		},
		{
			name: "tiny script interstitial",
			page: PageInfo{
				StatusCode: 200,
				FinalURL:   "https://example.com/login",
				Body:       `<html><script>window.location="/x"</script>Please enable JavaScript</html>`,
			},
			want: true,
		},
		{
			name: "cloudflare mitigated header",
			page: PageInfo{
				StatusCode: 403,
				FinalURL:   "https://example.com/login",
				Header:     http.Header{"Cf-Mitigated": []string{"challenge"}},
				Body:       longBody(),
			},
			want: true,
		},
		{
			name: "forbidden alone stays below threshold",
			page: PageInfo{
				StatusCode: 403,
				FinalURL:   "https://example.com/login",
				Body:       longBody(),
			},
			want: false,
		},
		{
			name: "rate limited",
			page: PageInfo{
				StatusCode: 429,
				FinalURL:   "https://example.com/login",
				Body:       longBody(),
			},
			want: true,
		},
		{
			name: "large legitimate page mentioning javascript",
			page: PageInfo{
				StatusCode: 200,
				FinalURL:   "https://example.com/login",
				Body:       longBody() + "<noscript>This site works best with JavaScript</noscript>",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, signals := d.Detect(tt.page)
			if got != tt.want {
				t.Fatalf("Detect = %v (signals %v), want %v", got, signals, tt.want)
			}
		})
	}
}

func TestDetectorCustomCheck(t *testing.T) {
	d := NewDetector().WithCheck(func(page PageInfo) *Signal {
		if page.Header.Get("X-Robot-Check") != "" {
			return &Signal{Name: "robot_check", Weight: 3}
		}
		return nil
	})

	blocked, signals := d.Detect(PageInfo{
		StatusCode: 200,
		Header:     http.Header{"X-Robot-Check": []string{"1"}},
		FinalURL:   "https://example.com/",
		Body:       longBody(),
	})
	if !blocked {
		t.Fatalf("custom check did not trigger, signals %v", signals)
	}
}

func longBody() string {
	b := make([]byte, 2048)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
