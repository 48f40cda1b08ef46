package login

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"ghvault/internal/pkg/httpclient"
)

// Endpoints commonly exposing the signed-in user's account summary.
var balanceEndpoints = []string{
	"/api/user/info",
	"/api/user",
	"/api/v1/user/info",
}

// Keys that carry a balance-like value in user info payloads.
var balanceKeys = []string{"balance", "credit", "quota", "money"}

var balancePattern = regexp.MustCompile(`(?i)(?:balance|credit|余额|剩余)\D{0,30}?([$¥€]?\s?\d+(?:\.\d+)?)`)

// fetchBalance tries JSON user-info endpoints on an authenticated
// session, falling back to scraping the landing page. It returns "" when
// nothing balance-like is found; failures here never fail a login.
func fetchBalance(ctx context.Context, client *httpclient.Client, baseURL, landingHTML string) string {
	base := strings.TrimRight(baseURL, "/")
	for _, ep := range balanceEndpoints {
		resp, err := client.Request().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			Get(base + ep)
		if err != nil || resp.StatusCode() != 200 {
			continue
		}
		if v := balanceFromJSON(resp.Body()); v != "" {
			return v
		}
	}
	return balanceFromHTML(landingHTML)
}

// balanceFromJSON digs through a JSON document for the first known
// balance key, descending into "data"/"user" wrappers.
func balanceFromJSON(body []byte) string {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return balanceFromMap(doc, 0)
}

func balanceFromMap(m map[string]interface{}, depth int) string {
	if depth > 3 {
		return ""
	}
	for _, key := range balanceKeys {
		if v, ok := m[key]; ok {
			switch n := v.(type) {
			case float64:
				return trimFloat(n)
			case string:
				if strings.TrimSpace(n) != "" {
					return strings.TrimSpace(n)
				}
			}
		}
	}
	for _, wrapper := range []string{"data", "user", "info", "result"} {
		if inner, ok := m[wrapper].(map[string]interface{}); ok {
			if v := balanceFromMap(inner, depth+1); v != "" {
				return v
			}
		}
	}
	return ""
}

func balanceFromHTML(html string) string {
	m := balancePattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
