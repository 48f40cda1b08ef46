package login

import "testing"

func TestBalanceFromJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"flat float", `{"balance": 12.5}`, "12.5"},
		{"flat integer", `{"credit": 100}`, "100"},
		{"string value", `{"balance": "$4.20"}`, "$4.20"},
		{"nested data", `{"code":0,"data":{"username":"x","balance":3}}`, "3"},
		{"double nested", `{"data":{"user":{"quota":7.75}}}`, "7.75"},
		{"missing", `{"data":{"username":"x"}}`, ""},
		{"not json", `<html>`, ""},
		{"empty string ignored", `{"balance":"","data":{"credit":9}}`, "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := balanceFromJSON([]byte(tt.body)); got != tt.want {
				t.Fatalf("balanceFromJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBalanceFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"labelled span", `<div>Balance: <span>$12.50</span></div>`, "$12.50"},
		{"credit label", `<p>Your credit is 42</p>`, "42"},
		{"chinese label", `<td>余额</td><td>¥8.00</td>`, "¥8.00"},
		{"no balance", `<html><body>Welcome back</body></html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := balanceFromHTML(tt.html); got != tt.want {
				t.Fatalf("balanceFromHTML = %q, want %q", got, tt.want)
			}
		})
	}
}
