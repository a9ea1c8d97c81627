package repository

import "testing"

func TestSlotForUsesOrigin(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":      "http_localhost_8080",
		"http://localhost:8080/":     "http_localhost_8080",
		"HTTPS://Gateway.Example/ui": "https_gateway.example",
		"":                           "default",
		"not a url":                  "not_a_url",
	}
	for in, want := range cases {
		if got := SlotFor(in); got != want {
			t.Fatalf("SlotFor(%q) = %q, want %q", in, got, want)
		}
	}
}
