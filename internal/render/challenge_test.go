package render

import (
	"errors"
	"testing"
)

func mustDocument(t *testing.T, title, body string) (*Document, string) {
	t.Helper()
	html := "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
	doc, err := NewDocument("https://shop.example/tv/", html)
	if err != nil {
		t.Fatal(err)
	}
	return doc, html
}

func TestDetectChallengePage(t *testing.T) {
	tests := []struct {
		name             string
		title            string
		html             string
		want             string
		wantInterstitial bool
	}{
		{"cloudflare title", "Just a moment...", "<html></html>", "cloudflare", true},
		{"cloudflare script", "", `<script>window._cf_chl_opt={}</script>`, "cloudflare", true},
		{"access denied", "Access Denied", "", "anti-bot", true},
		{"turnstile", "", `<div class="cf-turnstile"></div>`, "cloudflare-turnstile", false},
		{"qrator", "", `<script src="/__qrator/qauth.js"></script><div>challenge</div>`, "qrator", false},
		{"hcaptcha", "", `<div class="h-captcha"></div>`, "hcaptcha", false},
		{"recaptcha", "", `<div class="g-recaptcha"></div>`, "recaptcha", false},
		{"normal listing", "Телевизоры", listingHTML, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, interstitial := detectChallengePage(tt.title, tt.html)
			if got != tt.want || interstitial != tt.wantInterstitial {
				t.Errorf("detectChallengePage() = %q, %v; want %q, %v", got, interstitial, tt.want, tt.wantInterstitial)
			}
		})
	}
}

func TestCheckChallenge(t *testing.T) {
	const items = `<ul><li class="item">TV</li></ul>`
	const widget = `<form id="feedback"><div class="g-recaptcha" data-sitekey="x"></div></form>`

	tests := []struct {
		name         string
		title        string
		body         string
		itemSelector string
		wantErr      bool
	}{
		{"interstitial", "Just a moment...", "", "li.item", true},
		{"interstitial without selector", "Access Denied", "", "", true},
		{"interstitial wins over items", "Just a moment...", items, "li.item", true},
		{"widget beside items", "Телевизоры", items + widget, "li.item", false},
		{"widget and no items", "Телевизоры", widget, "li.item", true},
		{"widget without selector", "Телевизоры", widget, "", false},
		{"plain listing", "Телевизоры", items, "li.item", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, html := mustDocument(t, tt.title, tt.body)
			err := checkChallenge(doc, html, tt.itemSelector)
			if tt.wantErr && !errors.Is(err, ErrAntiBot) {
				t.Errorf("error = %v, want ErrAntiBot", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}
