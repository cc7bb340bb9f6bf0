package render

import (
	"fmt"
	"strings"
)

// detectChallengePage names the protection found on a page. interstitial is
// true when the page itself is the challenge (Cloudflare wait page, access
// denied); false means only an embeddable widget was seen, which ordinary
// pages also carry in login or feedback forms.
func detectChallengePage(title, html string) (kind string, interstitial bool) {
	titleLower := strings.ToLower(title)
	htmlLower := strings.ToLower(html)

	// Cloudflare challenges
	if strings.Contains(titleLower, "just a moment") ||
		strings.Contains(titleLower, "attention required") ||
		strings.Contains(htmlLower, "cf-challenge") ||
		strings.Contains(htmlLower, "cf_chl_opt") {
		return "cloudflare", true
	}

	if strings.Contains(titleLower, "access denied") ||
		strings.Contains(titleLower, "bot detection") {
		return "anti-bot", true
	}

	if strings.Contains(htmlLower, "challenges.cloudflare.com/turnstile") ||
		strings.Contains(htmlLower, "cf-turnstile") {
		return "cloudflare-turnstile", false
	}

	// Qrator (used by several CIS retailers)
	if strings.Contains(htmlLower, "qrator") && strings.Contains(htmlLower, "challenge") {
		return "qrator", false
	}

	if strings.Contains(htmlLower, "hcaptcha.com") ||
		strings.Contains(htmlLower, "h-captcha") {
		return "hcaptcha", false
	}

	if strings.Contains(htmlLower, "google.com/recaptcha") ||
		strings.Contains(htmlLower, "g-recaptcha") {
		return "recaptcha", false
	}

	if strings.Contains(htmlLower, "robot or human") {
		return "anti-bot", false
	}

	return "", false
}

// checkChallenge returns an ErrAntiBot-wrapped error when doc is a challenge
// page. A widget alone only counts when itemSelector is set and matches
// nothing on the page.
func checkChallenge(doc *Document, html, itemSelector string) error {
	kind, interstitial := detectChallengePage(doc.Title, html)
	if kind == "" {
		return nil
	}
	if interstitial {
		return fmt.Errorf("%w: %s", ErrAntiBot, kind)
	}
	if itemSelector == "" || len(doc.Items(itemSelector)) > 0 {
		return nil
	}
	return fmt.Errorf("%w: %s (no items matched %q)", ErrAntiBot, kind, itemSelector)
}
