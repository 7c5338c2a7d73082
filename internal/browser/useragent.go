// internal/browser/useragent.go
package browser

import (
	"fmt"
	"math/rand"
	"strings"
)

// maxUserAgentAttempts caps the rejection sampling of desktop user agents.
const maxUserAgentAttempts = 10000

var (
	uaPlatforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Windows NT 10.0; WOW64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"Macintosh; Intel Mac OS X 14_5",
		"X11; Linux x86_64",
		"X11; CrOS x86_64 15633.69.0",
		"Linux; Android 14; Pixel 8",
		"Linux; Android 13; SM-X710",
		"iPad; CPU OS 17_5 like Mac OS X",
		"iPhone; CPU iPhone OS 17_5 like Mac OS X",
	}
	uaChromeMajors = []int{120, 121, 122, 123, 124, 125, 126, 127, 128, 129, 130, 131}
)

// candidateUserAgent draws a Chrome user agent over any platform.
func candidateUserAgent(rng *rand.Rand) string {
	platform := uaPlatforms[rng.Intn(len(uaPlatforms))]
	version := fmt.Sprintf("%d.0.%d.%d", uaChromeMajors[rng.Intn(len(uaChromeMajors))], 6000+rng.Intn(700), rng.Intn(200))
	suffix := "Safari/537.36"
	if isMobileUserAgent(platform) {
		suffix = "Mobile Safari/537.36"
	}
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s %s", platform, version, suffix)
}

// isMobileUserAgent reports whether ua belongs to a phone or tablet.
func isMobileUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, marker := range []string{"mobile", "android", "ipad", "iphone", "tablet"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isDesktopChrome accepts Chrome user agents of desktop platforms.
func isDesktopChrome(ua string) bool {
	return strings.Contains(ua, "Chrome/") && !strings.Contains(ua, "Edg/") && !isMobileUserAgent(ua)
}

// RandomDesktopUserAgent rejection-samples a desktop Chrome user agent.
// After maxUserAgentAttempts rejections the last candidate is accepted.
func RandomDesktopUserAgent(rng *rand.Rand) string {
	return sampleUserAgent(rng, candidateUserAgent, isDesktopChrome)
}

func sampleUserAgent(rng *rand.Rand, generate func(*rand.Rand) string, accept func(string) bool) string {
	var ua string
	for attempt := 0; attempt < maxUserAgentAttempts; attempt++ {
		ua = generate(rng)
		if accept(ua) {
			return ua
		}
	}
	return ua
}
