package scraper

import (
	"regexp"
	"strings"
)

// BotDetector recognizes bot walls, captchas and login walls in fetched pages
type BotDetector struct {
	botPatterns     []*regexp.Regexp
	captchaPatterns []*regexp.Regexp
	loginPatterns   []*regexp.Regexp
}

// NewBotDetector creates a detector with the patterns seen on the harvested sites
func NewBotDetector() *BotDetector {
	return &BotDetector{
		botPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)access denied`),
			regexp.MustCompile(`(?i)bot detected`),
			regexp.MustCompile(`(?i)checking your browser`),
			regexp.MustCompile(`(?i)ddos protection`),
			regexp.MustCompile(`(?i)too many requests`),
			regexp.MustCompile(`(?i)temporarily blocked`),
			regexp.MustCompile(`(?i)you.re temporarily blocked`),
		},
		captchaPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)captcha`),
			regexp.MustCompile(`(?i)verify you are human`),
			regexp.MustCompile(`(?i)security check`),
		},
		loginPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\blog in\b`),
			regexp.MustCompile(`(?i)\bsign up\b`),
			regexp.MustCompile(`(?i)\bhyr\b`),
			regexp.MustCompile(`(?i)regjistrohu`),
		},
	}
}

// DetectBotWall reports whether a page is a bot or captcha wall rather than content
func (bd *BotDetector) DetectBotWall(pageContent string) (bool, string) {
	content := strings.ToLower(pageContent)

	score := 0.0
	var reasons []string
	for _, p := range bd.botPatterns {
		if p.MatchString(content) {
			score += 0.3
			reasons = append(reasons, p.String())
		}
	}
	for _, p := range bd.captchaPatterns {
		if p.MatchString(content) {
			score += 0.5
			reasons = append(reasons, "captcha: "+p.String())
		}
	}
	// Walls are short pages
	if len(content) < 5000 && score > 0 {
		score += 0.2
	}
	return score > 0.3, strings.Join(reasons, "; ")
}

// IsLoginWall reports whether a social page answered with a login prompt
// instead of its photos. A page that still links photo permalinks is content.
func (bd *BotDetector) IsLoginWall(pageURL, pageContent string) bool {
	u := strings.ToLower(pageURL)
	if strings.Contains(u, "/login") || strings.Contains(u, "checkpoint") {
		return true
	}
	content := strings.ToLower(pageContent)
	if strings.Contains(content, "photo.php") || strings.Contains(content, "/photos/") {
		return false
	}
	if strings.Contains(content, `action="/login`) || strings.Contains(content, `action="https://m.facebook.com/login`) {
		return true
	}
	for _, p := range bd.loginPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}
