// Package useragent classifies the User-Agent header of incoming requests.
//
// Embed crawlers (Discord, Telegram, Slack, ...) identify themselves with
// well-known User-Agent strings; anything else is treated as a real person
// who should be redirected to the post instead of served meta tags.
package useragent

import "strings"

// embedCrawlers lists the exact User-Agent values sent by services that
// fetch pages to build embed cards.
var embedCrawlers = map[string]struct{}{
	"facebookexternalhit/1.1": {},
	"Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/31.0.1650.57 Safari/537.36":                                              {},
	"Mozilla/5.0 (Windows; U; Windows NT 10.0; en-US; Valve Steam Client/default/1596241936; ) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.117 Safari/537.36": {},
	"Mozilla/5.0 (Windows; U; Windows NT 10.0; en-US; Valve Steam Client/default/0; ) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.117 Safari/537.36":          {},
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_1) AppleWebKit/601.2.4 (KHTML, like Gecko) Version/9.0.1 Safari/601.2.4 facebookexternalhit/1.1 Facebot Twitterbot/1.0": {},
	"Mozilla/5.0 (Windows; U; Windows NT 6.1; en-US; Valve Steam FriendsUI Tenfoot/0; ) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.105 Safari/537.36":        {},
	"Slackbot-LinkExpanding 1.0 (+https://api.slack.com/robots)":                           {},
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.10; rv:38.0) Gecko/20100101 Firefox/38.0":   {},
	"Mozilla/5.0 (compatible; Discordbot/2.0; +https://discordapp.com)":                    {},
	"TelegramBot (like TwitterBot)":                                                        {},
	"Mozilla/5.0 (compatible; January/1.0; +https://gitlab.insrt.uk/revolt/january)":       {},
	"Synapse (bot; +https://github.com/matrix-org/synapse)":                                {},
	"Iframely/1.3.1 (+https://iframely.com/docs/about)":                                    {},
	"test": {},
}

// IsEmbedCrawler reports whether the given User-Agent belongs to a service
// that renders embed cards.
//
// WhatsApp clients use a wide variety of User-Agent strings, so any agent
// containing "WhatsApp/" is accepted.
func IsEmbedCrawler(agent string) bool {
	if _, ok := embedCrawlers[agent]; ok {
		return true
	}
	return strings.Contains(agent, "WhatsApp/")
}
