// Package guard holds the admit-or-reject checks that run before any data
// access: user-agent heuristics, the optional origin allow-list, and the
// shared rate limiter.
package guard

import (
	"errors"
	"regexp"
)

var (
	ErrBlockedClient    = errors.New("request blocked")
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// Known automation signatures: bots, crawlers, headless browsers, CLI HTTP
// clients and API-testing tools.
var botUserAgent = regexp.MustCompile(`(?i)(bot|crawler|spider|headless|curl|wget|postman|insomnia|python-requests|scrapy|httpclient)`)

type Guard struct {
	// AllowedOrigins empty = origin check disabled (open by default).
	AllowedOrigins []string
}

func (g *Guard) CheckUserAgent(ua string) error {
	if ua == "" || botUserAgent.MatchString(ua) {
		return ErrBlockedClient
	}
	return nil
}

func (g *Guard) CheckOrigin(origin string) error {
	if len(g.AllowedOrigins) == 0 {
		return nil
	}
	for _, allowed := range g.AllowedOrigins {
		if origin == allowed {
			return nil
		}
	}
	return ErrOriginNotAllowed
}
