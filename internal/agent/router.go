package agent

import (
	"net/url"
	"strings"

	"github.com/satsgate-ai/satsgate/internal/resources"
)

var (
	weatherWords = []string{"weather", "temperature", "forecast", "rain", "sunny"}
	stockWords   = []string{"stock", "price", "market", "trading"}
	newsWords    = []string{"news", "headline", "article", "latest"}
)

// routeQuery maps a natural-language query onto a paid endpoint with simple
// keyword matching. Routing proper is a collaborator concern; this is the
// minimal resolver the orchestrator needs to be self-serving.
func routeQuery(query string) string {
	q := strings.ToLower(query)

	for city := range resources.Cities {
		if strings.Contains(q, city) {
			return "/api/weather/" + url.PathEscape(city)
		}
	}
	if containsAny(q, weatherWords) {
		return "/api/weather/" + url.PathEscape("new haven")
	}

	for sym := range resources.Symbols {
		if strings.Contains(q, strings.ToLower(sym)) {
			return "/api/stocks/" + sym
		}
	}
	if containsAny(q, stockWords) {
		return "/api/stocks/BTC"
	}

	if containsAny(q, newsWords) {
		for _, topic := range resources.Topics {
			if strings.Contains(q, topic) {
				return "/api/news/topic/" + topic
			}
		}
	}
	return "/api/news/"
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
