package fetcher

import (
	"math/rand/v2"
	"net/http"
)

// UserAgents is the pool a request's User-Agent is drawn from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var browserHeaders = map[string]string{
	"Accept":             "application/json, text/plain, */*",
	"Accept-Language":    "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
	"Referer":            "https://lk.parking.mos.ru/parkings",
	"Origin":             "https://lk.parking.mos.ru",
	"sec-ch-ua":          `"Not_A Brand";v="8", "Chromium";v="120"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"Sec-Fetch-Dest":     "empty",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Site":     "same-origin",
	"Cache-Control":      "no-cache",
}

// HeaderSet decorates outbound requests so they resemble a browser.
type HeaderSet struct {
	UserAgents []string
	// Pick returns an index in [0, n). Defaults to math/rand/v2.
	Pick func(n int) int
}

// Apply sets browser-like headers and a User-Agent on req.
func (h *HeaderSet) Apply(req *http.Request) {
	for key, value := range browserHeaders {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", h.userAgent())
}

func (h *HeaderSet) userAgent() string {
	pool := UserAgents
	pick := rand.IntN
	if h != nil {
		if len(h.UserAgents) > 0 {
			pool = h.UserAgents
		}
		if h.Pick != nil {
			pick = h.Pick
		}
	}
	return pool[pick(len(pool))]
}
