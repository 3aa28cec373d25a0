package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the upstream endpoint template; {id} is the facility ID.
	DefaultBaseURL = "https://lk.parking.mos.ru/api/3.0/parkings/{id}"
	// DefaultAttemptTimeout bounds a single strategy attempt.
	DefaultAttemptTimeout = 30 * time.Second

	maxBodyBytes = 1 << 20
)

// DefaultRelays are tried in order after the direct path. {url} is the
// query-escaped upstream URL and {raw} the unescaped one.
var DefaultRelays = []string{
	"https://api.allorigins.win/get?url={url}",
	"https://api.allorigins.win/raw?url={url}",
	"https://corsproxy.io/?{url}",
	"https://cors-anywhere.herokuapp.com/{raw}",
}

// Strategy is one way of reaching the upstream service.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, facilityID string) ([]byte, error)
}

// HTTPStrategy issues a GET against a URL template.
type HTTPStrategy struct {
	Label    string
	Template string
	// Upstream is substituted for {url} and {raw}; defaults to DefaultBaseURL.
	Upstream string
	Client   *http.Client
	Headers  *HeaderSet
	Timeout  time.Duration
}

// Name returns the strategy label.
func (s *HTTPStrategy) Name() string {
	if s.Label != "" {
		return s.Label
	}
	if u, err := url.Parse(s.Template); err == nil && u.Host != "" {
		return u.Host
	}
	return "http"
}

// Attempt performs one request and returns the body of a 2xx response.
func (s *HTTPStrategy) Attempt(ctx context.Context, facilityID string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := s.URL(facilityID)
	if err != nil {
		return nil, &TransportError{Strategy: s.Name(), Err: err}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Strategy: s.Name(), Err: err}
	}
	s.Headers.Apply(req)

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			err = fmt.Errorf("attempt timed out after %s: %w", timeout, err)
		}
		return nil, &TransportError{Strategy: s.Name(), Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &TransportError{
			Strategy:   s.Name(),
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfterHeader(resp),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Strategy: s.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}

// URL expands the template for a facility.
func (s *HTTPStrategy) URL(facilityID string) (string, error) {
	template := strings.TrimSpace(s.Template)
	if template == "" {
		return "", errors.New("strategy url template is empty")
	}

	id := url.PathEscape(strings.TrimSpace(facilityID))
	upstream := s.Upstream
	if upstream == "" {
		upstream = DefaultBaseURL
	}
	upstream = strings.ReplaceAll(upstream, "{id}", id)

	replacer := strings.NewReplacer(
		"{id}", id,
		"{url}", url.QueryEscape(upstream),
		"{raw}", upstream,
	)
	return replacer.Replace(template), nil
}

// StrategyOptions configures DefaultStrategies.
type StrategyOptions struct {
	BaseURL string
	Relays  []string
	Timeout time.Duration
	Client  *http.Client
	Headers *HeaderSet
}

// DefaultStrategies builds the direct path followed by one strategy per relay.
func DefaultStrategies(opts StrategyOptions) []Strategy {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	relays := opts.Relays
	if relays == nil {
		relays = DefaultRelays
	}

	strategies := make([]Strategy, 0, len(relays)+1)
	strategies = append(strategies, &HTTPStrategy{
		Label:    "direct",
		Template: base,
		Upstream: base,
		Client:   opts.Client,
		Headers:  opts.Headers,
		Timeout:  opts.Timeout,
	})

	for i, relay := range relays {
		relay = strings.TrimSpace(relay)
		if relay == "" {
			continue
		}
		strategy := &HTTPStrategy{
			Template: relay,
			Upstream: base,
			Client:   opts.Client,
			Headers:  opts.Headers,
			Timeout:  opts.Timeout,
		}
		strategy.Label = fmt.Sprintf("relay-%d-%s", i+1, strategy.Name())
		strategies = append(strategies, strategy)
	}
	return strategies
}
