// Package providers implements the point.Station contract for each
// supported datasource. Adapters share one resilience layer: retries with
// exponential backoff and a per-datasource circuit breaker.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
)

// BackoffConfig controls retry behaviour.
type BackoffConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles the HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errRateLimited  = errors.New("rate limited")
	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// defaultHTTPConfig applies the retry settings every adapter uses.
func defaultHTTPConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// newCircuit builds the circuit breaker guarding one datasource.
func newCircuit(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience executes the HTTP request with exponential-backoff
// retries and a circuit breaker. Rate limiting and 5xx responses retry;
// other non-2xx statuses and an open circuit fail immediately.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}

	expo := backoff.NewExponentialBackOff()
	if cfg.Backoff.InitialInterval > 0 {
		expo.InitialInterval = cfg.Backoff.InitialInterval
	}
	if cfg.Backoff.MaxInterval > 0 {
		expo.MaxInterval = cfg.Backoff.MaxInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, cfg.Backoff.MaxRetries), ctx)

	var resp *http.Response
	operation := func() error {
		req, err := buildRequest()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			r, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			switch {
			case r.StatusCode == http.StatusTooManyRequests:
				r.Body.Close()
				return nil, errRateLimited
			case r.StatusCode >= 500:
				r.Body.Close()
				return nil, errServerError
			case r.StatusCode < 200 || r.StatusCode >= 300:
				r.Body.Close()
				return nil, fmt.Errorf("%w: %d", errUnexpected, r.StatusCode)
			}
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", errCircuitOpen, err))
			}
			if errors.Is(err, errUnexpected) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = result.(*http.Response)
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// getJSON issues a GET built by buildRequest and decodes the body into out.
func getJSON(ctx context.Context, cfg HTTPClientConfig, cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error), out any) error {
	resp, err := doRequestWithResilience(ctx, cfg, cb, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// finalize stamps the shared columns onto a merged single-station frame,
// sorts it, and runs the schema validator. An empty frame becomes the
// explicit no-data result.
func finalize(df *frame.Frame, site, source string, geom any) (*frame.Frame, error) {
	if df.Len() == 0 {
		return nil, nil
	}
	df.SetConst(frame.ColSite, site)
	df.SetConst(frame.ColDataSource, source)
	if geom != nil {
		df.SetConst(frame.ColGeometry, geom)
	}
	df.Sort()
	if err := frame.Validate(df); err != nil {
		return nil, err
	}
	return df, nil
}

// logSkippedVariable records a requested variable the datasource has no
// data or no definition for; the call continues with the rest.
func logSkippedVariable(source, site, name, reason string) {
	log.Printf("%s: skipping variable %s for %s: %s", source, name, site, reason)
}
