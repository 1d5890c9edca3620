package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Probe checks bridge endpoint health over plain HTTP. Consumers use it to
// validate a primary endpoint before building a Controller, and tests use
// WaitForBridge to block until an in-process bridge is serving.
type Probe struct {
	log          *zap.SugaredLogger
	baseURL      string
	waitInterval time.Duration

	customizeRetryableClient func(*retryablehttp.Client)
	httpClient               *http.Client
}

type ProbeOption func(p *Probe)

func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *Probe) {
		p.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ProbeOption {
	return func(p *Probe) {
		p.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewProbe builds a probe for the bridge at baseURL (scheme + host + port).
func NewProbe(log *zap.SugaredLogger, baseURL string, opts ...ProbeOption) *Probe {
	p := &Probe{
		log:          log.Named("probe"),
		baseURL:      strings.TrimRight(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = &logAdapter{SugaredLogger: p.log}
	if p.customizeRetryableClient != nil {
		p.customizeRetryableClient(retryClient)
	}
	p.httpClient = retryClient.StandardClient()
	return p
}

// HTTPClient returns the retrying client, suitable for handing to NewDialer.
func (p *Probe) HTTPClient() *http.Client { return p.httpClient }

// Check performs one health check round trip.
func (p *Probe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}
	return nil
}

// WaitForBridge polls the health route until it answers or ctx expires.
func (p *Probe) WaitForBridge(ctx context.Context) error {
	ticker := time.NewTicker(p.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := p.Check(ctx)
			if err == nil {
				p.log.Debug("health check succeeded, done waiting for bridge")
				return nil
			}
			p.log.Debugf("got health check error: %s", err)
		}
	}
}
