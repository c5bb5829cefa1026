// Package proxy forwards admitted requests to an upstream service.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

// DefaultTimeout bounds the wait for upstream response headers.
const DefaultTimeout = 60 * time.Second

// Options configures a Forwarder.
type Options struct {
	// Timeout bounds connecting and waiting for response headers.
	// Response bodies stream without a deadline.
	Timeout time.Duration
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// Forwarder relays requests to one upstream, preserving the request path.
type Forwarder struct {
	name    string
	target  *url.URL
	proxy   *httputil.ReverseProxy
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

type outcomeKey struct{}

// New creates a forwarder named name (used in metrics and logs) for rawTarget.
func New(name, rawTarget string, opts Options) (*Forwarder, error) {
	target, err := url.Parse(rawTarget)
	if err != nil {
		return nil, fmt.Errorf("parse %s upstream: %w", name, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, fmt.Errorf("%s upstream must be an absolute http(s) URL", name)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = newTransport(opts.Timeout)
	}

	f := &Forwarder{
		name:    name,
		target:  target,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(zap.String("upstream", name)),
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:       f.rewrite,
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  f.handleError,
	}
	return f, nil
}

func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.ResponseHeaderTimeout = timeout
	return t
}

// Name returns the upstream name.
func (f *Forwarder) Name() string { return f.name }

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(f.target)
	pr.SetXForwarded()
	stripCookie(pr.Out, auth.SessionCookieName)
	otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
}

// ServeHTTP forwards r. The request context bounds the outbound call, so a
// client disconnect cancels it.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerProxy, "proxy.Forward",
		attribute.String(telemetry.AttrUpstream, f.name),
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.URL.Path),
	)
	defer span.End()

	outcome := telemetry.OutcomeOK
	ctx = context.WithValue(ctx, outcomeKey{}, &outcome)

	f.proxy.ServeHTTP(w, r.WithContext(ctx))

	span.SetAttributes(attribute.String(telemetry.AttrOutcome, outcome))
	f.metrics.RecordProxy(f.name, outcome, time.Since(start).Seconds())
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, message, outcome := classify(r.Context(), err)
	if p, ok := r.Context().Value(outcomeKey{}).(*string); ok {
		*p = outcome
	}

	if outcome == telemetry.OutcomeCanceled {
		f.logger.Debug("client went away", zap.String("path", r.URL.Path))
	} else {
		f.logger.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}

	// Upstream addresses stay in the logs, never in the response.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func classify(ctx context.Context, err error) (status int, message, outcome string) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return http.StatusBadGateway, "upstream unavailable", telemetry.OutcomeCanceled
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout, "upstream timeout", telemetry.OutcomeTimeout
	}
	return http.StatusBadGateway, "upstream unavailable", telemetry.OutcomeUnavailable
}

// stripCookie removes the named cookie from the outbound Cookie header,
// keeping every other cookie.
func stripCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != name {
			r.AddCookie(c)
		}
	}
}
