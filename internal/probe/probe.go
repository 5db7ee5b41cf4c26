// Package probe measures how a server behaves on the network, from a bare
// DNS lookup and TCP handshake up to a full HTTP exchange routed through a
// locally running engine. Results carry per-stage timings in milliseconds
// and a normalized score so callers can rank servers against each other.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	xproxy "golang.org/x/net/proxy"

	"github.com/v2rayroot/v2root-go/internal/model"
)

const (
	// DefaultTCPTimeout bounds the DNS lookup and the TCP handshake of a
	// quick probe.
	DefaultTCPTimeout = 2500 * time.Millisecond
	// DefaultTTFBTimeout bounds a single HTTP exchange of a full probe.
	DefaultTTFBTimeout = 5 * time.Second

	MaxAttempts = 5
)

// DefaultEndpoints are the no-content URLs a full probe fetches through the
// local proxy. They are tried in order and the first acceptable response
// wins, so a single blocked endpoint does not fail the probe.
var DefaultEndpoints = []string{
	"http://www.google.com/generate_204",
	"https://www.cloudflare.com/cdn-cgi/trace",
	"http://detectportal.firefox.com/success.txt",
}

// Engine runs probes. The zero value works with defaults but cannot run full
// probes until a local proxy port is set.
type Engine struct {
	TCPTimeout  time.Duration
	TTFBTimeout time.Duration
	Endpoints   []string

	// Local engine listeners a full probe routes traffic through. The HTTP
	// port is preferred; the SOCKS port is the fallback when the engine
	// exposes only a SOCKS inbound.
	LocalHTTPPort  int
	LocalSOCKSPort int

	Resolver *net.Resolver
	Log      *logrus.Entry
}

func (e *Engine) tcpTimeout() time.Duration {
	if e.TCPTimeout > 0 {
		return e.TCPTimeout
	}
	return DefaultTCPTimeout
}

func (e *Engine) ttfbTimeout() time.Duration {
	if e.TTFBTimeout > 0 {
		return e.TTFBTimeout
	}
	return DefaultTTFBTimeout
}

func (e *Engine) endpoints() []string {
	if len(e.Endpoints) > 0 {
		return e.Endpoints
	}
	return DefaultEndpoints
}

func (e *Engine) resolver() *net.Resolver {
	if e.Resolver != nil {
		return e.Resolver
	}
	return net.DefaultResolver
}

func (e *Engine) logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Quick resolves the server's address and opens one TCP connection to it,
// without involving the engine. It reports how far the connection got and
// how long each stage took. Timings are floored to 1ms so a successful
// stage never reads as zero.
func (e *Engine) Quick(ctx context.Context, desc *model.Descriptor) model.ProbeResult {
	res := model.ProbeResult{Attempts: 1, ErrorKind: model.ProbeErrNone}

	lookupCtx, cancel := context.WithTimeout(ctx, e.tcpTimeout())
	defer cancel()

	dnsStart := time.Now()
	addrs, err := e.resolver().LookupHost(lookupCtx, desc.Address)
	res.DNSMs = floorMs(time.Since(dnsStart))
	if err != nil || len(addrs) == 0 {
		res.ErrorKind = model.ProbeErrDNS
		if err != nil {
			res.ErrorDetail = err.Error()
		} else {
			res.ErrorDetail = "lookup returned no addresses"
		}
		res.TotalMs = res.DNSMs
		return res
	}

	dialer := net.Dialer{Timeout: e.tcpTimeout()}
	target := net.JoinHostPort(addrs[0], strconv.Itoa(desc.Port))

	tcpStart := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", target)
	res.TCPConnectMs = floorMs(time.Since(tcpStart))
	res.TotalMs = res.DNSMs + res.TCPConnectMs
	if err != nil {
		res.ErrorKind, res.ErrorDetail = classifyDial(err)
		return res
	}
	conn.Close()

	res.Success = true
	res.Score = Score(res.TotalMs, res.TCPConnectMs, true)
	e.logger().WithFields(logrus.Fields{
		"address": desc.Address,
		"port":    desc.Port,
		"dns_ms":  res.DNSMs,
		"tcp_ms":  res.TCPConnectMs,
	}).Debug("quick probe succeeded")
	return res
}

// Full runs a quick probe first and, only if the server is reachable at all,
// fetches a known endpoint through the local engine proxy up to attempts
// times. Attempts are independent; the best (lowest) time to first byte
// among successful attempts is reported. When the quick pre-check fails the
// full probe returns that result as is, so callers can tell an unreachable
// server from a reachable one whose tunnel is broken.
func (e *Engine) Full(ctx context.Context, desc *model.Descriptor, attempts int) model.ProbeResult {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > MaxAttempts {
		attempts = MaxAttempts
	}

	quick := e.Quick(ctx, desc)
	if !quick.Success {
		return quick
	}

	client, err := e.proxyClient()
	if err != nil {
		res := quick
		res.Success = false
		res.Score = 0
		res.ErrorKind = model.ProbeErrUnknown
		res.ErrorDetail = err.Error()
		return res
	}
	defer client.CloseIdleConnections()

	res := quick
	res.Attempts = attempts
	res.Success = false
	res.Score = 0

	bestTTFB := -1
	lastKind := model.ProbeErrUnknown
	lastDetail := ""
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			lastKind, lastDetail = model.ProbeErrTimeout, ctx.Err().Error()
			break
		}
		ttfb, kind, detail := e.fetchOnce(ctx, client)
		if kind == model.ProbeErrNone {
			if bestTTFB < 0 || ttfb < bestTTFB {
				bestTTFB = ttfb
			}
			continue
		}
		lastKind, lastDetail = kind, detail
	}

	if bestTTFB < 0 {
		res.ErrorKind = lastKind
		res.ErrorDetail = lastDetail
		return res
	}

	res.Success = true
	res.TTFBMs = bestTTFB
	res.TotalMs = quick.DNSMs + quick.TCPConnectMs + bestTTFB
	res.ErrorKind = model.ProbeErrNone
	res.ErrorDetail = ""
	res.Score = Score(bestTTFB, quick.TCPConnectMs, true)
	e.logger().WithFields(logrus.Fields{
		"address":  desc.Address,
		"port":     desc.Port,
		"ttfb_ms":  bestTTFB,
		"attempts": attempts,
		"score":    res.Score,
	}).Debug("full probe succeeded")
	return res
}

// Ping measures bare reachability of an endpoint: a DNS lookup plus one TCP
// handshake, returned as a single combined latency.
func (e *Engine) Ping(ctx context.Context, address string, port int) (int, error) {
	res := e.Quick(ctx, &model.Descriptor{Address: address, Port: port})
	if !res.Success {
		return 0, fmt.Errorf("ping %s:%d: %s: %s", address, port, res.ErrorKind, res.ErrorDetail)
	}
	return res.TotalMs, nil
}

// fetchOnce walks the endpoint list and returns the first acceptable
// response's time to first byte.
func (e *Engine) fetchOnce(ctx context.Context, client *http.Client) (int, model.ErrorKind, string) {
	lastKind := model.ProbeErrUnknown
	lastDetail := "no endpoints configured"
	for _, endpoint := range e.endpoints() {
		reqCtx, cancel := context.WithTimeout(ctx, e.ttfbTimeout())
		start := time.Now()
		ttfb, kind, detail := fetchEndpoint(reqCtx, client, endpoint, start)
		cancel()
		if kind == model.ProbeErrNone {
			return ttfb, kind, ""
		}
		lastKind, lastDetail = kind, detail
	}
	return 0, lastKind, lastDetail
}

func fetchEndpoint(ctx context.Context, client *http.Client, endpoint string, start time.Time) (int, model.ErrorKind, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, model.ProbeErrUnknown, err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		kind, detail := classifyFetch(err)
		return 0, kind, detail
	}
	defer resp.Body.Close()

	// Headers are in, so the first byte has arrived.
	ttfb := floorMs(time.Since(start))
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusMovedPermanently:
		return ttfb, model.ProbeErrNone, ""
	case http.StatusProxyAuthRequired:
		return 0, model.ProbeErrAuth, fmt.Sprintf("%s: %s", endpoint, resp.Status)
	default:
		return 0, model.ProbeErrTransport, fmt.Sprintf("%s: unexpected status %s", endpoint, resp.Status)
	}
}

// proxyClient builds an HTTP client that routes through the engine's local
// HTTP inbound, or its SOCKS inbound when no HTTP port is configured.
func (e *Engine) proxyClient() (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives:     true,
		ResponseHeaderTimeout: e.ttfbTimeout(),
		TLSHandshakeTimeout:   e.ttfbTimeout(),
	}
	switch {
	case e.LocalHTTPPort > 0:
		proxyURL := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(e.LocalHTTPPort))}
		transport.Proxy = http.ProxyURL(proxyURL)
	case e.LocalSOCKSPort > 0:
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(e.LocalSOCKSPort))
		dialer, err := xproxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: e.tcpTimeout()})
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", addr, err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %s: dialer has no context support", addr)
		}
		transport.DialContext = ctxDialer.DialContext
	default:
		return nil, errors.New("no local proxy port configured")
	}
	return &http.Client{
		Transport: transport,
		Timeout:   e.ttfbTimeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// A 301 is itself an acceptable answer; never follow it.
			return http.ErrUseLastResponse
		},
	}, nil
}

// classifyDial names why a direct TCP connection failed. An active reset or
// refusal is distinguishable from a plain timeout.
func classifyDial(err error) (model.ErrorKind, string) {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return model.ProbeErrUpstreamBlocked, err.Error()
	}
	return model.ProbeErrTCP, err.Error()
}

// classifyFetch names why an HTTP exchange through the proxy failed.
func classifyFetch(err error) (model.ErrorKind, string) {
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	switch {
	case errors.As(err, &certErr), errors.As(err, &recErr), strings.Contains(err.Error(), "tls:"):
		return model.ProbeErrTLS, err.Error()
	case isTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return model.ProbeErrTimeout, err.Error()
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return model.ProbeErrUpstreamBlocked, err.Error()
	default:
		return model.ProbeErrTransport, err.Error()
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// floorMs converts a duration to whole milliseconds with a floor of 1, so a
// stage that completed cannot be confused with one that never ran.
func floorMs(d time.Duration) int {
	ms := int(d.Milliseconds())
	if ms < 1 {
		return 1
	}
	return ms
}
