package httpapi

import (
	"compress/gzip"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// statusWriter records the status and body size of a response. When
// compress is set the body goes through a pooled gzip writer, started on the
// first status that may carry a body.
type statusWriter struct {
	http.ResponseWriter
	compress bool
	status   int
	written  int64
	gz       *gzip.Writer
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if w.compress && bodyAllowed(code) {
		h := w.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		w.gz = gzipPool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	var (
		n   int
		err error
	)
	if w.gz != nil {
		n, err = w.gz.Write(b)
	} else {
		n, err = w.ResponseWriter.Write(b)
	}
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// finish ends the gzip stream, if one was started.
func (w *statusWriter) finish() {
	if w.gz == nil {
		return
	}
	_ = w.gz.Close()
	w.gz.Reset(nil)
	gzipPool.Put(w.gz)
	w.gz = nil
}

func bodyAllowed(code int) bool {
	return code >= 200 && code != http.StatusNoContent && code != http.StatusNotModified
}

// wantsGzip reports whether the client accepts gzip. Upgrades and event
// streams are never compressed.
func wantsGzip(r *http.Request) bool {
	if r.Header.Get("Upgrade") != "" || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}

const (
	limiterIdleTTL = 5 * time.Minute
	limiterSweepAt = 1024
)

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// clientLimits keeps one token bucket per client. Idle buckets are swept
// once the table passes limiterSweepAt entries.
type clientLimits struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
}

// newClientLimits returns nil, which allows everything, when rps is not
// positive. A missing burst defaults to rps.
func newClientLimits(rps, burst int) *clientLimits {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rps
	}
	return &clientLimits{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

func (l *clientLimits) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= limiterSweepAt {
			l.sweep(now)
		}
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.AllowN(now, 1)
}

func (l *clientLimits) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// clientKey identifies the caller for rate limiting. X-Forwarded-For is
// honored only when the peer itself is on loopback.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	return host
}

// originPolicy allows browser origins by exact match or by a path.Match
// pattern such as "http://localhost:*". A lone "*" allows any http(s)
// origin.
type originPolicy struct {
	any      bool
	exact    map[string]struct{}
	patterns []string
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{exact: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.any = true
		case strings.ContainsAny(o, "*?["):
			p.patterns = append(p.patterns, o)
		default:
			p.exact[o] = struct{}{}
		}
	}
	if !p.any && len(p.exact) == 0 && len(p.patterns) == 0 {
		return nil
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if p == nil {
		return false
	}
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if p.any {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, pattern := range p.patterns {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// preflight answers an OPTIONS request carrying an Origin. It reports
// false when the request is not a preflight or no policy is configured.
func (p *originPolicy) preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	if p == nil || r.Method != http.MethodOptions {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if !p.allows(origin) {
		w.WriteHeader(http.StatusForbidden)
		return true
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", method+", "+http.MethodOptions)
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	}
	h.Set("Access-Control-Max-Age", "600")
	h.Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
	return true
}

// decorate sets the response origin header. It reports false for a
// present but disallowed origin. Without a policy every request passes.
func (p *originPolicy) decorate(w http.ResponseWriter, r *http.Request) bool {
	if p == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !p.allows(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}
