package transcriber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"
)

// uploadTrace times the phases of one upload to the transcription route.
type uploadTrace struct {
	connStart time.Time
	gotConn   time.Time
	wrote     time.Time
	start     time.Time

	Connect time.Duration
	Reused  bool
	Upload  time.Duration
	TTFB    time.Duration
}

func (t *uploadTrace) attach(ctx context.Context) context.Context {
	t.start = time.Now()
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GetConn: func(string) { t.connStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			t.gotConn = time.Now()
			t.Connect = t.gotConn.Sub(t.connStart)
			t.Reused = info.Reused
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.wrote = time.Now()
			t.Upload = t.wrote.Sub(t.gotConn)
		},
		GotFirstResponseByte: func() { t.TTFB = time.Since(t.wrote) },
	})
}

func (t *uploadTrace) Total() time.Duration { return time.Since(t.start) }

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// warmConn opens a connection to the origin of rawURL so the first upload
// skips the handshake. Returns the connect time, or 0 on failure.
func warmConn(c *http.Client, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	req, err := http.NewRequest(http.MethodHead, u.Scheme+"://"+u.Host+"/", nil)
	if err != nil {
		return 0
	}
	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return time.Since(start)
}

func requestID(h http.Header) string {
	if v := h.Get("X-Request-Id"); v != "" {
		return v
	}
	return "?"
}
