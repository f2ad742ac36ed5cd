package playfab

import (
	"bytes"
	"io"
	"net/http"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
)

// FastHTTPDoer adapts a fasthttp client to the Doer interface for callers
// that already run fasthttp elsewhere and want one connection pool.
type FastHTTPDoer struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewFastHTTPDoer(client *fasthttp.Client, timeout time.Duration) *FastHTTPDoer {
	if client == nil {
		client = &fasthttp.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FastHTTPDoer{client: client, timeout: timeout}
}

func (d *FastHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL.String())
	freq.Header.SetMethod(req.Method)
	for name, values := range req.Header {
		for _, value := range values {
			freq.Header.Add(name, value)
		}
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, crerr.Wrap(err, "read request body")
		}
		freq.SetBody(body)
	}

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := req.Context().Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.client.DoDeadline(freq, fresp, deadline); err != nil {
		return nil, err
	}

	header := make(http.Header)
	fresp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	body := make([]byte, len(fresp.Body()))
	copy(body, fresp.Body())

	return &http.Response{
		StatusCode: fresp.StatusCode(),
		Status:     http.StatusText(fresp.StatusCode()),
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}, nil
}
