package remotelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/tracing"
)

// Client implements indexedqueue.Store against a remote Server's HTTP
// endpoint. It keeps no local state beyond the server's address. The
// wire protocol has no endpoints for Len or Stats: Len always returns an
// error and Stats a zero value; Close only releases idle connections.
type Client struct {
	endpoint string
	http     *http.Client
	// bearerToken, when set, is attached to every request as
	// "Authorization: Bearer <token>", for servers configured with
	// ServerConfig.AuthSecret.
	bearerToken string
}

// NewClient builds a Client pointed at a remotelog Server's endpoint,
// e.g. "http://127.0.0.1:8088".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{},
	}
}

// NewAuthenticatedClient builds a Client that attaches bearerToken to
// every request, for servers requiring ServerConfig.AuthSecret.
func NewAuthenticatedClient(endpoint, bearerToken string) *Client {
	c := NewClient(endpoint)
	c.bearerToken = bearerToken
	return c
}

func (c *Client) post(ctx context.Context, req requestDTO) (*http.Response, error) {
	body := marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	return c.http.Do(httpReq)
}

// Append implements indexedqueue.Store.
func (c *Client) Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error) {
	ctx, span := tracing.Tracer().Start(ctx, "remotelog.client.append")
	defer span.End()

	e := encodeEntry(entry)
	resp, err := c.post(ctx, requestDTO{Op: "append", Entry: &e})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out responseDTO
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("remotelog: decode append response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("remotelog: append: %s", out.Error)
	}
	return logentry.LogIndex(out.Idx), nil
}

// AppendSnapshot implements indexedqueue.Store.
func (c *Client) AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error) {
	ctx, span := tracing.Tracer().Start(ctx, "remotelog.client.append_snapshot")
	defer span.End()

	s := encodeSnapshot(snap)
	resp, err := c.post(ctx, requestDTO{Op: "append_snapshot", Snapshot: &s})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out responseDTO
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("remotelog: decode append_snapshot response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("remotelog: append_snapshot: %s", out.Error)
	}
	return logentry.LogIndex(out.Idx), nil
}

// Stream implements indexedqueue.Store by reading the server's NDJSON
// response body, one LogData per line, until ctx is canceled or the
// connection closes.
func (c *Client) Stream(ctx context.Context, from logentry.LogIndex) (<-chan logentry.LogData, error) {
	resp, err := c.post(ctx, requestDTO{Op: "stream", From: int64(from)})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var out responseDTO
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return nil, fmt.Errorf("remotelog: stream: server returned %d: %s", resp.StatusCode, out.Error)
	}

	out := make(chan logentry.LogData, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var dto logDataDTO
			if err := json.Unmarshal(scanner.Bytes(), &dto); err != nil {
				return
			}
			if dto.Kind == "heartbeat" {
				continue
			}
			item, err := decodeLogData(dto)
			if err != nil {
				return
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len is not served by the wire protocol (the original design answers
// "what's new" only through Stream); it always returns an error.
func (c *Client) Len(ctx context.Context) (logentry.LogIndex, error) {
	return 0, fmt.Errorf("remotelog: Len is not supported over the wire protocol, use Stream")
}

// Close releases the underlying HTTP client's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Stats is not served by the wire protocol; it returns a zero value.
func (c *Client) Stats() indexedqueue.Stats {
	return indexedqueue.Stats{}
}

var _ indexedqueue.Store = (*Client)(nil)

var _ io.Closer = (*Client)(nil)

// dialTimeout is a bounded dial timeout for an http.Client used over a
// slow network. It is unexported and nothing in the module references it;
// NewClient uses a default http.Client with no dial timeout.
const dialTimeout = 5 * time.Second
