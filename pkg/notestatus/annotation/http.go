package annotation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// HTTP posts segment text to an annotation service that answers with XMI.
type HTTP struct {
	BaseURL string
	APIKey  string
	Policy  RetryPolicy
	Decoder XMIDecoder

	HTTPClient *http.Client
}

// Annotate implements Adapter.
func (c *HTTP) Annotate(ctx context.Context, req Request) (Document, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("http adapter: base URL required: %w", internalerr.ErrAdapterFailure)
	}
	return c.Policy.do(ctx, req.Name, func(ctx context.Context) (Document, error) {
		return c.send(ctx, req)
	})
}

func (c *HTTP) send(ctx context.Context, req Request) (Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(req.Text))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "text/plain; charset=utf-8")
	httpReq.Header.Set("Accept", "application/xml")
	if req.Name != "" {
		httpReq.Header.Set("X-Segment-Name", req.Name)
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("annotation service: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}
	return c.Decoder.Decode(resp.Body)
}

func (c *HTTP) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 2 * time.Minute}
}
