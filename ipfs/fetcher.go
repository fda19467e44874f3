// Package ipfs fetches content-addressed tree documents from IPFS gateways.
package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/lidofinance/csm-rewards/log"
)

// Fetch errors.
var (
	ErrInvalidCID = errors.New("ipfs: invalid cid")
	ErrStatus     = errors.New("ipfs: unexpected response status")
	ErrTooLarge   = errors.New("ipfs: document too large")
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 120 * time.Second

// maxDocumentSize caps a fetched document.
const maxDocumentSize = 256 << 20

// Fetcher retrieves a document by CID.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// ParseCID validates s as a CIDv0 or CIDv1 string.
func ParseCID(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w %q: %v", ErrInvalidCID, s, err)
	}
	return c, nil
}

// Gateway fetches from an unauthenticated HTTP gateway such as ipfs.io.
type Gateway struct {
	endpoint string
	client   *http.Client
	log      *log.Logger
}

// NewGateway creates a Gateway. A zero timeout selects DefaultTimeout.
func NewGateway(endpoint string, timeout time.Duration) *Gateway {
	return &Gateway{
		endpoint: endpoint,
		client:   newClient(timeout),
		log:      log.Default().Module("ipfs").With("gateway", endpoint),
	}
}

// Fetch implements Fetcher.
func (g *Gateway) Fetch(ctx context.Context, s string) ([]byte, error) {
	c, err := ParseCID(s)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/ipfs/"+c.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs: new request: %w", err)
	}
	g.log.Debug("fetching document", "cid", c)
	return do(g.client, req)
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s %s: %s: %s", ErrStatus, req.Method, req.URL.Path, resp.Status, msg)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("ipfs: read body: %w", err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxDocumentSize)
	}
	return body, nil
}
