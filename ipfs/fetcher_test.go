package ipfs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cidV0 = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	cidV1 = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
)

func TestParseCID(t *testing.T) {
	for _, s := range []string{cidV0, cidV1} {
		c, err := ParseCID(s)
		require.NoError(t, err)
		assert.Equal(t, s, c.String())
	}
	for _, s := range []string{"", "not-a-cid", "Qm123"} {
		_, err := ParseCID(s)
		require.ErrorIs(t, err, ErrInvalidCID, s)
	}
}

func TestGatewayFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path != "/ipfs/"+cidV1 {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"format":"standard-v1"}`))
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second)
	doc, err := g.Fetch(context.Background(), cidV1)
	require.NoError(t, err)
	assert.Equal(t, `{"format":"standard-v1"}`, string(doc))

	_, err = g.Fetch(context.Background(), cidV0)
	require.ErrorIs(t, err, ErrStatus)

	_, err = g.Fetch(context.Background(), "bogus")
	require.ErrorIs(t, err, ErrInvalidCID)
}

func TestGatewayContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGateway(srv.URL, time.Second).Fetch(ctx, cidV0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGW3Signature(t *testing.T) {
	rawSecret := []byte("0123456789abcdef0123456789abcdef")
	secret := base64.URLEncoding.EncodeToString(rawSecret)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "access", r.Header.Get("X-Access-Key"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("ts"))

		mac := hmac.New(sha256.New, rawSecret)
		mac.Write([]byte("GET\n/ipfs/" + cidV0 + "\nts=1700000000"))
		want := base64.URLEncoding.EncodeToString(mac.Sum(nil))
		if r.Header.Get("X-Access-Signature") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("signed"))
	}))
	defer srv.Close()

	g, err := NewGW3(srv.URL, "access", secret, time.Second)
	require.NoError(t, err)
	g.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	doc, err := g.Fetch(context.Background(), cidV0)
	require.NoError(t, err)
	assert.Equal(t, "signed", string(doc))

	g.secret = []byte("wrong")
	_, err = g.Fetch(context.Background(), cidV0)
	require.ErrorIs(t, err, ErrStatus)
}

func TestNewGW3(t *testing.T) {
	_, err := NewGW3("", "", "c2VjcmV0", 0)
	require.Error(t, err)

	_, err = NewGW3("", "key", "!!!", 0)
	require.Error(t, err)

	// Unpadded secrets are accepted too.
	g, err := NewGW3("", "key", base64.RawURLEncoding.EncodeToString([]byte("secret")), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), g.secret)
	assert.Equal(t, DefaultGW3Endpoint, g.endpoint)
}

type countingFetcher struct {
	calls atomic.Int32
	fail  bool
	gate  chan struct{}
}

func (f *countingFetcher) Fetch(_ context.Context, cid string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.fail {
		return nil, errors.New("boom")
	}
	return []byte("doc:" + cid), nil
}

func TestCacheHit(t *testing.T) {
	next := &countingFetcher{}
	c, err := NewCache(next, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		doc, err := c.Fetch(ctx, cidV0)
		require.NoError(t, err)
		assert.Equal(t, "doc:"+cidV0, string(doc))
	}
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCacheErrorsNotCached(t *testing.T) {
	next := &countingFetcher{fail: true}
	c, err := NewCache(next, 2)
	require.NoError(t, err)

	for range 2 {
		_, err := c.Fetch(context.Background(), cidV0)
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCacheSharesInflightFetch(t *testing.T) {
	next := &countingFetcher{gate: make(chan struct{})}
	c, err := NewCache(next, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), cidV1)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(next.gate)
	wg.Wait()
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestNewCacheInvalidSize(t *testing.T) {
	_, err := NewCache(&countingFetcher{}, 0)
	require.Error(t, err)
}
