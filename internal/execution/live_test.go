package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aristath/cryptocore/internal/errs"
	"github.com/aristath/cryptocore/pkg/types"
)

func testSecret() string {
	return base64.StdEncoding.EncodeToString([]byte("super-secret-key-material"))
}

func TestLiveAdapterSignsRequestsCorrectly(t *testing.T) {
	secret := testSecret()
	decoded, _ := base64.StdEncoding.DecodeString(secret)

	var gotSig, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSig = r.Header.Get("API-Sign")
		gotKey = r.Header.Get("API-Key")
		w.Write([]byte(`{"error":[],"result":{"txid":["OABC-1234"]}}`))
	}))
	defer srv.Close()

	adapter, err := NewLiveAdapter(types.ExchangeConfig{
		Name: "kraken", RESTBaseURL: srv.URL, APIKey: "my-key", APISecret: secret, RESTRateLimit: 20,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLiveAdapter: %v", err)
	}

	order := types.Order{Symbol: "BTC/USD", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: decimal.RequireFromString("0.1")}
	id, err := adapter.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "OABC-1234" {
		t.Fatalf("expected txid OABC-1234, got %s", id)
	}
	if gotKey != "my-key" {
		t.Fatalf("expected API-Key header to be forwarded, got %q", gotKey)
	}

	values, err := url.ParseQuery(gotBody)
	if err != nil {
		t.Fatalf("parsing captured body: %v", err)
	}
	nonce := values.Get("nonce")
	if nonce == "" {
		t.Fatalf("expected a nonce in the signed body")
	}

	shaSum := sha256.Sum256([]byte(nonce + gotBody))
	mac := hmac.New(sha512.New, decoded)
	mac.Write([]byte("/0/private/AddOrder"))
	mac.Write(shaSum[:])
	wantSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if gotSig != wantSig {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, wantSig)
	}
}

func TestLiveAdapterNonceStrictlyIncreasing(t *testing.T) {
	adapter, err := NewLiveAdapter(types.ExchangeConfig{
		Name: "kraken", RESTBaseURL: "http://unused.invalid", APIKey: "k", APISecret: testSecret(), RESTRateLimit: 20,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLiveAdapter: %v", err)
	}

	prev := int64(0)
	for i := 0; i < 1000; i++ {
		n := adapter.nextNonce()
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			t.Fatalf("parsing nonce %q: %v", n, err)
		}
		if parsed <= prev {
			t.Fatalf("nonce did not strictly increase: prev=%d next=%d", prev, parsed)
		}
		prev = parsed
	}
}

func TestLiveAdapterMissingCredentials(t *testing.T) {
	_, err := NewLiveAdapter(types.ExchangeConfig{Name: "kraken", RESTBaseURL: "http://unused.invalid"}, zap.NewNop())
	if err == nil || !errors.Is(err, errs.ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
}

func TestLiveAdapterSurfacesExchangeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":{}}`))
	}))
	defer srv.Close()

	adapter, err := NewLiveAdapter(types.ExchangeConfig{
		Name: "kraken", RESTBaseURL: srv.URL, APIKey: "k", APISecret: testSecret(), RESTRateLimit: 20,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLiveAdapter: %v", err)
	}

	_, err = adapter.PlaceOrder(context.Background(), types.Order{
		Symbol: "BTC/USD", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: decimal.RequireFromString("1"),
	})
	if err == nil || !errors.Is(err, errs.ErrExchangeError) {
		t.Fatalf("expected ErrExchangeError, got %v", err)
	}
}

func TestLiveAdapterRateLimitedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EAPI:Rate limit exceeded"],"result":{}}`))
	}))
	defer srv.Close()

	adapter, err := NewLiveAdapter(types.ExchangeConfig{
		Name: "kraken", RESTBaseURL: srv.URL, APIKey: "k", APISecret: testSecret(), RESTRateLimit: 20,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLiveAdapter: %v", err)
	}

	_, err = adapter.PlaceOrder(context.Background(), types.Order{
		Symbol: "ETH/USD", Side: types.SideSell, Type: types.OrderTypeMarket, Quantity: decimal.RequireFromString("1"),
	})
	if err == nil || !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
