package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		handler(req.Method, w)
	}))
}

func TestTransferSuccess(t *testing.T) {
	srv := rpcServer(t, func(method string, w http.ResponseWriter) {
		if method != "treasury_transfer" {
			t.Errorf("unexpected method %q", method)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"signature":"sig-123"}}`))
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "tok", 0)
	proof, err := client.Transfer(context.Background(), "walletD1", "3", "SOL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof != "sig-123" {
		t.Fatalf("proof = %q", proof)
	}
}

func TestTransferRejected(t *testing.T) {
	srv := rpcServer(t, func(method string, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32050,"message":"invalid destination"}}`))
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "", 0)
	_, err := client.Transfer(context.Background(), "bogus", "3", "SOL")
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if IsTransient(err) {
		t.Fatal("rejection must not classify as transient")
	}
}

func TestTransferTransientFailures(t *testing.T) {
	cases := map[string]func(method string, w http.ResponseWriter){
		"http 500": func(_ string, w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"malformed body": func(_ string, w http.ResponseWriter) {
			_, _ = w.Write([]byte(`not json`))
		},
		"empty result": func(_ string, w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1}`))
		},
		"missing signature": func(_ string, w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := rpcServer(t, handler)
			defer srv.Close()
			client := NewRPCClient(srv.URL, "", 0)
			_, err := client.Transfer(context.Background(), "walletD1", "3", "SOL")
			if !IsTransient(err) {
				t.Fatalf("expected transient error, got %v", err)
			}
		})
	}
}

func TestTransferUnreachableEndpoint(t *testing.T) {
	client := NewRPCClient("http://127.0.0.1:1", "", 0)
	_, err := client.Transfer(context.Background(), "walletD1", "3", "SOL")
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestReserveBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, w http.ResponseWriter) {
		if method != "treasury_balance" {
			t.Errorf("unexpected method %q", method)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"amount":"41.5","denomination":"SOL"}}`))
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "", 0)
	balance, err := client.ReserveBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Amount != "41.5" || balance.Denomination != "SOL" {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}
