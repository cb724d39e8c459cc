package chain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateAgreement_Mined(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("authorization") != "Bearer tok_gw" {
			t.Errorf("missing bearer, got %q", r.Header.Get("authorization"))
		}
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"status":"MINED","tx_hash":"0xabc123"}`))
	}))
	defer srv.Close()

	c := NewGateway(srv.URL, "tok_gw")
	rcpt, err := c.CreateAgreement(context.Background(), "prp_1", "0xpayer", "0xpayee", 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rcpt.TxRef != "0xabc123" {
		t.Fatalf("tx ref = %q", rcpt.TxRef)
	}
	if gotPath != "/escrow/agreements" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestReleaseAgreement_Reverted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(400)
		w.Write([]byte(`{"status":"REVERTED","reason":"agreement not confirmed"}`))
	}))
	defer srv.Close()

	c := NewGateway(srv.URL, "")
	_, err := c.ReleaseAgreement(context.Background(), "prp_1")
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.Reason != "agreement not confirmed" {
		t.Fatalf("reason = %q", rej.Reason)
	}
}

func TestSubmit_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	c := NewGateway(srv.URL, "")
	_, err := c.CreateAgreement(context.Background(), "prp_1", "a", "b", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubmit_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewGateway(srv.URL, "")
	err := c.ConfirmWorkDone(context.Background(), "prp_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
