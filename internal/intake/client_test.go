package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/leadmatch/internal/apperr"
)

func TestResolveLead_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/submissions/sub-123" {
			t.Fatalf("path = %s, want /api/submissions/sub-123", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Submission{SubmissionID: "sub-123", LeadID: "lead-9"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	leadID, err := client.ResolveLead(ctx, "sub-123")
	if err != nil {
		t.Fatalf("ResolveLead error: %v", err)
	}
	if leadID != "lead-9" {
		t.Fatalf("leadID = %q, want lead-9", leadID)
	}
}

func TestResolveLead_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	_, err := client.ResolveLead(context.Background(), "sub-404")
	if err != apperr.ErrLeadUnresolved {
		t.Fatalf("err = %v, want ErrLeadUnresolved", err)
	}
}

func TestResolveLead_EmptyLeadID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"submission_id":"sub-1","lead_id":""}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).ResolveLead(context.Background(), "sub-1")
	if err != apperr.ErrLeadUnresolved {
		t.Fatalf("err = %v, want ErrLeadUnresolved", err)
	}
}

func TestResolveLead_TransientStatuses(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(code)
		}))

		_, err := NewClient(ts.URL).ResolveLead(context.Background(), "sub-1")
		ts.Close()

		if apperr.Kind(err) != "TransientError" {
			t.Fatalf("status %d: kind = %q, want TransientError (err %v)", code, apperr.Kind(err), err)
		}
	}
}

func TestNewClient_AddsScheme(t *testing.T) {
	c := NewClient("intake:8081/")
	if c.baseURL != "http://intake:8081" {
		t.Fatalf("baseURL = %q, want http://intake:8081", c.baseURL)
	}
}
