package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewPinger_InvalidPeriod(t *testing.T) {
	if _, err := NewPinger("http://localhost", "often", zap.NewNop()); err == nil {
		t.Fatal("Expected error for invalid period, got nil")
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			p, err := NewPinger(server.URL, "1m", zap.NewNop())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			err = p.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestPinger_Schedule(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	p, err := NewPinger(server.URL, "1s", logger)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	p.Start()

	deadline := time.After(3 * time.Second)
	for hits.Load() == 0 {
		select {
		case <-deadline:
			p.Stop()
			t.Fatal("Expected at least one scheduled ping")
		case <-time.After(50 * time.Millisecond):
		}
	}
	p.Stop()
}
