package websocket

import (
	"strings"
	"sync"
	"testing"
	"time"

	"cryptoarb/internal/models"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginCheckerCheck(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true}, // не-браузерные клиенты
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginCheckerAllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}

	for _, origin := range []string{
		"http://localhost:3000",
		"https://evil.com",
		"http://anything.example.org",
	} {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHubBroadcastDelivers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	detail := &models.OpportunityDetail{
		ID:           42,
		MainPair:     "BTC/USDT",
		ProfitMargin: 0.005,
		Volume:       1000,
	}
	hub.NotifyOpportunity(detail)

	select {
	case msg := <-client.send:
		s := string(msg)
		if !strings.Contains(s, `"type":"opportunity"`) {
			t.Errorf("message type missing: %s", s)
		}
		if !strings.Contains(s, `"id":42`) {
			t.Errorf("opportunity id missing: %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast message was not delivered")
	}

	hub.unregister <- client
}

func TestHubBroadcastNonBlocking(t *testing.T) {
	hub := NewHub()
	// Run не запущен: канал рассылки заполняется и начинает отбрасывать
	for i := 0; i < 1000; i++ {
		hub.BroadcastExecution(int64(i), models.OppExecuting)
	}

	if hub.DroppedMessages() == 0 {
		t.Error("expected dropped messages with a stalled hub")
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHubConcurrentOperations(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.BroadcastExecution(int64(id), models.OppDetected)
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
