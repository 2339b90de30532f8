package alerting

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/storage"
)

func sampleNotification() Notification {
	return Notification{
		AlertID:      7,
		Kind:         storage.AlertPriceDrop,
		ProductID:    uuid.New(),
		ProductName:  "Noise Cancelling Headphones",
		ProductURL:   "https://www.amazon.in/dp/B0TEST",
		OwnerID:      "alice",
		OwnerEmail:   "alice@example.com",
		CurrentPrice: decimal.NewFromInt(850),
		Currency:     "INR",
		Threshold:    decimal.NewFromInt(900),
		TriggeredAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "850.00 INR") {
		t.Fatalf("text 应包含当前价格, 实际 %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageDemandSpike(t *testing.T) {
	note := sampleNotification()
	note.Kind = storage.AlertDemandSpike
	note.Threshold = decimal.RequireFromString("0.7")
	score := 0.82
	note.DemandScore = &score

	text := renderMessage(note)
	if !strings.Contains(text, "Demand spike") || !strings.Contains(text, "0.82") {
		t.Fatalf("需求告警文本不完整: %q", text)
	}
}

func TestEmailNotifierRequiresRecipient(t *testing.T) {
	notifier := NewEmailNotifier(EmailOptions{Host: "localhost", From: "tracker@example.com"}, testLogger())
	note := sampleNotification()
	note.OwnerEmail = ""
	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("缺少收件人应报错")
	}
}

func TestEmailNotifierDeliversOverSMTP(t *testing.T) {
	srv := newFakeSMTP(t)
	defer srv.Close()

	notifier := NewEmailNotifier(EmailOptions{
		Host:    "127.0.0.1",
		Port:    srv.Port(),
		From:    "tracker@example.com",
		Timeout: 5 * time.Second,
	}, testLogger())

	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("邮件发送应成功: %v", err)
	}

	data := srv.Data()
	if !strings.Contains(data, "Subject: Price drop: Noise Cancelling Headphones") {
		t.Fatalf("邮件主题缺失: %q", data)
	}
	if !strings.Contains(srv.Recipient(), "alice@example.com") {
		t.Fatalf("收件人不正确: %q", srv.Recipient())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeSMTP accepts exactly one plain-text SMTP session.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	rcpt string
	data strings.Builder
	done chan struct{}
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	s := &fakeSMTP{ln: ln, done: make(chan struct{})}
	go s.serve()
	return s
}

func (s *fakeSMTP) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

func (s *fakeSMTP) Close() { _ = s.ln.Close() }

func (s *fakeSMTP) Recipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rcpt
}

func (s *fakeSMTP) Data() string {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func (s *fakeSMTP) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			s.mu.Lock()
			s.rcpt = strings.TrimSpace(line)
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			for {
				body, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if body == ".\r\n" {
					break
				}
				s.mu.Lock()
				s.data.WriteString(body)
				s.mu.Unlock()
			}
			reply("250 OK")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}
