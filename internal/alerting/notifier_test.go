package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testMsg = Message{Title: "Bitfinex USD Funding Update", Body: "lending activated at 12.5% APR"}

func TestTelegramNotify(t *testing.T) {
	var captured map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken123/sendMessage") {
			t.Errorf("请求路径不正确: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "chat-42", srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testMsg); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}
	if captured["chat_id"] != "chat-42" {
		t.Fatalf("chat_id 不正确: %s", captured["chat_id"])
	}
	if !strings.Contains(captured["text"], testMsg.Body) {
		t.Fatalf("消息正文缺失: %s", captured["text"])
	}
}

func TestTelegramNotifyAPIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "description": "chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testMsg); err == nil {
		t.Fatal("ok=false 应视为发送失败")
	}
}

func TestTelegramNotifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testMsg); err == nil {
		t.Fatal("非 2xx 响应应视为发送失败")
	}
}

func TestDiscordNotify(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testMsg); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}
	if !strings.Contains(payload["content"], testMsg.Title) {
		t.Fatalf("content 缺少标题: %s", payload["content"])
	}
}

func TestSlackNotify(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testMsg); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}
	if !strings.Contains(payload["text"], testMsg.Body) {
		t.Fatalf("text 缺少正文: %s", payload["text"])
	}
}

func TestEmailNotify(t *testing.T) {
	var sentTo []string
	var sentBody string
	n := NewEmailNotifier(EmailOptions{
		Host: "mail.example.com",
		Port: 587,
		From: "monitor@example.com",
		To:   "ops@example.com",
	}, zerolog.Nop())
	n.sendFn = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "mail.example.com:587" {
			t.Errorf("SMTP 地址不正确: %s", addr)
		}
		if a != nil {
			t.Error("未配置用户名时不应使用认证")
		}
		sentTo = to
		sentBody = string(msg)
		return nil
	}

	if err := n.Notify(context.Background(), testMsg); err != nil {
		t.Fatalf("发送不应失败: %v", err)
	}
	if len(sentTo) != 1 || sentTo[0] != "ops@example.com" {
		t.Fatalf("收件人不正确: %v", sentTo)
	}
	if !strings.Contains(sentBody, "Subject: "+testMsg.Title) {
		t.Fatal("邮件缺少主题")
	}
	if !strings.Contains(sentBody, testMsg.Body) {
		t.Fatal("邮件缺少正文")
	}
}

type stubChannel struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Notify(ctx context.Context, msg Message) error {
	s.calls.Add(1)
	return s.err
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", err: errors.New("webhook down")}
	other := &stubChannel{name: "other"}

	f := NewFanout([]Notifier{ok, bad, other}, zerolog.Nop())
	err := f.Notify(context.Background(), testMsg)
	if err == nil {
		t.Fatal("有通道失败时应返回合并错误")
	}
	if ok.calls.Load() != 1 || other.calls.Load() != 1 {
		t.Fatal("失败的通道不应阻断其他通道")
	}
	if bad.calls.Load() != 1 {
		t.Fatal("失败的通道也应被调用一次")
	}
}

func TestFanoutEmptyIsNoop(t *testing.T) {
	f := NewFanout(nil, zerolog.Nop())
	if f.Channels() != 0 {
		t.Fatalf("空 fanout 不应有通道, 实际 %d", f.Channels())
	}
	if err := f.Notify(context.Background(), testMsg); err != nil {
		t.Fatalf("空 fanout 不应报错: %v", err)
	}
}
