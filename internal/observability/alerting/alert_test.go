package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "TicketChain/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	fail    error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	if n.fail != nil {
		return n.fail
	}
	n.events = append(n.events, event)
	return nil
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	slack := &recordingNotifier{channel: ChannelSlack}
	ding := &recordingNotifier{channel: ChannelDingTalk}
	dispatcher := NewFanout(slack, ding, nil)

	event := Event{
		Code:       xerrors.CodeGatewayUnavailable,
		Message:    "钱包网关连续失败",
		Severity:   xerrors.SeverityWarning,
		IntentID:   "in-1",
		OccurredAt: time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if len(slack.events) != 1 || len(ding.events) != 1 {
		t.Fatalf("事件未投递到所有渠道: slack=%d ding=%d", len(slack.events), len(ding.events))
	}
	if slack.events[0].IntentID != "in-1" {
		t.Fatalf("事件内容不符: %+v", slack.events[0])
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	boom := errors.New("webhook 超时")
	dispatcher := NewFanout(
		&recordingNotifier{channel: ChannelSlack, fail: boom},
		&recordingNotifier{channel: ChannelDingTalk},
	)
	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure})
	if !errors.Is(err, boom) {
		t.Fatalf("应汇总渠道错误, 实际: %v", err)
	}
}

func TestSlackWebhookPostsPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("解析请求失败: %v", err)
		}
	}))
	defer srv.Close()

	sender := &SlackWebhook{URL: srv.URL, Client: srv.Client()}
	if err := sender.Send(context.Background(), "#payments", "结算失败"); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if got["channel"] != "#payments" || got["text"] != "结算失败" {
		t.Fatalf("请求体不符: %+v", got)
	}
}

func TestDingTalkWebhookRejectsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := &DingTalkWebhook{URL: srv.URL, Client: srv.Client()}
	if err := sender.Send(context.Background(), "结算失败"); err == nil {
		t.Fatal("非 2xx 响应应返回错误")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{}
	if n.Channel() != ChannelLog {
		t.Fatalf("渠道 = %s", n.Channel())
	}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeQueueFailure, IntentID: "in-2"}); err != nil {
		t.Fatalf("日志兜底不应失败: %v", err)
	}
}
