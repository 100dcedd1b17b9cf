package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
)

type recordingSender struct {
	contents []string
	fail     error
}

func (s *recordingSender) Send(_ context.Context, content string) error {
	if s.fail != nil {
		return s.fail
	}
	s.contents = append(s.contents, content)
	return nil
}

type recordingSlackSender struct {
	channels []string
}

func (s *recordingSlackSender) Send(_ context.Context, channel, _ string) error {
	s.channels = append(s.channels, channel)
	return nil
}

func paymentEvent() Event {
	return Event{
		Code:        xerrors.Code("EXECUTION_FAILURE"),
		Message:     "signer unreachable",
		Severity:    xerrors.SeverityCritical,
		IntentID:    "intent-1",
		PrincipalID: "agent-1",
		AmountSats:  700,
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestFanoutNotifiesAllChannels(t *testing.T) {
	dingtalk := &recordingSender{}
	slack := &recordingSlackSender{}
	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: dingtalk},
		&SlackNotifier{Sender: slack, ChannelID: "#payments"},
	)

	if err := dispatcher.Notify(context.Background(), paymentEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(dingtalk.contents) != 1 {
		t.Fatalf("expected 1 dingtalk message, got %d", len(dingtalk.contents))
	}
	if len(slack.channels) != 1 || slack.channels[0] != "#payments" {
		t.Fatalf("unexpected slack deliveries: %v", slack.channels)
	}
}

func TestFanoutCollectsChannelErrors(t *testing.T) {
	failure := errors.New("webhook down")
	dispatcher := NewFanout(&DingTalkNotifier{Sender: &recordingSender{fail: failure}})

	err := dispatcher.Notify(context.Background(), paymentEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, failure) {
		t.Fatalf("expected wrapped channel error, got %v", err)
	}
}

func TestUnconfiguredNotifierIsSkipped(t *testing.T) {
	dispatcher := NewFanout(&SlackNotifier{})
	if err := dispatcher.Notify(context.Background(), paymentEvent()); err != nil {
		t.Fatalf("unconfigured notifier must not fail dispatch: %v", err)
	}
}
