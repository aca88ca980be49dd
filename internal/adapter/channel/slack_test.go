package channel

import (
	"context"
	"testing"
)

func TestSlackChannelName(t *testing.T) {
	ch := NewSlackChannel("bot-token", "app-token", channelTestLogger())
	if ch.Name() != "slack" {
		t.Errorf("Name = %q", ch.Name())
	}
}

func TestSlackOptionMentionOnly(t *testing.T) {
	ch := NewSlackChannel("bot", "app", channelTestLogger(), WithSlackMentionOnly(true))
	if !ch.mentionOnly {
		t.Error("mentionOnly should be true")
	}
}

func TestSlackStopBeforeStart(t *testing.T) {
	ch := NewSlackChannel("bot", "app", channelTestLogger())
	if err := ch.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestSlackTokensStored(t *testing.T) {
	ch := NewSlackChannel("bot", "app", channelTestLogger())
	if ch.botToken != "bot" || ch.appToken != "app" {
		t.Error("tokens not set")
	}
}
