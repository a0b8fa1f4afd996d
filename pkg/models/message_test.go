package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestChannelValues(t *testing.T) {
	tests := []struct {
		channel Channel
		want    string
	}{
		{ChannelWidget, "widget"},
		{ChannelEmail, "email"},
		{ChannelAPI, "api"},
	}
	for _, tt := range tests {
		if string(tt.channel) != tt.want {
			t.Errorf("channel = %q, want %q", tt.channel, tt.want)
		}
	}
}

func TestMessageJSONOmitsEmptyMeta(t *testing.T) {
	msg := Message{ID: "m1", ConversationID: "c1", Role: RoleUser, Content: "hi"}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "meta") {
		t.Errorf("empty meta should be omitted: %s", b)
	}

	msg.Meta = &MessageMeta{ToolName: "book_table", ToolCallID: "call-1"}
	b, err = json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"tool_name":"book_table"`) {
		t.Errorf("meta missing: %s", b)
	}
}
