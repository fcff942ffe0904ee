package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithMessageID(t *testing.T) {
	ctx := context.Background()

	newCtx := WithMessageID(ctx, "msg-123")

	if ctx.Value(MessageIDKey) != nil {
		t.Error("original context should not be modified")
	}
	if got := newCtx.Value(MessageIDKey); got != "msg-123" {
		t.Errorf("context value = %v, want %q", got, "msg-123")
	}
}

func TestGetMessageID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{"with message ID", WithMessageID(context.Background(), "msg-999"), "msg-999"},
		{"without message ID", context.Background(), ""},
		{"empty message ID", WithMessageID(context.Background(), ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetMessageID(tt.ctx); got != tt.expected {
				t.Errorf("GetMessageID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetMessageID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), MessageIDKey, 12345)

	if got := GetMessageID(ctx); got != "" {
		t.Errorf("GetMessageID() = %q, want empty for wrong type", got)
	}
}

func TestGetWebhookName(t *testing.T) {
	ctx := WithWebhookName(context.Background(), "orders")

	if got := GetWebhookName(ctx); got != "orders" {
		t.Errorf("GetWebhookName() = %q, want %q", got, "orders")
	}
	if got := GetWebhookName(context.Background()); got != "" {
		t.Errorf("GetWebhookName() on empty context = %q, want empty", got)
	}
}

func TestFromContext_NilContext(t *testing.T) {
	logger := slog.Default()

	//nolint:staticcheck // nil context is the case under test
	if result := FromContext(nil, logger); result != logger {
		t.Error("FromContext with nil context should return original logger")
	}
}

func TestFromContext_Empty(t *testing.T) {
	logger := slog.Default()

	if result := FromContext(context.Background(), logger); result != logger {
		t.Error("FromContext without values should return original logger")
	}
}

func TestFromContext_WithValues(t *testing.T) {
	logger := slog.Default()
	ctx := WithMessageID(context.Background(), "msg-test-123")
	ctx = WithWebhookName(ctx, "orders")

	if result := FromContext(ctx, logger); result == logger {
		t.Error("FromContext with values should return a new logger with attributes")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" debug ", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if logger := New(); logger == nil {
		t.Fatal("New() should return a logger")
	}
}

func TestSetDefault(t *testing.T) {
	logger := SetDefault()
	if logger == nil {
		t.Fatal("SetDefault() should return a logger")
	}
	if slog.Default() == nil {
		t.Error("slog.Default() should not be nil after SetDefault()")
	}
}
