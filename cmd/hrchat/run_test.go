package main

import (
	"testing"
	"time"

	"hrchat/internal/conversation"
)

func TestGreetingDelay(t *testing.T) {
	if got := greetingDelay(0); got != conversation.NoGreetingDelay {
		t.Fatalf("0ms must disable the delay, got %v", got)
	}
	if got := greetingDelay(250); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
}
