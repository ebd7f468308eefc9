package channel

import (
	"strings"
	"testing"
	"unicode/utf8"

	"hrchat/internal/bus"
	"hrchat/internal/domain"
)

func newTestRouter(prefix string) (*chatRouter, *bus.InMemoryBus, *[]string) {
	b := bus.New(16, quietLogger())
	r := newChatRouter("discord", prefix, domain.Injected{Company: "acme"}, nil, quietLogger())
	var out []string
	r.send = func(chatID, text string) { out = append(out, chatID+": "+text) }
	r.attach(b)
	return r, b, &out
}

func TestChatRouter_HandleParsesCommands(t *testing.T) {
	r, b, out := newTestRouter("!")

	r.handle("c1", "!help")
	if len(*out) != 1 || !strings.Contains((*out)[0], "!start") {
		t.Fatalf("help should name the prefixed command, got %v", *out)
	}
	r.handle("c1", "  !START now ")
	r.handle("c1", "where is the handbook?")
	r.handle("c1", "!stop")

	actions := drain(b)
	var kinds []domain.ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	want := []domain.ActionKind{domain.ActionOpen, domain.ActionStart, domain.ActionSubmit, domain.ActionClose}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if actions[2].Text != "where is the handbook?" || actions[0].Injected.Company != "acme" {
		t.Fatalf("unexpected actions %+v", actions)
	}
}

func TestChatRouter_UnknownCommand(t *testing.T) {
	r, _, out := newTestRouter("!")
	r.handle("c1", "!dance")
	if len(*out) != 1 || !strings.Contains((*out)[0], "Unknown command") {
		t.Fatalf("unexpected reply %v", *out)
	}
}

func TestChatRouter_ClosedEventForgetsChat(t *testing.T) {
	r, b, out := newTestRouter("!")
	r.handle("c1", "!start")
	if !r.isOpen("c1") {
		t.Fatal("chat should be open after start")
	}
	b.Publish(domain.UserAction{Channel: "discord", SessionID: "c1", Kind: domain.ActionClose})
	b.SendOutbound(domain.WidgetEvent{Channel: "discord", SessionID: "c1", Kind: domain.EventClosed})
	if r.isOpen("c1") {
		t.Fatal("closed event should forget the chat")
	}
	*out = nil
	r.handle("c1", "hello?")
	if len(*out) != 1 || !strings.Contains((*out)[0], "!start") {
		t.Fatalf("expected a start hint, got %v", *out)
	}
}

func TestChatRouter_CloseAll(t *testing.T) {
	r, b, _ := newTestRouter("!")
	r.handle("c1", "!start")
	r.handle("c2", "!start")
	r.closeAll()

	closed := map[string]bool{}
	for _, a := range drain(b) {
		if a.Kind == domain.ActionClose {
			closed[a.SessionID] = true
		}
	}
	if !closed["c1"] || !closed["c2"] {
		t.Fatalf("expected both chats closed, got %v", closed)
	}
}

func TestAllowed(t *testing.T) {
	list := trimAll([]string{" U1 ", "", "U2"})
	if !allowed(list, "U1") || !allowed(list, "U2") || allowed(list, "U3") {
		t.Fatal("allow list not honoured")
	}
	if !allowed(nil, "anyone") {
		t.Fatal("empty allow list should allow everyone")
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
	chunks := splitMessage(text, 100)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 60) {
		t.Fatalf("expected split at newline, got %q", chunks)
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble the text")
	}
	if got := splitMessage(strings.Repeat("c", 250), 100); len(got) != 3 {
		t.Fatalf("expected hard cuts, got %d chunks", len(got))
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	// one leading byte puts every two-byte rune off the cut boundary
	text := "a" + strings.Repeat("é", 3000)
	for _, max := range []int{telegramMaxMsgLen, discordMaxMsgLen, 7} {
		chunks := splitMessage(text, max)
		for i, c := range chunks {
			if !utf8.ValidString(c) {
				t.Fatalf("max %d: chunk %d is not valid UTF-8", max, i)
			}
			if len(c) > max {
				t.Fatalf("max %d: chunk %d has %d bytes", max, i, len(c))
			}
		}
		if strings.Join(chunks, "") != text {
			t.Fatalf("max %d: chunks must reassemble the text", max)
		}
	}

	if got := splitMessage("日本", 1); len(got) != 2 || got[0] != "日" {
		t.Fatalf("a limit below one rune still makes progress, got %q", got)
	}
}
