package conversation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticIdentity domain.Identity

func (s staticIdentity) Identity() domain.Identity { return domain.Identity(s) }

type fakeAnswers struct {
	mu    sync.Mutex
	resp  *domain.AnswerResponse
	err   error
	reqs  []domain.AnswerRequest
	block chan struct{} // when set, Ask waits for it to close
}

func (f *fakeAnswers) Ask(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.resp, f.err
}

func (f *fakeAnswers) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.WidgetEvent
}

func (r *recordingSink) Emit(ev domain.WidgetEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recordingSink) alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == domain.EventAlert {
			out = append(out, ev.Alert)
		}
	}
	return out
}

var resolved = staticIdentity{CompanyName: "acme", ClientName: "acme-hr"}

func newActive(t *testing.T, id domain.IdentitySource, answers domain.AnswerService, sink domain.EventSink) *Controller {
	t.Helper()
	c := NewController(ControllerConfig{
		Identity:      id,
		Answers:       answers,
		Sink:          sink,
		GreetingDelay: NoGreetingDelay,
		Logger:        testLogger(),
	})
	if err := c.StartConversation(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func transcript(c *Controller) []domain.ChatMessage {
	return slices.Collect(c.Transcript())
}

func TestStartConversation_PostsGreeting(t *testing.T) {
	sink := &recordingSink{}
	c := NewController(ControllerConfig{Sink: sink, GreetingDelay: NoGreetingDelay, Logger: testLogger()})
	if c.Mode() != domain.ModeWelcome {
		t.Fatalf("expected welcome mode, got %s", c.Mode())
	}
	if err := c.StartConversation(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	msgs := transcript(c)
	if len(msgs) != 1 || !msgs[0].IsBot || msgs[0].Text != config.DefaultCopy().Greeting {
		t.Fatalf("expected scripted greeting, got %+v", msgs)
	}
	if c.Mode() != domain.ModeActive || c.Pending() {
		t.Fatalf("expected active and not pending, got %s pending=%v", c.Mode(), c.Pending())
	}
	want := []domain.EventKind{domain.EventMode, domain.EventPending, domain.EventMessage, domain.EventPending}
	if !slices.Equal(sink.kinds(), want) {
		t.Fatalf("expected events %v, got %v", want, sink.kinds())
	}
}

func TestStartConversation_PendingDuringDelay(t *testing.T) {
	c := NewController(ControllerConfig{GreetingDelay: 50 * time.Millisecond, Logger: testLogger()})
	done := make(chan struct{})
	go func() {
		c.StartConversation(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Mode() != domain.ModeActive && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !c.Pending() {
		t.Fatal("expected pending while the greeting is delayed")
	}
	<-done
	if c.Pending() {
		t.Fatal("pending should be cleared after the greeting")
	}
}

func TestStartConversation_SecondCallIsNoOp(t *testing.T) {
	c := newActive(t, resolved, &fakeAnswers{}, nil)
	if err := c.StartConversation(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if n := len(transcript(c)); n != 1 {
		t.Fatalf("expected a single greeting, got %d messages", n)
	}
	if c.Mode() != domain.ModeActive {
		t.Fatal("mode should stay active")
	}
}

func TestStartConversation_ContextCancelledSkipsGreeting(t *testing.T) {
	c := NewController(ControllerConfig{GreetingDelay: time.Hour, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.StartConversation(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(transcript(c)) != 0 || c.Pending() {
		t.Fatal("expected empty transcript and no pending")
	}
	if c.Mode() != domain.ModeActive {
		t.Fatal("mode should still be active")
	}
}

func TestSubmitQuestion_AppendsUserThenAnswer(t *testing.T) {
	answers := &fakeAnswers{resp: &domain.AnswerResponse{Answer: "You get 20 PTO days"}}
	c := newActive(t, resolved, answers, nil)

	if err := c.SubmitQuestion(context.Background(), "How many PTO days?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	msgs := transcript(c)
	if len(msgs) != 3 {
		t.Fatalf("expected greeting + 2 messages, got %d", len(msgs))
	}
	if msgs[1] != (domain.ChatMessage{Text: "How many PTO days?"}) {
		t.Fatalf("unexpected user message %+v", msgs[1])
	}
	if msgs[2] != (domain.ChatMessage{Text: "You get 20 PTO days", IsBot: true}) {
		t.Fatalf("unexpected bot message %+v", msgs[2])
	}
	req := answers.reqs[0]
	if req.Question != "How many PTO days?" || req.CompanyName != "acme" || req.ClientName != "acme-hr" {
		t.Fatalf("unexpected request %+v", req)
	}
	if c.Pending() {
		t.Fatal("pending should be cleared")
	}
}

func TestSubmitQuestion_MissingAnswerUsesFallback(t *testing.T) {
	for name, resp := range map[string]*domain.AnswerResponse{
		"empty object": {},
		"nil response": nil,
	} {
		t.Run(name, func(t *testing.T) {
			c := newActive(t, resolved, &fakeAnswers{resp: resp}, nil)
			c.SubmitQuestion(context.Background(), "anything?")
			msgs := transcript(c)
			if got := msgs[len(msgs)-1].Text; got != "Sorry, I couldn't find an answer." {
				t.Fatalf("unexpected fallback %q", got)
			}
		})
	}
}

func TestSubmitQuestion_TransportFailure(t *testing.T) {
	c := newActive(t, resolved, &fakeAnswers{err: errors.New("connection refused")}, nil)

	if err := c.SubmitQuestion(context.Background(), "hello"); err != nil {
		t.Fatalf("failures are recovered locally, got %v", err)
	}
	msgs := transcript(c)
	if len(msgs) != 3 {
		t.Fatalf("expected user + failure message, got %d", len(msgs))
	}
	last := msgs[2]
	if !last.IsBot || last.Text != "Oops! Something went wrong. Please try again later." {
		t.Fatalf("unexpected failure message %+v", last)
	}
	if c.Pending() {
		t.Fatal("pending should return to false after failure")
	}
}

func TestSubmitQuestion_TwoEntriesPerRoundTrip(t *testing.T) {
	answers := &fakeAnswers{resp: &domain.AnswerResponse{Answer: "ok"}}
	c := newActive(t, resolved, answers, nil)
	base := len(transcript(c))

	for i := 1; i <= 5; i++ {
		if i == 3 {
			answers.err = errors.New("boom")
		} else {
			answers.err = nil
		}
		c.SubmitQuestion(context.Background(), "q")
		if got := len(transcript(c)); got != base+2*i {
			t.Fatalf("after %d submissions expected %d entries, got %d", i, base+2*i, got)
		}
	}
}

func TestSubmitQuestion_BlankIsNoOp(t *testing.T) {
	answers := &fakeAnswers{}
	sink := &recordingSink{}
	c := newActive(t, resolved, answers, sink)
	before := len(sink.kinds())

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := c.SubmitQuestion(context.Background(), text); err != nil {
			t.Fatalf("blank submit returned %v", err)
		}
	}
	if len(transcript(c)) != 1 || answers.calls() != 0 {
		t.Fatal("blank text must not mutate the transcript or send a request")
	}
	if len(sink.kinds()) != before {
		t.Fatal("blank text must not emit events")
	}
}

func TestSubmitQuestion_UnresolvedIdentity(t *testing.T) {
	for name, id := range map[string]domain.IdentitySource{
		"no client":  staticIdentity{CompanyName: "acme"},
		"no company": staticIdentity{ClientName: "acme-hr"},
		"no source":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			answers := &fakeAnswers{}
			sink := &recordingSink{}
			c := newActive(t, id, answers, sink)

			err := c.SubmitQuestion(context.Background(), "hello")
			if !errors.Is(err, ErrIdentityUnresolved) {
				t.Fatalf("expected ErrIdentityUnresolved, got %v", err)
			}
			if len(transcript(c)) != 1 || answers.calls() != 0 {
				t.Fatal("unresolved identity must not mutate the transcript or send a request")
			}
			alerts := sink.alerts()
			if len(alerts) != 1 || alerts[0] != "Client or Company not identified. Please contact support." {
				t.Fatalf("expected one identity alert, got %v", alerts)
			}
		})
	}
}

func TestSubmitQuestion_BeforeStart(t *testing.T) {
	answers := &fakeAnswers{}
	c := NewController(ControllerConfig{Identity: resolved, Answers: answers, Logger: testLogger()})
	if err := c.SubmitQuestion(context.Background(), "hi"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if answers.calls() != 0 || len(transcript(c)) != 0 {
		t.Fatal("welcome mode must not accept questions")
	}
}

func TestSubmitQuestion_RejectsWhilePending(t *testing.T) {
	answers := &fakeAnswers{resp: &domain.AnswerResponse{Answer: "first"}, block: make(chan struct{})}
	sink := &recordingSink{}
	c := newActive(t, resolved, answers, sink)

	done := make(chan error, 1)
	go func() { done <- c.SubmitQuestion(context.Background(), "first?") }()

	deadline := time.Now().Add(time.Second)
	for answers.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := c.SubmitQuestion(context.Background(), "second?"); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
	close(answers.block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}

	msgs := transcript(c)
	if len(msgs) != 3 || msgs[1].Text != "first?" || msgs[2].Text != "first" {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
	if answers.calls() != 1 {
		t.Fatalf("expected a single request, got %d", answers.calls())
	}
}

func TestSubmitQuestion_LateReplyAfterCloseIgnored(t *testing.T) {
	answers := &fakeAnswers{resp: &domain.AnswerResponse{Answer: "late"}, block: make(chan struct{})}
	c := newActive(t, resolved, answers, nil)

	done := make(chan error, 1)
	go func() { done <- c.SubmitQuestion(context.Background(), "q") }()
	deadline := time.Now().Add(time.Second)
	for answers.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Close()
	close(answers.block)

	if err := <-done; err != nil {
		t.Fatalf("late reply should be dropped silently, got %v", err)
	}
	msgs := transcript(c)
	if len(msgs) != 2 || msgs[1].Text != "q" {
		t.Fatalf("late reply must not be appended: %+v", msgs)
	}
	if err := c.SubmitQuestion(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitInput_ClearsDraft(t *testing.T) {
	c := newActive(t, resolved, &fakeAnswers{resp: &domain.AnswerResponse{Answer: "a"}}, nil)
	c.SetInput("  where is the handbook?  ")
	if err := c.SubmitInput(context.Background()); err != nil {
		t.Fatalf("submit input: %v", err)
	}
	st := c.State()
	if st.Input != "" {
		t.Fatalf("input should be cleared, got %q", st.Input)
	}
	if st.Messages[1].Text != "  where is the handbook?  " {
		t.Fatalf("user text should be kept as typed, got %q", st.Messages[1].Text)
	}
	if st.Identity != domain.Identity(resolved) {
		t.Fatalf("unexpected identity in state %+v", st.Identity)
	}
}

func TestSubmitInput_UnresolvedKeepsDraft(t *testing.T) {
	c := newActive(t, staticIdentity{}, &fakeAnswers{}, nil)
	c.SetInput("hello")
	c.SubmitInput(context.Background())
	if c.State().Input != "hello" {
		t.Fatal("draft should survive a rejected submission")
	}
}

func TestTranscript_Restartable(t *testing.T) {
	c := newActive(t, resolved, &fakeAnswers{resp: &domain.AnswerResponse{Answer: "a"}}, nil)
	seq := c.Transcript()

	first := slices.Collect(seq)
	c.SubmitQuestion(context.Background(), "q")
	second := slices.Collect(seq)

	if len(first) != 1 || len(second) != 3 {
		t.Fatalf("expected 1 then 3 entries, got %d and %d", len(first), len(second))
	}
	for m := range seq {
		if !m.IsBot {
			t.Fatalf("early break should stop at first entry, got %+v", m)
		}
		break
	}
}

func TestState_SnapshotIsIndependent(t *testing.T) {
	c := newActive(t, resolved, &fakeAnswers{}, nil)
	st := c.State()
	st.Messages[0].Text = "changed"
	if transcript(c)[0].Text == "changed" {
		t.Fatal("state snapshot must not alias the transcript")
	}
}

func TestCustomCopy(t *testing.T) {
	cp := config.DefaultCopy()
	cp.Greeting = "Hi from Acme"
	cp.Failure = "Acme is down"
	c := NewController(ControllerConfig{
		Identity:      resolved,
		Answers:       &fakeAnswers{err: errors.New("x")},
		Copy:          &cp,
		GreetingDelay: NoGreetingDelay,
		Logger:        testLogger(),
	})
	c.StartConversation(context.Background())
	c.SubmitQuestion(context.Background(), "q")

	msgs := transcript(c)
	if msgs[0].Text != "Hi from Acme" || msgs[2].Text != "Acme is down" {
		t.Fatalf("custom copy not used: %+v", msgs)
	}
}

func TestNewController_GreetingDelay(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultGreetingDelay},
		{NoGreetingDelay, 0},
		{250 * time.Millisecond, 250 * time.Millisecond},
	}
	for _, tc := range cases {
		c := NewController(ControllerConfig{GreetingDelay: tc.in, Logger: testLogger()})
		if c.delay != tc.want {
			t.Errorf("GreetingDelay %v: expected %v, got %v", tc.in, tc.want, c.delay)
		}
	}
}

func TestSubmitQuestion_KeepsNewerDraft(t *testing.T) {
	answers := &fakeAnswers{resp: &domain.AnswerResponse{Answer: "ok"}}
	c := newActive(t, resolved, answers, nil)
	c.SetInput("second")
	if err := c.SubmitQuestion(context.Background(), "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := c.Input(); got != "second" {
		t.Fatalf("draft typed after the question must survive, got %q", got)
	}
	c.SetInput("third")
	if err := c.SubmitInput(context.Background()); err != nil {
		t.Fatalf("submit input: %v", err)
	}
	if got := c.Input(); got != "" {
		t.Fatalf("submitted draft must be cleared, got %q", got)
	}
}
