package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/store/mem"
	"github.com/nextlevelbuilder/mercabot/internal/turn"
)

const user = "5511977776666"

type recorder struct {
	mu    sync.Mutex
	texts []string
	ch    chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 16)} }

func (r *recorder) Process(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	r.ch <- text
	return nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitText(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for turn")
		return ""
	}
}

func fastConfig(poll time.Duration) AggregatorConfig {
	return AggregatorConfig{PollInterval: poll, SettleThreshold: 3, RearmAfterTurn: true}
}

type harness struct {
	buf  *mem.Buffer
	cd   *mem.Cooldowns
	ls   *mem.Leases
	agg  *Aggregator
	disp *Dispatcher
}

func newHarness(t *testing.T, h Handler, poll time.Duration) *harness {
	t.Helper()
	x := &harness{buf: mem.NewBuffer(), cd: mem.NewCooldowns(), ls: mem.NewLeases()}
	x.agg = NewAggregator(x.buf, x.ls, h, fastConfig(poll))
	x.disp = NewDispatcher(x.buf, x.cd, x.agg, h)
	t.Cleanup(x.agg.Close)
	return x
}

func TestJoinFragments(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"Hello", "  ", "how much is rice"}, "Hello how much is rice"},
		{[]string{"", "\n", "\t"}, ""},
		{nil, ""},
		{[]string{"um"}, "um"},
	}
	for _, tc := range cases {
		if got := JoinFragments(tc.in); got != tc.want {
			t.Fatalf("JoinFragments(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestDispatcher_BlankFragmentScenario(t *testing.T) {
	rec := newRecorder()
	x := newHarness(t, rec, 10*time.Millisecond)

	for _, f := range []string{"Hello", "  ", "how much is rice"} {
		status, err := x.disp.OnFragment(context.Background(), user, f)
		if err != nil || status != StatusBuffering {
			t.Fatalf("expected buffering, got %q (err %v)", status, err)
		}
	}
	if got := waitText(t, rec.ch); got != "Hello how much is rice" {
		t.Fatalf("expected joined text, got %q", got)
	}
}

func TestAggregator_DebounceConvergence(t *testing.T) {
	rec := newRecorder()
	x := newHarness(t, rec, 20*time.Millisecond)

	var want []string
	for i := 0; i < 10; i++ {
		f := fmt.Sprintf("f%d", i)
		want = append(want, f)
		if _, err := x.disp.OnFragment(context.Background(), user, f); err != nil {
			t.Fatalf("OnFragment: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if got := waitText(t, rec.ch); got != strings.Join(want, " ") {
		t.Fatalf("expected all fragments in one turn, got %q", got)
	}
	time.Sleep(150 * time.Millisecond)
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("expected exactly one turn, got %d", n)
	}
}

func TestAggregator_AtMostOneWatcher(t *testing.T) {
	x := newHarness(t, newRecorder(), time.Hour)
	x.buf.Push(context.Background(), user, "oi")

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := x.agg.Arm(context.Background(), user); err == nil && ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 1 {
		t.Fatalf("expected one watcher, got %d", started.Load())
	}
}

func TestAggregator_EmptyDrainRunsNoTurn(t *testing.T) {
	rec := newRecorder()
	x := newHarness(t, rec, 5*time.Millisecond)
	x.disp.OnFragment(context.Background(), user, "   ")

	x.agg.Wait()
	if n := len(rec.calls()); n != 0 {
		t.Fatalf("expected no turn, got %d", n)
	}
	if ok, _ := x.ls.TryAcquire(context.Background(), user, "other", time.Minute); !ok {
		t.Fatal("expected lease released after empty drain")
	}
}

func TestAggregator_PanicReleasesLease(t *testing.T) {
	h := HandlerFunc(func(context.Context, string, string) error { panic("boom") })
	x := newHarness(t, h, 5*time.Millisecond)
	x.disp.OnFragment(context.Background(), user, "oi")

	x.agg.Wait()
	if ok, _ := x.ls.TryAcquire(context.Background(), user, "other", time.Minute); !ok {
		t.Fatal("expected lease released after panic")
	}
}

func TestDispatcher_CooldownOnlyBuffers(t *testing.T) {
	rec := newRecorder()
	x := newHarness(t, rec, 5*time.Millisecond)
	x.cd.Acquire(context.Background(), user, "other-turn", time.Minute)

	status, err := x.disp.OnFragment(context.Background(), user, "mais uma coisa")
	if err != nil || status != StatusCooldown {
		t.Fatalf("expected cooldown, got %q (err %v)", status, err)
	}
	if n, _ := x.buf.Len(context.Background(), user); n != 1 {
		t.Fatalf("expected fragment buffered, got %d", n)
	}
	if ok, _ := x.ls.TryAcquire(context.Background(), user, "checker", time.Minute); !ok {
		t.Fatal("expected no watcher started during cooldown")
	}
}

type downBuffer struct{ *mem.Buffer }

func (downBuffer) Push(context.Context, string, string) error { return store.ErrUnavailable }

func TestDispatcher_BufferUnavailableProcessesImmediately(t *testing.T) {
	rec := newRecorder()
	buf := downBuffer{mem.NewBuffer()}
	agg := NewAggregator(buf, mem.NewLeases(), rec, fastConfig(time.Hour))
	t.Cleanup(agg.Close)
	d := NewDispatcher(buf, mem.NewCooldowns(), agg, rec)

	status, err := d.OnFragment(context.Background(), user, "oi")
	if err != nil || status != StatusProcessing {
		t.Fatalf("expected processing, got %q (err %v)", status, err)
	}
	if got := waitText(t, rec.ch); got != "oi" {
		t.Fatalf("expected immediate turn with raw text, got %q", got)
	}
}

func TestDispatcher_BufferUnavailableDuringCooldownDrops(t *testing.T) {
	rec := newRecorder()
	buf := downBuffer{mem.NewBuffer()}
	cd := mem.NewCooldowns()
	cd.Acquire(context.Background(), user, "other-turn", time.Minute)
	agg := NewAggregator(buf, mem.NewLeases(), rec, fastConfig(time.Hour))
	t.Cleanup(agg.Close)

	status, _ := NewDispatcher(buf, cd, agg, rec).OnFragment(context.Background(), user, "oi")
	agg.Wait()
	if status != StatusCooldown || len(rec.calls()) != 0 {
		t.Fatalf("expected cooldown status and no turn, got %q with %d turns", status, len(rec.calls()))
	}
}

func TestDispatcher_EmptyUser(t *testing.T) {
	x := newHarness(t, newRecorder(), time.Hour)
	if _, err := x.disp.OnFragment(context.Background(), "", "oi"); err != ErrEmptyUser {
		t.Fatalf("expected ErrEmptyUser, got %v", err)
	}
}

func TestAggregator_RequeuesWhenTurnBusy(t *testing.T) {
	var calls atomic.Int32
	got := make(chan string, 4)
	h := HandlerFunc(func(_ context.Context, _ string, text string) error {
		if calls.Add(1) == 1 {
			return turn.ErrTurnInProgress
		}
		got <- text
		return nil
	})
	x := newHarness(t, h, 5*time.Millisecond)
	x.disp.OnFragment(context.Background(), user, "quero pão")

	if s := waitText(t, got); s != "quero pão" {
		t.Fatalf("expected requeued text, got %q", s)
	}
}

func TestAggregator_RearmsAfterTurn(t *testing.T) {
	got := make(chan string, 4)
	var x *harness
	var once sync.Once
	h := HandlerFunc(func(ctx context.Context, userID, text string) error {
		// A fragment arriving while the turn is running.
		once.Do(func() { x.buf.Push(ctx, userID, "e leite") })
		got <- text
		return nil
	})
	x = newHarness(t, h, 5*time.Millisecond)
	x.disp.OnFragment(context.Background(), user, "quero pão")

	if s := waitText(t, got); s != "quero pão" {
		t.Fatalf("expected first turn, got %q", s)
	}
	if s := waitText(t, got); s != "e leite" {
		t.Fatalf("expected re-armed turn with pending fragment, got %q", s)
	}
}

func TestArmAfterClose(t *testing.T) {
	x := newHarness(t, newRecorder(), time.Hour)
	x.agg.Close()
	if ok, err := x.agg.Arm(context.Background(), user); ok || err == nil {
		t.Fatalf("expected arm refused after close, got ok=%v err=%v", ok, err)
	}
}

func TestAggregator_SettlesNoEarlierThanThresholdAfterLastFragment(t *testing.T) {
	const poll = 40 * time.Millisecond
	type fired struct {
		text string
		at   time.Time
	}
	got := make(chan fired, 4)
	h := HandlerFunc(func(_ context.Context, _ string, text string) error {
		got <- fired{text: text, at: time.Now()}
		return nil
	})
	x := newHarness(t, h, poll)

	start := time.Now()
	for i, f := range []string{"a", "b", "c"} {
		if i > 0 {
			time.Sleep(poll)
		}
		if _, err := x.disp.OnFragment(context.Background(), user, f); err != nil {
			t.Fatalf("OnFragment: %v", err)
		}
	}

	var fire fired
	select {
	case fire = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for turn")
	}
	// Last fragment at >= 2 polls, then 3 unchanged polls.
	if elapsed := fire.at.Sub(start); elapsed < 5*poll {
		t.Fatalf("expected turn no earlier than %v, fired after %v", 5*poll, elapsed)
	}
	if fire.text != "a b c" {
		t.Fatalf("expected %q, got %q", "a b c", fire.text)
	}
}

func TestAggregator_CloseRequeuesUnstartedTurn(t *testing.T) {
	entered := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, _ string, _ string) error {
		close(entered)
		<-ctx.Done()
		return fmt.Errorf("%w: %w", turn.ErrTurnNotStarted, ctx.Err())
	})
	x := newHarness(t, h, 5*time.Millisecond)
	x.disp.OnFragment(context.Background(), user, "quero")
	x.disp.OnFragment(context.Background(), user, "pão")

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for turn")
	}
	x.agg.Close()

	left, err := x.buf.Drain(context.Background(), user)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(left) != 1 || left[0] != "quero pão" {
		t.Fatalf("expected unstarted text back in the buffer, got %q", left)
	}
}
