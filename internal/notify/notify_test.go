package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/schema-evolver/internal/orchestrator"
	"go.uber.org/zap"
)

type fakeChannel struct {
	name  string
	err   error
	posts []string
}

func (f *fakeChannel) Platform() string { return f.name }

func (f *fakeChannel) Post(_ context.Context, text string) error {
	f.posts = append(f.posts, text)
	return f.err
}

func finished() *orchestrator.Event {
	return &orchestrator.Event{
		RunID:         "run-7",
		Kind:          orchestrator.EventRunFinished,
		Status:        orchestrator.StatusConverged,
		Iteration:     3,
		SchemaVersion: "v3",
		OverallScore:  9.41,
		Ready:         true,
	}
}

func TestAnnouncerPostsRunOutcome(t *testing.T) {
	a, b := &fakeChannel{name: "a"}, &fakeChannel{name: "b"}
	ann := NewAnnouncer(false, zap.NewNop(), a, b)

	if err := ann.Publish(context.Background(), finished()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "Run run-7 converged after 3 rounds, best schema v3 at 9.41"
	for _, ch := range []*fakeChannel{a, b} {
		if len(ch.posts) != 1 || ch.posts[0] != want {
			t.Errorf("%s posts = %q, want [%q]", ch.name, ch.posts, want)
		}
	}
}

func TestAnnouncerSkipsIterationsUnlessEnabled(t *testing.T) {
	ev := &orchestrator.Event{RunID: "r", Kind: orchestrator.EventIterationCompleted, Iteration: 2, SchemaVersion: "v2", OverallScore: 8.5}

	quiet := &fakeChannel{name: "quiet"}
	if err := NewAnnouncer(false, zap.NewNop(), quiet).Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(quiet.posts) != 0 {
		t.Errorf("iteration announced with iterations disabled: %q", quiet.posts)
	}

	verbose := &fakeChannel{name: "verbose"}
	if err := NewAnnouncer(true, zap.NewNop(), verbose).Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(verbose.posts) != 1 || verbose.posts[0] != "Run r round 2: schema v2 scored 8.50" {
		t.Errorf("posts = %q", verbose.posts)
	}

	started := &orchestrator.Event{RunID: "r", Kind: orchestrator.EventRunStarted}
	if err := NewAnnouncer(true, zap.NewNop(), verbose).Publish(context.Background(), started); err != nil {
		t.Fatal(err)
	}
	if len(verbose.posts) != 1 {
		t.Errorf("run_started was announced")
	}
}

func TestAnnouncerJoinsChannelErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeChannel{name: "bad", err: boom}
	good := &fakeChannel{name: "good"}
	err := NewAnnouncer(false, zap.NewNop(), bad, good).Publish(context.Background(), finished())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !strings.HasPrefix(err.Error(), "bad: ") {
		t.Errorf("err = %q, want platform prefix", err)
	}
	if len(good.posts) != 1 {
		t.Error("failure on one channel stopped the others")
	}
}

func TestFormatAbortedRun(t *testing.T) {
	ev := &orchestrator.Event{
		RunID:     "run-9",
		Kind:      orchestrator.EventRunFinished,
		Status:    orchestrator.StatusAborted,
		Iteration: 1,
		Message:   "operator abort",
	}
	if got, want := Format(ev), "Run run-9 aborted after 1 rounds: operator abort"; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestSlackChannelPostsMessage(t *testing.T) {
	var channel, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		channel, text = r.FormValue("channel"), r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	ch := NewSlackChannel("xoxb-test", "C123", srv.URL+"/", zap.NewNop())
	if err := ch.Post(context.Background(), "hello"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if channel != "C123" || text != "hello" {
		t.Errorf("posted channel=%q text=%q", channel, text)
	}
}

func TestSlackChannelSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	err := NewSlackChannel("xoxb-test", "C404", srv.URL+"/", zap.NewNop()).Post(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v, want channel_not_found", err)
	}
}
