package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botbridge/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEditor captures every text passed to a message editor.
type recordingEditor struct {
	mu    sync.Mutex
	texts []string
	err   error // returned from every call when set
}

func (r *recordingEditor) edit(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingEditor) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recordingEditor) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

// recordingSender opens recording editors for follow-up messages.
type recordingSender struct {
	mu      sync.Mutex
	editors []*recordingEditor
	err     error
}

func (r *recordingSender) send(_ context.Context, initial string) (domain.MessageEditor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	ed := &recordingEditor{texts: []string{initial}}
	r.editors = append(r.editors, ed)
	return ed.edit, nil
}

func (r *recordingSender) opened() []*recordingEditor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*recordingEditor(nil), r.editors...)
}

type fakeLinker struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
}

func (f *fakeLinker) CreateLink(_ context.Context, _ domain.Platform, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.url, f.err
}

// errorSink records terminal error and auth-prompt displays.
type errorSink struct {
	mu     sync.Mutex
	errors []string
	auths  []string
}

func (s *errorSink) showError(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, text)
}

func (s *errorSink) showAuth(_ context.Context, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths = append(s.auths, url)
}

func scriptedStream(chunks []string, finalText, conversationID string, streamErr error) domain.StreamFn {
	return func(_ context.Context, cb domain.StreamCallbacks) error {
		for _, ch := range chunks {
			cb.OnChunk(ch)
		}
		if streamErr != nil {
			cb.OnError(streamErr)
			return nil
		}
		cb.OnDone(finalText, conversationID)
		return nil
	}
}

func streamingOptions() Options {
	return Options{
		Platform:     domain.PlatformTelegram,
		EditInterval: 20 * time.Millisecond,
		Streaming:    true,
		Limits:       DefaultLimits(),
	}
}

func TestRunFlushesFinalText(t *testing.T) {
	ed := &recordingEditor{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream([]string{"Hel", "lo ", "there"}, "Hello there", "conv-1", nil))

	require.NotEmpty(t, ed.all())
	assert.Equal(t, "Hello there", ed.last())
}

func TestRunReportsConversationID(t *testing.T) {
	ed := &recordingEditor{}
	var gotConv string
	c := NewController(ControllerConfig{
		Options:    streamingOptions(),
		Editor:     ed.edit,
		OnFinished: func(id string) { gotConv = id },
		Logger:     newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream(nil, "hi", "conv-42", nil))

	assert.Equal(t, "conv-42", gotConv)
}

func TestBreakProducesSeparateMessages(t *testing.T) {
	ed := &recordingEditor{}
	sender := &recordingSender{}
	c := NewController(ControllerConfig{
		Options:    streamingOptions(),
		Editor:     ed.edit,
		NewMessage: sender.send,
		Logger:     newTestLogger(),
	})

	full := "A" + BreakMarker + "B" + BreakMarker + "C"
	c.Run(context.Background(), scriptedStream(
		[]string{"A", BreakMarker + "B", BreakMarker + "C"}, full, "conv", nil))

	assert.Equal(t, "A", ed.last())
	opened := sender.opened()
	require.Len(t, opened, 2)
	assert.Equal(t, "B", opened[0].last())
	assert.Equal(t, "C", opened[1].last())

	for _, texts := range [][]string{ed.all(), opened[0].all(), opened[1].all()} {
		for _, text := range texts {
			assert.NotContains(t, text, BreakMarker)
		}
	}
}

func TestBreakWithEmptyRemainderWaitsForText(t *testing.T) {
	ed := &recordingEditor{}
	sender := &recordingSender{}
	c := NewController(ControllerConfig{
		Options:    streamingOptions(),
		Editor:     ed.edit,
		NewMessage: sender.send,
		Logger:     newTestLogger(),
	})

	// The marker arrives with nothing after it; the follow-up message must
	// only open once its first text chunk exists.
	c.Run(context.Background(), scriptedStream(
		[]string{"A" + BreakMarker, "B"}, "A"+BreakMarker+"B", "conv", nil))

	assert.Equal(t, "A", ed.last())
	opened := sender.opened()
	require.Len(t, opened, 1)
	assert.Equal(t, "B", opened[0].last())
}

func TestMarkersStrippedWithoutSender(t *testing.T) {
	ed := &recordingEditor{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	full := "A" + BreakMarker + "B"
	c.Run(context.Background(), scriptedStream([]string{"A", BreakMarker + "B"}, full, "conv", nil))

	assert.Equal(t, "A\n\nB", ed.last())
	for _, text := range ed.all() {
		assert.NotContains(t, text, BreakMarker)
	}
}

func TestNonStreamingOnlyTerminalOutput(t *testing.T) {
	ed := &recordingEditor{}
	opts := streamingOptions()
	opts.Streaming = false
	c := NewController(ControllerConfig{
		Options: opts,
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream([]string{"a", "b", "c", "d"}, "abcd", "conv", nil))

	// No intermediate edits at all, just the terminal flush.
	assert.Equal(t, []string{"abcd"}, ed.all())
}

func TestNonStreamingFinalizationSplitsRetroactively(t *testing.T) {
	ed := &recordingEditor{}
	sender := &recordingSender{}
	opts := streamingOptions()
	opts.Streaming = false
	c := NewController(ControllerConfig{
		Options:    opts,
		Editor:     ed.edit,
		NewMessage: sender.send,
		Logger:     newTestLogger(),
	})

	// Chunks never reveal the marker; only the complete final text does.
	full := "first part" + BreakMarker + "second part"
	c.Run(context.Background(), scriptedStream([]string{"first ", "part"}, full, "conv", nil))

	// Exactly two display calls, one per segment, both via the terminal path.
	assert.Equal(t, []string{"first part"}, ed.all())
	opened := sender.opened()
	require.Len(t, opened, 1)
	assert.Equal(t, []string{"second part"}, opened[0].all())
}

func TestAuthErrorShowsPrompt(t *testing.T) {
	ed := &recordingEditor{}
	sink := &errorSink{}
	linker := &fakeLinker{url: "https://x/y"}
	c := NewController(ControllerConfig{
		Options:     streamingOptions(),
		Editor:      ed.edit,
		AuthLinker:  linker,
		OnAuthError: sink.showAuth,
		OnError:     sink.showError,
		UserID:      "u1",
		Logger:      newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream(nil, "", "", errors.New("not_authenticated")))

	assert.Equal(t, []string{"https://x/y"}, sink.auths)
	assert.Empty(t, sink.errors)
	assert.Equal(t, 1, linker.calls)
}

func TestAuthLinkFailureDegradesToGenericError(t *testing.T) {
	ed := &recordingEditor{}
	sink := &errorSink{}
	linker := &fakeLinker{err: errors.New("backend down")}
	c := NewController(ControllerConfig{
		Options:     streamingOptions(),
		Editor:      ed.edit,
		AuthLinker:  linker,
		OnAuthError: sink.showAuth,
		OnError:     sink.showError,
		Logger:      newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream(nil, "", "", domain.ErrNotAuthenticated))

	assert.Empty(t, sink.auths)
	assert.Equal(t, []string{domain.AuthLinkFailedText}, sink.errors)
}

func TestAuthErrorWithoutLinkerIsGeneric(t *testing.T) {
	// The mention variant has no auth collaborators configured; auth errors
	// go through the shared formatter like any other failure.
	ed := &recordingEditor{}
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream(nil, "", "", domain.ErrNotAuthenticated))

	require.Len(t, sink.errors, 1)
	assert.Equal(t, domain.UserFacingError(domain.ErrNotAuthenticated), sink.errors[0])
}

func TestGenericStreamError(t *testing.T) {
	ed := &recordingEditor{}
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), scriptedStream([]string{"part"}, "", "", errors.New("boom")))

	require.Len(t, sink.errors, 1)
	assert.Contains(t, sink.errors[0], "boom")
}

func TestStreamFnErrorRouted(t *testing.T) {
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  (&recordingEditor{}).edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), func(_ context.Context, _ domain.StreamCallbacks) error {
		return errors.New("connect refused")
	})

	require.Len(t, sink.errors, 1)
	assert.Contains(t, sink.errors[0], "connect refused")
}

func TestStreamFnPanicContained(t *testing.T) {
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  (&recordingEditor{}).edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	require.NotPanics(t, func() {
		c.Run(context.Background(), func(_ context.Context, _ domain.StreamCallbacks) error {
			panic("unexpected")
		})
	})
	require.Len(t, sink.errors, 1)
}

func TestDisplayFailuresSwallowed(t *testing.T) {
	ed := &recordingEditor{err: errors.New("message was deleted")}
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), scriptedStream([]string{"a", "b"}, "ab", "conv", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete with failing editor")
	}
	// The edit failures themselves never surface as stream errors.
	assert.Empty(t, sink.errors)
}

func TestLateChunkAfterDoneIgnored(t *testing.T) {
	ed := &recordingEditor{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), func(_ context.Context, cb domain.StreamCallbacks) error {
		cb.OnChunk("hello")
		cb.OnDone("hello", "conv")
		cb.OnChunk(" stale tail")
		return nil
	})

	assert.Equal(t, "hello", ed.last())
}

func TestSecondTerminalEventIgnored(t *testing.T) {
	ed := &recordingEditor{}
	sink := &errorSink{}
	c := NewController(ControllerConfig{
		Options: streamingOptions(),
		Editor:  ed.edit,
		OnError: sink.showError,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), func(_ context.Context, cb domain.StreamCallbacks) error {
		cb.OnDone("final", "conv")
		cb.OnError(errors.New("too late"))
		return nil
	})

	assert.Equal(t, "final", ed.last())
	assert.Empty(t, sink.errors)
}

func TestThrottleSpacingBound(t *testing.T) {
	ed := &recordingEditor{}
	opts := streamingOptions()
	opts.EditInterval = 40 * time.Millisecond
	c := NewController(ControllerConfig{
		Options: opts,
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	const n = 20
	start := time.Now()
	c.Run(context.Background(), func(_ context.Context, cb domain.StreamCallbacks) error {
		var full strings.Builder
		for i := 0; i < n; i++ {
			chunk := fmt.Sprintf("chunk%02d ", i)
			full.WriteString(chunk)
			cb.OnChunk(chunk)
			time.Sleep(5 * time.Millisecond)
		}
		cb.OnDone(full.String(), "conv")
		return nil
	})
	elapsed := time.Since(start)

	calls := len(ed.all())
	maxCalls := int(elapsed/opts.EditInterval) + 2 // +1 interval slack, +1 final flush
	assert.LessOrEqual(t, calls, maxCalls, "too many edits for %v", elapsed)
	assert.GreaterOrEqual(t, calls, 2, "throttle starved the display entirely")
}

func TestEditorTextsMonotonic(t *testing.T) {
	ed := &recordingEditor{}
	opts := streamingOptions()
	opts.EditInterval = time.Millisecond
	c := NewController(ControllerConfig{
		Options: opts,
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	c.Run(context.Background(), func(_ context.Context, cb domain.StreamCallbacks) error {
		var full strings.Builder
		for i := 0; i < 50; i++ {
			chunk := fmt.Sprintf("w%d ", i)
			full.WriteString(chunk)
			cb.OnChunk(chunk)
			if i%10 == 0 {
				time.Sleep(2 * time.Millisecond)
			}
		}
		cb.OnDone(full.String(), "conv")
		return nil
	})

	texts := ed.all()
	require.NotEmpty(t, texts)
	for i := 1; i < len(texts); i++ {
		assert.GreaterOrEqual(t, len(texts[i]), len(texts[i-1]),
			"display regressed to a shorter text at edit %d", i)
	}
}

func TestTruncatedFlushRespectsPlatformBudget(t *testing.T) {
	ed := &recordingEditor{}
	opts := streamingOptions()
	opts.Platform = domain.PlatformDiscord
	c := NewController(ControllerConfig{
		Options: opts,
		Editor:  ed.edit,
		Logger:  newTestLogger(),
	})

	long := strings.Repeat("verylongword ", 500)
	c.Run(context.Background(), scriptedStream([]string{long}, long, "conv", nil))

	for _, text := range ed.all() {
		assert.LessOrEqual(t, len([]rune(text)), 2000)
	}
}

func TestFailedNewMessageFallsBackToCurrent(t *testing.T) {
	ed := &recordingEditor{}
	sender := &recordingSender{err: errors.New("cannot post")}
	c := NewController(ControllerConfig{
		Options:    streamingOptions(),
		Editor:     ed.edit,
		NewMessage: sender.send,
		Logger:     newTestLogger(),
	})

	full := "A" + BreakMarker + "B"
	c.Run(context.Background(), scriptedStream([]string{full}, full, "conv", nil))

	// The follow-up could not be opened; the stream still completes and the
	// remainder lands in the original message.
	assert.Equal(t, "B", ed.last())
}
