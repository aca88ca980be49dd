package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"botbridge/internal/domain"
)

// Options configure how one platform displays an in-flight response.
type Options struct {
	Platform domain.Platform
	// EditInterval is the minimum time between intermediate edits.
	EditInterval time.Duration
	// Streaming enables intermediate progress edits. When false only break
	// events and the terminal state produce visible output; some platforms
	// rate-limit in-flight edits too aggressively to show progress.
	Streaming bool
	// Limits holds the per-platform character budgets.
	Limits Limits
}

// ControllerConfig wires a Controller to its collaborators for one session.
type ControllerConfig struct {
	Options Options

	// Editor updates the reply message already shown to the user.
	Editor domain.MessageEditor
	// NewMessage opens follow-up messages at break markers; nil disables
	// splitting and markers degrade to plain whitespace.
	NewMessage domain.NewMessageSender

	// AuthLinker and OnAuthError together enable the authenticated variant:
	// an authentication error produces a sign-in prompt. When either is nil,
	// auth errors are shown like any other error.
	AuthLinker  domain.AuthLinker
	OnAuthError func(ctx context.Context, authURL string)
	UserID      string

	// OnError displays a terminal error message. Falls back to Editor when nil.
	OnError func(ctx context.Context, text string)

	// OnFinished observes the backend conversation ID after a completed run.
	OnFinished func(conversationID string)

	Logger *slog.Logger
}

// session is the explicit mutable state of one streaming turn.
//
// accumulated, done, lastFlush and pendingTimer are guarded by Controller.mu;
// displayed, editor, brokeLive and consumed are only touched inside serialized
// queue ops (or after the queue has drained), so they need no lock.
type session struct {
	accumulated  string // full text received so far, append-only
	displayed    string // last text actually pushed to the platform
	editor       domain.MessageEditor
	done         bool
	lastFlush    time.Time
	pendingTimer *time.Timer
	queue        *OpQueue
	brokeLive    bool // a break opened a new message while the stream was active
	consumed     int  // break markers consumed by resolved breaks
}

// Controller drives one streaming chat turn: it consumes the chunk/done/error
// protocol, throttles platform edits, resolves message breaks and serializes
// every display mutation so platform state never goes out of order.
//
// A Controller is single-use: one Run per instance.
type Controller struct {
	cfg    ControllerConfig
	logger *slog.Logger
	now    func() time.Time // test hook

	mu sync.Mutex
	s  session
}

// NewController creates a controller for one streaming session.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{cfg: cfg, logger: logger, now: time.Now}
	c.s.editor = cfg.Editor
	c.s.queue = NewOpQueue(logger)
	return c
}

// Run drives the session to completion. It never returns an error and never
// panics: every session ends in exactly one terminal display, either the
// final streamed text, an auth prompt, or a formatted error message.
func (c *Controller) Run(ctx context.Context, fn domain.StreamFn) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream session panicked", "panic", r)
			c.handleError(ctx, fmt.Errorf("stream session panicked: %v", r))
		}
	}()

	err := fn(ctx, domain.StreamCallbacks{
		OnChunk: func(text string) { c.handleChunk(ctx, text) },
		OnDone:  func(full, conversationID string) { c.handleDone(ctx, full, conversationID) },
		OnError: func(err error) { c.handleError(ctx, err) },
	})
	if err != nil {
		// The stream itself failed; a no-op if a terminal callback already ran.
		c.handleError(ctx, err)
	}
	c.s.queue.Wait()
}

// handleChunk appends incoming text and decides whether to flush now,
// schedule a trailing flush, or stay silent.
func (c *Controller) handleChunk(ctx context.Context, text string) {
	c.mu.Lock()
	if c.s.done {
		// Late chunk after the terminal state; must not re-open the display.
		c.mu.Unlock()
		return
	}
	c.s.accumulated += text

	hasBreak := strings.Contains(c.s.accumulated, BreakMarker)
	if hasBreak && c.cfg.NewMessage == nil {
		// No way to open messages mid-stream: markers degrade to whitespace.
		c.s.accumulated = strings.ReplaceAll(c.s.accumulated, BreakMarker, "\n\n")
		hasBreak = false
	}
	if hasBreak {
		c.mu.Unlock()
		// A break must not be delayed past its own segment boundary.
		c.enqueueDisplay(ctx)
		return
	}

	if !c.cfg.Options.Streaming {
		c.mu.Unlock()
		return
	}

	now := c.now()
	if shouldFlushNow(now, c.s.lastFlush, c.cfg.Options.EditInterval) {
		// Claim the flush slot at decision time; a burst of chunks arriving
		// before the queued edit runs must not each pass the gate.
		c.s.lastFlush = now
		c.mu.Unlock()
		c.enqueueDisplay(ctx)
		return
	}
	if c.s.pendingTimer == nil {
		delay := trailingDelay(now, c.s.lastFlush, c.cfg.Options.EditInterval)
		c.s.pendingTimer = time.AfterFunc(delay, func() { c.trailingFlush(ctx) })
	}
	c.mu.Unlock()
}

// trailingFlush runs when the deferred edit timer fires. It reads session
// state at fire time, never a stale capture.
func (c *Controller) trailingFlush(ctx context.Context) {
	c.mu.Lock()
	c.s.pendingTimer = nil
	done := c.s.done
	if !done {
		c.s.lastFlush = c.now()
	}
	c.mu.Unlock()
	if done {
		return
	}
	c.enqueueDisplay(ctx)
}

// enqueueDisplay schedules a serialized display sync for a still-active
// session. Ops enqueued before the terminal state but running after it are
// skipped; the terminal flush covers whatever they would have shown.
func (c *Controller) enqueueDisplay(ctx context.Context) {
	c.s.queue.Enqueue(func() {
		c.mu.Lock()
		done := c.s.done
		c.mu.Unlock()
		if done {
			return
		}
		c.syncDisplay(ctx)
	})
}

// syncDisplay pushes the current accumulated text to the platform: it
// resolves pending break markers, then flushes the live segment. Must only
// run inside a queue op.
func (c *Controller) syncDisplay(ctx context.Context) {
	c.resolveBreaks(ctx)
	c.flushSegment(ctx)
}

// resolveBreaks walks the accumulated text marker by marker, closing the
// current message with its final segment content and opening a new message
// for the remainder.
func (c *Controller) resolveBreaks(ctx context.Context) {
	if c.cfg.NewMessage == nil {
		c.mu.Lock()
		c.s.accumulated = strings.ReplaceAll(c.s.accumulated, BreakMarker, "\n\n")
		c.mu.Unlock()
		return
	}

	for {
		c.mu.Lock()
		acc := c.s.accumulated
		idx := strings.Index(acc, BreakMarker)
		if idx < 0 {
			c.mu.Unlock()
			return
		}
		head := strings.TrimSpace(acc[:idx])
		rest := strings.TrimLeft(acc[idx+len(BreakMarker):], " \t\r\n")
		if rest == "" {
			// The marker closed this segment but the next one has no text
			// yet. Keep a bare marker so a later chunk opens the message.
			c.s.accumulated = BreakMarker
			c.mu.Unlock()
			c.closeSegment(ctx, head)
			return
		}
		done := c.s.done
		c.s.accumulated = rest
		c.s.consumed++
		if !done {
			c.s.brokeLive = true
		}
		c.mu.Unlock()

		c.closeSegment(ctx, head)

		// Seed the new message with the visible part of the remainder.
		initial := rest
		if j := strings.Index(initial, BreakMarker); j >= 0 {
			initial = initial[:j]
		}
		initial = strings.TrimSpace(initial)
		if initial == "" {
			continue
		}
		editor, err := c.cfg.NewMessage(ctx, Truncate(initial, c.limit()))
		if err != nil {
			// Could not open a follow-up message; the remainder falls back
			// into the current one. Display failures never abort the stream.
			c.logger.Warn("open follow-up message failed",
				"platform", string(c.cfg.Options.Platform), "error", err)
			continue
		}
		c.s.editor = editor
		c.s.displayed = initial
		c.markFlushed()
	}
}

// closeSegment writes the final content of the current message before a
// break supersedes it.
func (c *Controller) closeSegment(ctx context.Context, text string) {
	if text == "" || text == c.s.displayed {
		return
	}
	c.s.displayed = text
	c.markFlushed()
	c.edit(ctx, c.s.editor, text)
}

// flushSegment sends the live segment to the platform when it changed.
func (c *Controller) flushSegment(ctx context.Context) {
	c.mu.Lock()
	text := strings.TrimSpace(StripMarkers(c.s.accumulated))
	c.mu.Unlock()
	if text == "" || text == c.s.displayed {
		return
	}
	c.s.displayed = text
	c.markFlushed()
	c.edit(ctx, c.s.editor, text)
}

// handleDone applies the terminal flush after the op queue has drained, so
// it can never race with an in-flight throttled edit.
func (c *Controller) handleDone(ctx context.Context, finalText, conversationID string) {
	c.mu.Lock()
	if c.s.done {
		c.mu.Unlock()
		return
	}
	c.s.done = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.s.queue.Wait()

	c.mu.Lock()
	if c.s.brokeLive {
		// Breaks already produced messages mid-stream: only the remaining
		// segment of the final text belongs to the live message. Segments
		// closed by resolved breaks are immutable and never re-split.
		if rest, ok := remainderAfter(finalText, c.s.consumed); ok {
			c.s.accumulated = rest
		}
	} else {
		c.s.accumulated = finalText
	}
	c.mu.Unlock()

	c.s.queue.Enqueue(func() { c.syncDisplay(ctx) })
	c.s.queue.Wait()

	if c.cfg.OnFinished != nil {
		c.cfg.OnFinished(conversationID)
	}
}

// handleError classifies a terminal failure: auth errors produce a sign-in
// prompt when the auth collaborators are configured, everything else goes
// through the shared user-facing formatter.
func (c *Controller) handleError(ctx context.Context, err error) {
	c.mu.Lock()
	if c.s.done {
		c.mu.Unlock()
		return
	}
	c.s.done = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.s.queue.Wait()

	if domain.IsNotAuthenticated(err) && c.cfg.AuthLinker != nil && c.cfg.OnAuthError != nil {
		authURL, linkErr := c.cfg.AuthLinker.CreateLink(ctx, c.cfg.Options.Platform, c.cfg.UserID)
		if linkErr != nil {
			c.logger.Warn("auth link creation failed",
				"platform", string(c.cfg.Options.Platform), "error", linkErr)
			c.showError(ctx, domain.AuthLinkFailedText)
			return
		}
		c.cfg.OnAuthError(ctx, authURL)
		return
	}
	c.showError(ctx, domain.UserFacingError(err))
}

func (c *Controller) showError(ctx context.Context, text string) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(ctx, text)
		return
	}
	c.edit(ctx, c.s.editor, text)
}

// edit performs one platform edit with the text truncated to the platform
// budget. Failures are logged and swallowed.
func (c *Controller) edit(ctx context.Context, editor domain.MessageEditor, text string) {
	if editor == nil {
		return
	}
	if err := editor(ctx, Truncate(text, c.limit())); err != nil {
		c.logger.Warn("message edit failed",
			"platform", string(c.cfg.Options.Platform), "error", err)
	}
}

func (c *Controller) markFlushed() {
	c.mu.Lock()
	c.s.lastFlush = c.now()
	c.mu.Unlock()
}

func (c *Controller) stopTimerLocked() {
	if c.s.pendingTimer != nil {
		c.s.pendingTimer.Stop()
		c.s.pendingTimer = nil
	}
}

func (c *Controller) limit() int {
	return c.cfg.Options.Limits.For(c.cfg.Options.Platform)
}

// remainderAfter drops the first n marker-delimited segments from text and
// returns the rest. ok is false when text holds fewer than n markers, in
// which case the caller should keep what it already accumulated.
func remainderAfter(text string, n int) (string, bool) {
	rest := text
	for i := 0; i < n; i++ {
		j := strings.Index(rest, BreakMarker)
		if j < 0 {
			return "", false
		}
		rest = strings.TrimLeft(rest[j+len(BreakMarker):], " \t\r\n")
	}
	return rest, true
}
