// Package session implements the push-to-talk session controller: a state
// machine coordinating hotkey edges, audio capture, streaming transcription
// and text injection.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hotmic/hotmic/audiocapture"
	"github.com/hotmic/hotmic/hotkey"
	"github.com/hotmic/hotmic/stt"
	"github.com/hotmic/hotmic/transcriptlog"
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Starting
	Listening
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Injector delivers finalized text into the focused window.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Recorder persists finalized transcripts.
type Recorder interface {
	Append(rec transcriptlog.Record) error
}

// Config holds the controller's collaborators and tuning.
type Config struct {
	Engine   stt.Engine
	Source   audiocapture.Source
	Injector Injector
	Log      Recorder // optional
	Stream   stt.StreamConfig

	// Toggle makes each press flip the session instead of hold-to-talk;
	// release edges are ignored in this mode.
	Toggle bool
	// Debounce is the guard between an accepted press and an accepted
	// release; releases inside it are coalesced (key chatter).
	Debounce time.Duration
	// QueueDepth bounds the in-flight frame queue.
	QueueDepth int
	// CloseGrace bounds stream teardown; past it, resources are abandoned
	// rather than hanging the UI.
	CloseGrace time.Duration

	// OnState is called on every transition, with a one-line detail for
	// error transitions. Never called concurrently.
	OnState func(s State, detail string)
	// OnTranscript is called for every transcript fragment; final reports
	// the fragment as committed.
	OnTranscript func(text string, final bool)
}

// Controller owns session lifetime exclusively: it is the only writer of
// transcript records and the only caller of the injector.
type Controller struct {
	cfg    Config
	events chan event
	manual chan struct{}
}

type evKind int

const (
	evStarted evKind = iota + 1
	evStartFailed
	evResult
	evStreamEnded
	evClosed
)

// event carries worker completions back into the control loop. sid guards
// against stale events from an already-torn-down session.
type event struct {
	kind evKind
	sid  string
	sess *activeSession
	res  stt.Result
	err  error
}

// activeSession is the per-session worker state.
type activeSession struct {
	id        string
	startedAt time.Time
	pressedAt time.Time

	stream stt.Stream
	queue  *frameQueue
	cancel context.CancelFunc
	g      *errgroup.Group

	seen        map[string]struct{}
	accumulated string
	stopping    bool
}

// New creates a Controller. Call Run to start it.
func New(cfg Config) *Controller {
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 32
	}
	if cfg.CloseGrace == 0 {
		cfg.CloseGrace = 3 * time.Second
	}
	return &Controller{
		cfg:    cfg,
		events: make(chan event, 32),
		manual: make(chan struct{}, 4),
	}
}

// Toggle flips the session from the UI: a manual start when idle, a manual
// stop when listening. Manual stops bypass the debounce guard.
func (c *Controller) Toggle() {
	select {
	case c.manual <- struct{}{}:
	default:
	}
}

// Run processes edges until ctx is done, then tears down any active session.
// It never panics out of a session error; fatal errors surface via OnState.
func (c *Controller) Run(ctx context.Context, edges <-chan hotkey.Edge) {
	var (
		state State = Idle
		cur   *activeSession
		// stopWanted remembers a release that arrived while still Starting.
		stopWanted bool
	)

	setState := func(s State, detail string) {
		state = s
		if c.cfg.OnState != nil {
			c.cfg.OnState(s, detail)
		}
	}

	press := func(at time.Time) {
		if state != Idle {
			// At most one session; presses during an active or winding-down
			// session are idempotent no-ops.
			return
		}
		stopWanted = false
		cur = &activeSession{
			id:        uuid.NewString(),
			pressedAt: at,
			seen:      make(map[string]struct{}),
		}
		setState(Starting, "")
		go c.startSession(ctx, cur.id)
	}

	release := func(at time.Time, forced bool) {
		switch state {
		case Starting:
			if !forced && at.Sub(cur.pressedAt) < c.cfg.Debounce {
				return
			}
			stopWanted = true
		case Listening:
			if !forced && at.Sub(cur.pressedAt) < c.cfg.Debounce {
				return
			}
			c.stopSession(cur)
			setState(Stopping, "")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if cur != nil {
				if state == Starting {
					cur = c.awaitStart(cur)
				}
				if cur != nil {
					c.stopSession(cur)
					c.awaitClose(cur)
				}
			}
			setState(Idle, "")
			return

		case edge, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			switch edge.Kind {
			case hotkey.Press:
				if c.cfg.Toggle && state != Idle {
					release(edge.At, false)
					continue
				}
				press(edge.At)
			case hotkey.Release:
				if c.cfg.Toggle {
					continue
				}
				release(edge.At, false)
			}

		case <-c.manual:
			if state == Idle {
				press(time.Now())
			} else {
				release(time.Now(), true)
			}

		case ev := <-c.events:
			if cur == nil || ev.sid != cur.id {
				// A session that already ended; nothing to do beyond the
				// cleanup its own worker performed.
				continue
			}

			switch ev.kind {
			case evStartFailed:
				slog.Error("session start failed", "error", ev.err)
				cur = nil
				setState(Idle, ev.err.Error())

			case evStarted:
				cur.stream = ev.sess.stream
				cur.queue = ev.sess.queue
				cur.cancel = ev.sess.cancel
				cur.g = ev.sess.g
				cur.startedAt = time.Now()
				if stopWanted {
					c.stopSession(cur)
					setState(Stopping, "")
					continue
				}
				setState(Listening, "")

			case evResult:
				// Finals arriving during Stopping are the flushed tail of
				// the stream and are still committed in arrival order.
				c.handleResult(ctx, cur, ev.res)

			case evStreamEnded:
				switch state {
				case Listening:
					// The service hung up on us mid-session.
					slog.Warn("transcription stream ended unexpectedly")
					c.stopSession(cur)
					setState(Stopping, "connection lost")
				case Starting:
					// The receiver can outrun the started event; tear down
					// as soon as the start resolves.
					stopWanted = true
				}

			case evClosed:
				if ev.err != nil {
					slog.Warn("session teardown incomplete", "error", ev.err)
				}
				slog.Info("session closed",
					"id", cur.id,
					"duration", time.Since(cur.startedAt).Round(time.Millisecond),
					"chars", len(cur.accumulated))
				cur = nil
				setState(Idle, "")
			}
		}
	}
}

// startSession acquires the capture device and the transcription stream.
// Runs off the control loop; reports back via events.
func (c *Controller) startSession(ctx context.Context, sid string) {
	frames, err := c.cfg.Source.Open()
	if err != nil {
		c.events <- event{kind: evStartFailed, sid: sid, err: err}
		return
	}

	stream, err := c.cfg.Engine.Open(ctx, c.cfg.Stream)
	if err != nil {
		_ = c.cfg.Source.Close()
		c.events <- event{kind: evStartFailed, sid: sid, err: err}
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	g, sctx := errgroup.WithContext(sctx)
	queue := newFrameQueue(c.cfg.QueueDepth)

	// Capture pump: frames into the bounded queue.
	g.Go(func() error {
		defer queue.close()
		for {
			select {
			case <-sctx.Done():
				return nil
			case f, ok := <-frames:
				if !ok {
					return nil
				}
				queue.push(f)
			}
		}
	})

	// Sender: queue into the stream, fire-and-forget per frame.
	g.Go(func() error {
		for {
			f, ok := queue.pop()
			if !ok {
				return nil
			}
			if err := stream.Send(sctx, f.Data); err != nil {
				if sctx.Err() == nil {
					slog.Warn("send frame", "error", err)
				}
				return nil
			}
		}
	})

	// Receiver: stream results back to the control loop. Never blocks the
	// vendor read path on the UI.
	g.Go(func() error {
		for res := range stream.Results() {
			c.events <- event{kind: evResult, sid: sid, res: res}
		}
		c.events <- event{kind: evStreamEnded, sid: sid}
		return nil
	})

	c.events <- event{kind: evStarted, sid: sid, sess: &activeSession{
		stream: stream,
		queue:  queue,
		cancel: cancel,
		g:      g,
	}}
}

// stopSession stops frame forwarding and closes stream and device in the
// background, bounded by CloseGrace.
func (c *Controller) stopSession(s *activeSession) {
	if s.stopping {
		return
	}
	s.stopping = true

	go func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseGrace)
		defer cancel()

		s.queue.close()
		if dropped := s.queue.droppedCount(); dropped > 0 {
			slog.Debug("frames dropped for liveness", "count", dropped)
		}

		// Once the grace expires, in-flight sends are cancelled as well so a
		// connection stalled mid-write cannot hold the close hostage.
		stop := context.AfterFunc(closeCtx, s.cancel)
		err := s.stream.Close(closeCtx)
		stop()
		s.cancel()
		_ = s.g.Wait()
		if cerr := c.cfg.Source.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.events <- event{kind: evClosed, sid: s.id, err: err}
	}()
}

// awaitStart waits for an in-flight start to resolve so exit teardown never
// races resource acquisition. Returns nil if the start failed.
func (c *Controller) awaitStart(s *activeSession) *activeSession {
	deadline := time.After(c.cfg.CloseGrace + time.Second)
	for {
		select {
		case ev := <-c.events:
			if ev.sid != s.id {
				continue
			}
			switch ev.kind {
			case evStarted:
				s.stream = ev.sess.stream
				s.queue = ev.sess.queue
				s.cancel = ev.sess.cancel
				s.g = ev.sess.g
				return s
			case evStartFailed:
				return nil
			}
		case <-deadline:
			slog.Warn("abandoning session start at exit", "id", s.id)
			return nil
		}
	}
}

// awaitClose drains events until the session reports closed; used on exit so
// the process never leaves the device or connection open.
func (c *Controller) awaitClose(s *activeSession) {
	deadline := time.After(c.cfg.CloseGrace + time.Second)
	for {
		select {
		case ev := <-c.events:
			if ev.sid == s.id && ev.kind == evClosed {
				return
			}
		case <-deadline:
			slog.Warn("abandoning session teardown at exit", "id", s.id)
			return
		}
	}
}

// handleResult commits a final result exactly once: log append, then
// injection. Interim results only feed the live preview.
func (c *Controller) handleResult(ctx context.Context, s *activeSession, res stt.Result) {
	if !res.IsFinal {
		if c.cfg.OnTranscript != nil {
			c.cfg.OnTranscript(res.Text, false)
		}
		return
	}

	if _, dup := s.seen[res.ID]; dup {
		slog.Debug("duplicate result ignored", "id", res.ID)
		return
	}
	s.seen[res.ID] = struct{}{}
	s.accumulated += res.Text

	if c.cfg.Log != nil {
		rec := transcriptlog.Record{ID: res.ID, Time: res.Received, Text: res.Text}
		if err := c.cfg.Log.Append(rec); err != nil {
			slog.Error("append transcript", "error", err)
		}
	}

	// An injection failure must not lose the ability to keep transcribing.
	if err := c.cfg.Injector.Inject(ctx, res.Text); err != nil {
		slog.Error("inject text", "error", err, "text", res.Text)
	}

	if c.cfg.OnTranscript != nil {
		c.cfg.OnTranscript(res.Text, true)
	}
}
