// Package chat ties the live transport, the REST collaborators and the
// conversation model into one running chat session.
//
// A Session runs a single event loop that owns the conversation index and
// every conversation store. Inbound pushes, history results and caller
// actions are posted to the loop and applied one at a time, so the
// conversation types need no locking.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/transport"
)

// Directory lists the counterparts available to the user.
type Directory interface {
	Counterparts(ctx context.Context, role account.Role) ([]conversation.Entry, error)
}

// History fetches the full message history of one conversation.
type History interface {
	History(ctx context.Context, selfID, counterpartID string) ([]conversation.HistoryRecord, error)
}

// Sender submits an outgoing message. The server echoes it back over the
// live channel.
type Sender interface {
	SendMessage(ctx context.Context, toID, body string) error
}

// Link is the live push channel. *transport.Link implements it.
type Link interface {
	Connect(ctx context.Context, token string) error
	Disconnect() error
	OnMessage(h func(transport.Event))
	OnStatus(h func(transport.Status))
	State() transport.State
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Link      Link
	Directory Directory
	History   History
	Sender    Sender
}

// Options tunes a Session. Zero values select defaults.
type Options struct {
	DedupWindow  time.Duration
	Clock        func() time.Time
	UpdateBuffer int
	// EchoTTL bounds how long a sent message waits for its echo before it
	// is no longer used to route self-echoes.
	EchoTTL time.Duration
}

var errNotStarted = errors.New("session not started")

const (
	defaultUpdateBuffer = 256
	defaultEchoTTL      = time.Minute
	actionBuffer        = 64
)

// UpdateKind identifies what changed.
type UpdateKind int

const (
	UpdateConversation UpdateKind = iota + 1
	UpdateIndex
	UpdateActive
	UpdateStatus
	UpdateHistoryFailed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateConversation:
		return "conversation"
	case UpdateIndex:
		return "index"
	case UpdateActive:
		return "active"
	case UpdateStatus:
		return "status"
	case UpdateHistoryFailed:
		return "history_failed"
	default:
		return fmt.Sprintf("update(%d)", int(k))
	}
}

// Update notifies observers that session state changed. Consumers re-read
// the relevant snapshot.
type Update struct {
	Kind          UpdateKind
	CounterpartID string
	// Message is set for UpdateConversation caused by a live push.
	Message *conversation.Message
	Status  transport.Status
	Err     error
}

type pendingSend struct {
	counterpartID string
	body          string
	at            time.Time
}

// Session is one authenticated chat session. Create with New, then Start.
// All methods are safe for concurrent use.
type Session struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actions  chan func()
	updates  chan Update
	quit     chan struct{}
	loopDone chan struct{}

	started atomic.Bool
	ended   atomic.Bool
	endOnce sync.Once
	endErr  error

	// owned by the loop
	account  account.Session
	index    *conversation.Index
	active   string
	nextReq  uint64
	requests map[string]uint64
	waiters  map[string][]chan error
	pending  []pendingSend
	status   transport.Status
}

// New creates a session and starts its event loop. Call End to release it.
func New(deps Deps, opts Options, log zerolog.Logger) *Session {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = conversation.DefaultDedupWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = defaultUpdateBuffer
	}
	if opts.EchoTTL <= 0 {
		opts.EchoTTL = defaultEchoTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:     deps,
		opts:     opts,
		log:      log.With().Str("component", "chat").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		actions:  make(chan func(), actionBuffer),
		updates:  make(chan Update, opts.UpdateBuffer),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		requests: make(map[string]uint64),
		waiters:  make(map[string][]chan error),
		status:   transport.Status{State: transport.StateIdle},
	}
	go s.loop()
	return s
}

// Updates delivers change notifications. The channel is closed by End.
// Notifications are dropped when the buffer is full.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Start connects the live channel with acct's token and loads the
// counterpart directory. A failed Connect leaves the session startable
// again. A directory failure ends the session, because the link cannot be
// reused after Disconnect, and the error wraps ErrDirectoryFetchFailed.
func (s *Session) Start(ctx context.Context, acct account.Session) error {
	if err := acct.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if s.ended.Load() {
		return ErrSessionEnded
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}

	err := s.call(ctx, func() {
		s.account = acct
		s.index = conversation.NewIndex(acct.SelfID).WithStoreOptions(func(st *conversation.Store) {
			st.WithClock(s.opts.Clock).WithDedupWindow(s.opts.DedupWindow)
		})
	})
	if err != nil {
		return err
	}

	s.deps.Link.OnMessage(s.onEvent)
	s.deps.Link.OnStatus(s.onStatus)

	if err := s.deps.Link.Connect(ctx, acct.Token); err != nil {
		// the link is idle again, so Start may be retried
		s.started.Store(false)
		return fmt.Errorf("connect: %w", err)
	}

	entries, err := s.deps.Directory.Counterparts(ctx, acct.Role.Counterpart())
	if err != nil {
		_ = s.End()
		return fmt.Errorf("%w: %w", ErrDirectoryFetchFailed, err)
	}

	err = s.call(ctx, func() {
		// live pushes that raced the directory keep their newer tails
		s.index.Load(entries)
		s.emit(Update{Kind: UpdateIndex})
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("self_id", acct.SelfID).
		Str("role", string(acct.Role)).
		Int("counterparts", len(entries)).
		Msg("session started")
	return nil
}

// SelectConversation makes counterpartID the active conversation. Selecting
// a conversation that is not hydrated, or was marked stale by a reconnect,
// issues a history fetch in the background; the result is
// applied only if the conversation is still active when it arrives.
// Failures are reported as UpdateHistoryFailed.
func (s *Session) SelectConversation(ctx context.Context, counterpartID string) error {
	var err error
	if cerr := s.call(ctx, func() { err = s.selectConversation(counterpartID, nil) }); cerr != nil {
		return cerr
	}
	return err
}

// SelectConversationSync selects counterpartID and waits until its history
// is applied.
func (s *Session) SelectConversationSync(ctx context.Context, counterpartID string) error {
	done := make(chan error, 1)
	var err error
	if cerr := s.call(ctx, func() { err = s.selectConversation(counterpartID, done) }); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-s.quit:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send submits body to counterpartID. Nothing is appended locally: the
// message appears when the server echoes it over the live channel. Every
// failure is a *SendError carrying the draft.
func (s *Session) Send(ctx context.Context, counterpartID, body string) error {
	fail := func(err error) error {
		return &SendError{CounterpartID: counterpartID, Body: body, Err: err}
	}

	if s.ended.Load() {
		return fail(ErrSessionEnded)
	}
	if strings.TrimSpace(body) == "" {
		return fail(ErrEmptyMessage)
	}
	if state := s.deps.Link.State(); state != transport.StateConnected {
		return fail(fmt.Errorf("%w: link is %s", transport.ErrNotConnected, state))
	}

	// the echo can arrive before SendMessage returns
	sent := pendingSend{counterpartID: counterpartID, body: body}
	var err error
	cerr := s.call(ctx, func() {
		if s.index == nil {
			err = errNotStarted
			return
		}
		s.index.Conversation(counterpartID)
		sent.at = s.opts.Clock()
		s.pending = append(s.pending, sent)
	})
	if cerr != nil {
		return fail(cerr)
	}
	if err != nil {
		return fail(err)
	}

	if err := s.deps.Sender.SendMessage(ctx, counterpartID, body); err != nil {
		s.post(func() { s.forgetPending(sent) })
		s.log.Warn().Err(err).Str("counterpart", counterpartID).Msg("send failed")
		return fail(err)
	}
	return nil
}

// End disconnects the link, stops the loop and releases all conversation
// state. It is idempotent. Pushes that arrive afterwards change nothing.
func (s *Session) End() error {
	s.endOnce.Do(func() {
		s.endErr = s.deps.Link.Disconnect()
		s.ended.Store(true)
		s.cancel()
		close(s.quit)
		<-s.loopDone

		s.index = nil
		s.pending = nil
		s.requests = nil
		s.waiters = nil
		close(s.updates)
		s.log.Info().Msg("session ended")
	})
	return s.endErr
}

// Messages returns a copy of the conversation with counterpartID, or nil
// if none exists.
func (s *Session) Messages(counterpartID string) []conversation.Message {
	var out []conversation.Message
	_ = s.call(context.Background(), func() {
		if s.index != nil && s.index.HasConversation(counterpartID) {
			out = s.index.Conversation(counterpartID).All()
		}
	})
	return out
}

// Hydrated reports whether counterpartID's history has been loaded.
func (s *Session) Hydrated(counterpartID string) bool {
	var ok bool
	_ = s.call(context.Background(), func() {
		if s.index != nil && s.index.HasConversation(counterpartID) {
			ok = s.index.Conversation(counterpartID).Hydrated()
		}
	})
	return ok
}

// Counterparts returns a snapshot of the directory filtered by query,
// newest conversation first.
func (s *Session) Counterparts(query string) iter.Seq[conversation.Entry] {
	var entries []conversation.Entry
	_ = s.call(context.Background(), func() {
		if s.index != nil {
			entries = s.index.Snapshot(query)
		}
	})
	return slices.Values(entries)
}

// Counterpart returns the directory entry for id.
func (s *Session) Counterpart(id string) (conversation.Entry, bool) {
	var (
		e  conversation.Entry
		ok bool
	)
	_ = s.call(context.Background(), func() {
		if s.index != nil {
			e, ok = s.index.Get(id)
		}
	})
	return e, ok
}

// Active returns the selected counterpart id, or "" if none.
func (s *Session) Active() string {
	var id string
	_ = s.call(context.Background(), func() { id = s.active })
	return id
}

// Status returns the last connectivity status reported by the link.
func (s *Session) Status() transport.Status {
	var st transport.Status
	err := s.call(context.Background(), func() { st = s.status })
	if err != nil {
		return transport.Status{State: transport.StateDisconnected}
	}
	return st
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.actions:
			if s.ended.Load() {
				continue
			}
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn on the loop. It returns false once the session has ended.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrSessionEnded
	}

	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.log.Debug().Stringer("kind", u.Kind).Msg("update dropped, buffer full")
	}
}

// onEvent runs on the link's delivery goroutine.
func (s *Session) onEvent(ev transport.Event) {
	s.post(func() { s.handleEvent(ev) })
}

func (s *Session) onStatus(st transport.Status) {
	s.post(func() {
		prev := s.status
		s.status = st
		s.emit(Update{Kind: UpdateStatus, Status: st})
		if prev.State == transport.StateReconnecting && st.State == transport.StateConnected {
			s.resync()
		}
	})
}

// resync runs after a reconnect. Pushes sent during the outage only exist
// server side, so every hydrated conversation is marked stale and the
// active one is fetched again right away. The others refetch when next
// selected.
func (s *Session) resync() {
	if s.index == nil {
		return
	}
	stale := s.index.Invalidate()
	s.log.Debug().Int("conversations", stale).Msg("marked conversations stale after reconnect")

	if s.active != "" {
		s.fetchHistory(s.active)
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	if s.index == nil {
		return
	}
	if ev.FromID == "" {
		s.log.Warn().Msg("dropping push without sender")
		return
	}

	counterpartID, ok := s.counterpartOf(ev)
	if !ok {
		s.log.Warn().Str("body", conversation.Snippet(ev.Body)).Msg("dropping self echo with unknown recipient")
		return
	}

	msg, changed := s.index.Conversation(counterpartID).AppendLive(ev.FromID, ev.Body)
	if !changed {
		return
	}

	if s.index.Refresh(counterpartID) {
		s.emit(Update{Kind: UpdateIndex, CounterpartID: counterpartID})
	}
	s.emit(Update{Kind: UpdateConversation, CounterpartID: counterpartID, Message: &msg})
}

// counterpartOf resolves the conversation an inbound push belongs to. A
// push from self is the echo of a sent message.
func (s *Session) counterpartOf(ev transport.Event) (string, bool) {
	if ev.FromID != s.account.SelfID {
		return ev.FromID, true
	}

	s.expirePending()

	if ev.ToID != "" {
		s.forgetPending(pendingSend{counterpartID: ev.ToID, body: ev.Body})
		return ev.ToID, true
	}

	for i, p := range s.pending {
		if p.body == ev.Body {
			s.pending = slices.Delete(s.pending, i, i+1)
			return p.counterpartID, true
		}
	}

	if s.active != "" {
		return s.active, true
	}
	return "", false
}

// forgetPending removes the oldest pending send matching p.
func (s *Session) forgetPending(p pendingSend) {
	for i, q := range s.pending {
		if q.counterpartID == p.counterpartID && q.body == p.body {
			s.pending = slices.Delete(s.pending, i, i+1)
			return
		}
	}
}

func (s *Session) expirePending() {
	cutoff := s.opts.Clock().Add(-s.opts.EchoTTL)
	s.pending = slices.DeleteFunc(s.pending, func(p pendingSend) bool {
		return p.at.Before(cutoff)
	})
}

func (s *Session) selectConversation(counterpartID string, done chan error) error {
	if s.index == nil {
		return errNotStarted
	}
	if counterpartID == "" {
		return errors.New("select conversation: empty counterpart id")
	}

	if s.active != counterpartID {
		s.active = counterpartID
		s.emit(Update{Kind: UpdateActive, CounterpartID: counterpartID})
	}

	store := s.index.Conversation(counterpartID)
	switch {
	case store.Hydrated():
		if done != nil {
			done <- nil
		}
		return nil
	case store.Hydrating():
		if done != nil {
			s.waiters[counterpartID] = append(s.waiters[counterpartID], done)
		}
		return nil
	}

	if done != nil {
		s.waiters[counterpartID] = append(s.waiters[counterpartID], done)
	}
	s.fetchHistory(counterpartID)
	return nil
}

// fetchHistory issues a tagged history request for counterpartID. A newer
// request supersedes any outstanding one.
func (s *Session) fetchHistory(counterpartID string) {
	s.nextReq++
	reqID := s.nextReq
	s.requests[counterpartID] = reqID
	s.index.Conversation(counterpartID).BeginHydration()

	selfID := s.account.SelfID
	s.log.Debug().Str("counterpart", counterpartID).Uint64("request", reqID).Msg("fetching history")

	go func() {
		records, err := s.deps.History.History(s.ctx, selfID, counterpartID)
		s.post(func() { s.applyHistory(counterpartID, reqID, records, err) })
	}()
}

func (s *Session) applyHistory(counterpartID string, reqID uint64, records []conversation.HistoryRecord, err error) {
	if s.requests[counterpartID] != reqID {
		s.log.Debug().Str("counterpart", counterpartID).Uint64("request", reqID).Msg("ignoring superseded history")
		return
	}
	delete(s.requests, counterpartID)

	store := s.index.Conversation(counterpartID)
	before := store.Len()

	var result error
	switch {
	case err != nil:
		store.AbortHydration()
		result = fmt.Errorf("%w: %w", ErrHistoryFetchFailed, err)
		s.log.Warn().Err(err).Str("counterpart", counterpartID).Msg("history fetch failed")
		s.emit(Update{Kind: UpdateHistoryFailed, CounterpartID: counterpartID, Err: result})
	case s.active != counterpartID:
		store.AbortHydration()
		result = ErrSelectionChanged
		s.log.Debug().Str("counterpart", counterpartID).Msg("discarding history for inactive conversation")
	default:
		store.Hydrate(records)
	}

	if store.Hydrated() || store.Len() != before {
		if s.index.Refresh(counterpartID) {
			s.emit(Update{Kind: UpdateIndex, CounterpartID: counterpartID})
		}
		s.emit(Update{Kind: UpdateConversation, CounterpartID: counterpartID})
	}

	for _, w := range s.waiters[counterpartID] {
		w <- result
	}
	delete(s.waiters, counterpartID)
}
