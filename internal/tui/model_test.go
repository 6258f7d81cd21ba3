package tui

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quitline/carechat/internal/chat"
	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/core/draft"
	"github.com/quitline/carechat/internal/transport"
)

type fakeChat struct {
	mu       sync.Mutex
	entries  []conversation.Entry
	messages map[string][]conversation.Message
	selected []string
	sent     []string
	sendErr  error
	updates  chan chat.Update
}

func newFakeChat(entries ...conversation.Entry) *fakeChat {
	return &fakeChat{
		entries:  entries,
		messages: make(map[string][]conversation.Message),
		updates:  make(chan chat.Update, 8),
	}
}

func (f *fakeChat) Updates() <-chan chat.Update { return f.updates }

func (f *fakeChat) Counterparts(query string) iter.Seq[conversation.Entry] {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Entry
	for _, e := range f.entries {
		if strings.Contains(strings.ToLower(e.DisplayName), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return slices.Values(out)
}

func (f *fakeChat) Counterpart(id string) (conversation.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e, true
		}
	}
	return conversation.Entry{}, false
}

func (f *fakeChat) Messages(id string) []conversation.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages[id])
}

func (f *fakeChat) Hydrated(id string) bool { return true }

func (f *fakeChat) SelectConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeChat) Send(ctx context.Context, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return &chat.SendError{CounterpartID: id, Body: body, Err: f.sendErr}
	}
	f.sent = append(f.sent, id+":"+body)
	return nil
}

func (f *fakeChat) Status() transport.Status {
	return transport.Status{State: transport.StateConnected}
}

type memDrafts struct {
	mu     sync.Mutex
	drafts map[string]string
}

func newMemDrafts() *memDrafts {
	return &memDrafts{drafts: make(map[string]string)}
}

func (d *memDrafts) Get(ctx context.Context, id string) (draft.Draft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body, ok := d.drafts[id]
	if !ok {
		return draft.Draft{}, draft.ErrNotFound
	}
	return draft.Draft{CounterpartID: id, Body: body}, nil
}

func (d *memDrafts) Set(ctx context.Context, id, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if body == "" {
		delete(d.drafts, id)
		return nil
	}
	d.drafts[id] = body
	return nil
}

func (d *memDrafts) List(ctx context.Context) ([]draft.Draft, error) {
	return nil, nil
}

func (d *memDrafts) body(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drafts[id]
}

func newTestModel(t *testing.T, c *fakeChat, drafts draft.Store) Model {
	t.Helper()
	m := New(context.Background(), c, account.Session{SelfID: "100", Role: account.RoleDoctor, Token: "tok"}, Options{
		Drafts: drafts,
		Now:    func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		Logger: zerolog.Nop(),
	})
	m.composer.Cursor.SetMode(cursor.CursorStatic)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

// press feeds a key to the model and runs the resulting commands,
// feeding their messages back in. Update waits are not executed.
func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	return drain(t, next.(Model), cmd)
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	switch msg := cmd().(type) {
	case nil:
	case tea.BatchMsg:
		for _, c := range msg {
			m = drain(t, m, c)
		}
	case sendResultMsg, selectResultMsg, draftLoadedMsg:
		next, c := m.Update(msg)
		m = drain(t, next.(Model), c)
	}
	return m
}

var (
	keyEnterMsg = tea.KeyMsg{Type: tea.KeyEnter}
	keyEscMsg   = tea.KeyMsg{Type: tea.KeyEsc}
	keyDownMsg  = tea.KeyMsg{Type: tea.KeyDown}
)

func TestModel_SidebarFilter(t *testing.T) {
	c := newFakeChat(
		conversation.Entry{ID: "1", DisplayName: "An Nguyen"},
		conversation.Entry{ID: "2", DisplayName: "Binh Tran"},
	)
	m := newTestModel(t, c, nil)
	require.Equal(t, "1", m.sidebar.SelectedID())

	m = typeText(t, m, "/")
	require.True(t, m.sidebar.IsFiltering())
	m = typeText(t, m, "bi")

	assert.Equal(t, "bi", m.sidebar.Query())
	assert.Equal(t, "2", m.sidebar.SelectedID())
	assert.Len(t, m.sidebar.entries, 1)

	m = press(t, m, keyEscMsg)
	assert.False(t, m.sidebar.IsFiltering())
	assert.Empty(t, m.sidebar.Query())
	assert.Len(t, m.sidebar.entries, 2)
}

func TestModel_OpenSelectsConversation(t *testing.T) {
	c := newFakeChat(
		conversation.Entry{ID: "1", DisplayName: "An"},
		conversation.Entry{ID: "2", DisplayName: "Binh"},
	)
	c.messages["2"] = []conversation.Message{{ID: "9", FromID: "2", Body: "Hi", SentAt: time.Now()}}

	m := newTestModel(t, c, nil)
	m = press(t, m, keyDownMsg)
	m = press(t, m, keyEnterMsg)

	assert.Equal(t, "2", m.active)
	assert.Equal(t, focusComposer, m.focus)
	assert.Equal(t, []string{"2"}, c.selected)
	assert.Equal(t, 1, m.conv.Len())
	assert.Contains(t, m.View(), "Binh")
}

func TestModel_FailedSendKeepsDraft(t *testing.T) {
	c := newFakeChat(conversation.Entry{ID: "2", DisplayName: "Binh"})
	c.sendErr = errors.New("503 service unavailable")
	drafts := newMemDrafts()

	m := newTestModel(t, c, drafts)
	m = press(t, m, keyEnterMsg)
	m = typeText(t, m, "Take two tablets")
	m = press(t, m, keyEnterMsg)

	assert.Equal(t, "Take two tablets", m.composer.Value())
	assert.False(t, m.sending)
	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "503 service unavailable")
	assert.Equal(t, "Take two tablets", drafts.body("2"))
	assert.Empty(t, c.sent)
}

func TestModel_SuccessfulSendClearsComposer(t *testing.T) {
	c := newFakeChat(conversation.Entry{ID: "2", DisplayName: "Binh"})
	drafts := newMemDrafts()
	require.NoError(t, drafts.Set(context.Background(), "2", "stale"))

	m := newTestModel(t, c, drafts)
	m = press(t, m, keyEnterMsg)
	assert.Equal(t, "stale", m.composer.Value())

	m.composer.SetValue("See you Monday")
	m = press(t, m, keyEnterMsg)

	assert.Empty(t, m.composer.Value())
	assert.Equal(t, []string{"2:See you Monday"}, c.sent)
	assert.Empty(t, drafts.body("2"))
}

func TestModel_SwitchingConversationStoresDraft(t *testing.T) {
	c := newFakeChat(
		conversation.Entry{ID: "1", DisplayName: "An"},
		conversation.Entry{ID: "2", DisplayName: "Binh"},
	)
	drafts := newMemDrafts()

	m := newTestModel(t, c, drafts)
	m = press(t, m, keyEnterMsg)
	m = typeText(t, m, "half written")
	m = press(t, m, keyEscMsg)
	require.Equal(t, focusSidebar, m.focus)

	m = press(t, m, keyDownMsg)
	m = press(t, m, keyEnterMsg)

	assert.Equal(t, "2", m.active)
	assert.Empty(t, m.composer.Value())
	assert.Equal(t, "half written", drafts.body("1"))
}

func TestModel_LivePushMarksUnread(t *testing.T) {
	c := newFakeChat(
		conversation.Entry{ID: "1", DisplayName: "An"},
		conversation.Entry{ID: "2", DisplayName: "Binh"},
	)
	m := newTestModel(t, c, nil)
	m = press(t, m, keyEnterMsg)

	msg := conversation.Message{FromID: "2", Body: "Hello", SentAt: time.Now()}
	c.messages["2"] = []conversation.Message{msg}
	next, cmd := m.Update(updateMsg{update: chat.Update{Kind: chat.UpdateConversation, CounterpartID: "2", Message: &msg}})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.True(t, m.sidebar.Unread("2"))

	own := conversation.Message{FromID: "100", SenderIsSelf: true, Body: "ok", SentAt: time.Now()}
	c.messages["1"] = []conversation.Message{own}
	next, _ = m.Update(updateMsg{update: chat.Update{Kind: chat.UpdateConversation, CounterpartID: "1", Message: &own}})
	m = next.(Model)
	assert.False(t, m.sidebar.Unread("1"))
	assert.Equal(t, 1, m.conv.Len())
}

func TestModel_AuthRejectedQuits(t *testing.T) {
	m := newTestModel(t, newFakeChat(), nil)

	next, cmd := m.Update(updateMsg{update: chat.Update{
		Kind:   chat.UpdateStatus,
		Status: transport.Status{State: transport.StateDisconnected, Err: transport.ErrAuthRejected},
	}})
	m = next.(Model)

	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.ErrorIs(t, m.Err(), transport.ErrAuthRejected)
}

func TestModel_HistoryFailureShowsRetry(t *testing.T) {
	c := newFakeChat(conversation.Entry{ID: "2", DisplayName: "Binh"})
	m := newTestModel(t, c, nil)
	m = press(t, m, keyEnterMsg)
	m = press(t, m, keyEscMsg)

	next, _ := m.Update(updateMsg{update: chat.Update{
		Kind:          chat.UpdateHistoryFailed,
		CounterpartID: "2",
		Err:           chat.ErrHistoryFetchFailed,
	}})
	m = next.(Model)
	assert.Contains(t, m.View(), "press r to retry")

	m = typeText(t, m, "r")
	assert.Equal(t, []string{"2", "2"}, c.selected)
	assert.NotContains(t, m.View(), "press r to retry")
}
