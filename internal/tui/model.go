package tui

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/quitline/carechat/internal/chat"
	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/core/draft"
	"github.com/quitline/carechat/internal/transport"
)

// Key constants for event handling.
const (
	keyEnter = "enter"
	keyCtrlC = "ctrl+c"
)

// Chat is the session state the TUI renders. *chat.Session implements it.
type Chat interface {
	Updates() <-chan chat.Update
	Counterparts(query string) iter.Seq[conversation.Entry]
	Counterpart(id string) (conversation.Entry, bool)
	Messages(counterpartID string) []conversation.Message
	Hydrated(counterpartID string) bool
	SelectConversation(ctx context.Context, counterpartID string) error
	Send(ctx context.Context, counterpartID, body string) error
	Status() transport.Status
}

// focus is the pane receiving key input.
type focus int

const (
	focusSidebar focus = iota
	focusComposer
)

// Options configures the TUI behavior.
type Options struct {
	Drafts draft.Store      // Draft store for unsent messages (optional)
	Now    func() time.Time // Clock for relative times (optional)
	Logger zerolog.Logger
}

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	ctx    context.Context
	chat   Chat
	self   account.Session
	drafts draft.Store
	keys   KeyMap
	now    func() time.Time
	log    zerolog.Logger

	sidebar  *Sidebar
	conv     *ConversationView
	composer textinput.Model
	focus    focus

	active     string
	historyErr map[string]error
	sending    bool
	status     transport.Status
	notice     string
	noticeErr  bool

	width    int
	height   int
	quitting bool
	err      error
}

// updateMsg carries one session update, or closed when the session ended.
type updateMsg struct {
	update chat.Update
	closed bool
}

// sendResultMsg is sent when a send completes.
type sendResultMsg struct {
	counterpartID string
	body          string
	err           error
}

// selectResultMsg is sent when a conversation selection was applied.
type selectResultMsg struct {
	counterpartID string
	err           error
}

// draftLoadedMsg is sent when a stored draft was read.
type draftLoadedMsg struct {
	counterpartID string
	body          string
}

// New creates a new TUI model for a started session.
func New(ctx context.Context, c Chat, self account.Session, opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	composer := textinput.New()
	composer.Placeholder = "Write a message…"
	composer.Prompt = "› "
	composer.CharLimit = 4000

	m := Model{
		ctx:        ctx,
		chat:       c,
		self:       self,
		drafts:     opts.Drafts,
		keys:       DefaultKeyMap(),
		now:        opts.Now,
		log:        opts.Logger.With().Str("component", "tui").Logger(),
		sidebar:    NewSidebar(),
		conv:       NewConversationView(),
		composer:   composer,
		historyErr: make(map[string]error),
		status:     c.Status(),
	}
	m.refreshSidebar()
	return m
}

// Err returns the error that ended the TUI, if any.
func (m Model) Err() error {
	return m.err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Model) waitForUpdate() tea.Cmd {
	updates := m.chat.Updates()
	return func() tea.Msg {
		u, ok := <-updates
		return updateMsg{update: u, closed: !ok}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil
	case updateMsg:
		return m.handleUpdate(msg)
	case sendResultMsg:
		return m.handleSendResult(msg)
	case selectResultMsg:
		if msg.err != nil && !errors.Is(msg.err, chat.ErrSessionEnded) {
			m.setNotice(fmt.Sprintf("Open %s failed: %v", msg.counterpartID, msg.err), true)
		}
		return m, nil
	case draftLoadedMsg:
		if msg.counterpartID == m.active && m.composer.Value() == "" {
			m.composer.SetValue(msg.body)
			m.composer.CursorEnd()
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.focus == focusComposer {
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleUpdate(msg updateMsg) (tea.Model, tea.Cmd) {
	if msg.closed {
		m.quitting = true
		return m, tea.Quit
	}

	u := msg.update
	switch u.Kind {
	case chat.UpdateIndex:
		m.refreshSidebar()
	case chat.UpdateConversation:
		if u.Message != nil && !u.Message.SenderIsSelf {
			m.sidebar.MarkUnread(u.CounterpartID)
		}
		m.refreshSidebar()
		if u.CounterpartID == m.active {
			delete(m.historyErr, u.CounterpartID)
			m.refreshConversation()
		}
	case chat.UpdateHistoryFailed:
		m.historyErr[u.CounterpartID] = u.Err
		if u.CounterpartID == m.active {
			m.refreshConversation()
		}
	case chat.UpdateStatus:
		m.status = u.Status
		if u.Status.State == transport.StateDisconnected && errors.Is(u.Status.Err, transport.ErrAuthRejected) {
			m.err = fmt.Errorf("%w: run 'carechat login' again", u.Status.Err)
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, m.waitForUpdate()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == keyCtrlC || (m.focus == focusSidebar && !m.sidebar.IsFiltering() && key.Matches(msg, m.keys.Quit)) {
		m.quitting = true
		return m, tea.Sequence(m.saveDraft(m.active, m.composer.Value()), tea.Quit)
	}

	if m.sidebar.IsFiltering() {
		return m.handleFilterKey(msg)
	}

	if m.focus == focusComposer {
		return m.handleComposerKey(msg)
	}
	return m.handleSidebarKey(msg)
}

func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.sidebar.CancelFilter()
	case tea.KeyEnter:
		m.sidebar.ConfirmFilter()
	case tea.KeyBackspace:
		m.sidebar.DeleteFilterRune()
	case tea.KeySpace:
		m.sidebar.AddFilterRune(' ')
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			m.sidebar.AddFilterRune(r)
		}
	default:
		return m, nil
	}
	m.refreshSidebar()
	return m, nil
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.sidebar.MoveUp()
	case key.Matches(msg, m.keys.Down):
		m.sidebar.MoveDown()
	case key.Matches(msg, m.keys.Open):
		return m.open(m.sidebar.SelectedID())
	case key.Matches(msg, m.keys.Filter):
		m.sidebar.StartFilter()
	case key.Matches(msg, m.keys.Retry):
		if m.active != "" && m.historyErr[m.active] != nil {
			delete(m.historyErr, m.active)
			m.refreshConversation()
			return m, m.selectConversation(m.active)
		}
	case key.Matches(msg, m.keys.Compose):
		if m.active != "" {
			m.focus = focusComposer
			return m, m.composer.Focus()
		}
	case key.Matches(msg, m.keys.ScrollUp):
		m.conv.ScrollUp()
	case key.Matches(msg, m.keys.ScrollDown):
		m.conv.ScrollDown()
	}
	return m, nil
}

func (m Model) handleComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.focus = focusSidebar
		m.composer.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Send):
		body := m.composer.Value()
		if strings.TrimSpace(body) == "" || m.sending || m.active == "" {
			return m, nil
		}
		m.sending = true
		m.notice = ""
		return m, m.send(m.active, body)
	case key.Matches(msg, m.keys.ScrollUp):
		m.conv.ScrollUp()
		return m, nil
	case key.Matches(msg, m.keys.ScrollDown):
		m.conv.ScrollDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// open makes id the active conversation. The composer draft of the
// previous conversation is stored and the draft of id is loaded.
func (m Model) open(id string) (tea.Model, tea.Cmd) {
	if id == "" {
		return m, nil
	}

	var cmds []tea.Cmd
	if m.active != id {
		if m.active != "" {
			cmds = append(cmds, m.saveDraft(m.active, m.composer.Value()))
		}
		m.composer.Reset()
		cmds = append(cmds, m.loadDraft(id))
	}

	m.active = id
	m.sidebar.SetActive(id)
	delete(m.historyErr, id)
	m.refreshConversation()

	m.focus = focusComposer
	cmds = append(cmds, m.composer.Focus(), m.selectConversation(id))
	return m, tea.Batch(cmds...)
}

func (m Model) handleSendResult(msg sendResultMsg) (tea.Model, tea.Cmd) {
	m.sending = false

	if msg.err != nil {
		m.setNotice(fmt.Sprintf("Send failed: %v", unwrapSendError(msg.err)), true)
		// the composer keeps the text; persist it in case the user quits
		return m, m.saveDraft(msg.counterpartID, msg.body)
	}

	if msg.counterpartID == m.active && m.composer.Value() == msg.body {
		m.composer.Reset()
	}
	return m, m.saveDraft(msg.counterpartID, "")
}

func unwrapSendError(err error) error {
	var sendErr *chat.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Err
	}
	return err
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

func (m Model) send(counterpartID, body string) tea.Cmd {
	ctx, c := m.ctx, m.chat
	return func() tea.Msg {
		err := c.Send(ctx, counterpartID, body)
		return sendResultMsg{counterpartID: counterpartID, body: body, err: err}
	}
}

func (m Model) selectConversation(id string) tea.Cmd {
	ctx, c := m.ctx, m.chat
	return func() tea.Msg {
		return selectResultMsg{counterpartID: id, err: c.SelectConversation(ctx, id)}
	}
}

func (m Model) saveDraft(counterpartID, body string) tea.Cmd {
	if m.drafts == nil || counterpartID == "" {
		return nil
	}
	ctx, drafts, log := m.ctx, m.drafts, m.log
	return func() tea.Msg {
		if err := drafts.Set(ctx, counterpartID, body); err != nil {
			log.Warn().Err(err).Str("counterpart", counterpartID).Msg("failed to save draft")
		}
		return nil
	}
}

func (m Model) loadDraft(counterpartID string) tea.Cmd {
	if m.drafts == nil {
		return nil
	}
	ctx, drafts, log := m.ctx, m.drafts, m.log
	return func() tea.Msg {
		d, err := drafts.Get(ctx, counterpartID)
		if err != nil {
			if !errors.Is(err, draft.ErrNotFound) {
				log.Warn().Err(err).Str("counterpart", counterpartID).Msg("failed to load draft")
			}
			return nil
		}
		return draftLoadedMsg{counterpartID: counterpartID, body: d.Body}
	}
}

func (m *Model) refreshSidebar() {
	m.sidebar.SetEntries(slices.Collect(m.chat.Counterparts(m.sidebar.Query())))
}

func (m *Model) refreshConversation() {
	if m.active == "" {
		return
	}

	title := m.active
	if e, ok := m.chat.Counterpart(m.active); ok {
		title = e.DisplayName
	}

	herr := m.historyErr[m.active]
	loading := herr == nil && !m.chat.Hydrated(m.active)
	m.conv.Show(title, m.chat.Messages(m.active), loading, herr)
}

// layout sizes the panes from the window size.
func (m *Model) layout() {
	sidebarWidth := min(36, max(m.width/3, 20))
	convWidth := max(m.width-sidebarWidth, 20)
	bodyHeight := max(m.height-1, 4) // status line

	m.sidebar.SetSize(sidebarWidth, bodyHeight)
	m.conv.SetSize(convWidth, bodyHeight-2) // blank line + composer
	m.composer.Width = max(convWidth-4, 10)
}
