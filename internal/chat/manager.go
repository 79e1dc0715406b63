// ABOUTME: Conversation session manager keyed by research id
// ABOUTME: Owns per-key transcripts, connection state and stream reconciliation

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketoluh/chat/internal/auth"
)

// Sender issues a single request/response chat call.
type Sender interface {
	SendMessage(ctx context.Context, researchID, text string) (*Message, error)
}

// Stream is an open streaming connection for one conversation.
// Start begins frame delivery; the Manager calls it only after the
// stream is registered so close notifications are never lost.
type Stream interface {
	Start()
	Send(v any) error
	Close() error
}

// Dialer opens streaming connections. Callbacks fire on the stream's
// read goroutine: onFrame for every inbound text frame in arrival
// order, onClose exactly once when the connection ends for any reason.
type Dialer interface {
	Dial(ctx context.Context, researchID, token string, onFrame func([]byte), onClose func(error)) (Stream, error)
}

// TokenSource resolves the bearer credential. A missing credential is
// a hard precondition failure for Send and OpenStream.
type TokenSource interface {
	Token() (string, error)
}

// TranscriptStore persists finished messages so transcripts survive
// restarts. All methods are best-effort from the Manager's point of
// view: persistence failures are logged, never surfaced.
type TranscriptStore interface {
	SaveMessage(ctx context.Context, researchID string, msg *Message) error
	ListMessages(ctx context.Context, researchID string, limit int) ([]*Message, error)
	DeleteConversation(ctx context.Context, researchID string) error
	DeleteAll(ctx context.Context) error
}

// persistTimeout bounds background transcript writes, detached from
// any request context so persistence survives caller cancellation.
const persistTimeout = 5 * time.Second

// ManagerOptions configures a Manager. Sender, Dialer and Tokens are
// required; History and OnStreamEvent are optional.
type ManagerOptions struct {
	Sender Sender
	Dialer Dialer
	Tokens TokenSource

	// History, when set, caches finished messages locally.
	History TranscriptStore

	// OnStreamEvent is invoked after each recognized inbound frame has
	// been applied, outside the manager lock. Used by UIs to render
	// incremental output.
	OnStreamEvent func(researchID string, frame FrameType, content string)

	Logger *slog.Logger
}

// Manager maintains one conversation per research id and mediates both
// synchronous and streaming message exchange. All state is serialized
// behind a single mutex; inbound frames for a key arrive on a single
// stream goroutine and are applied strictly in arrival order.
type Manager struct {
	mu      sync.Mutex
	convs   map[string]*Conversation
	streams map[string]Stream
	active  string

	sender  Sender
	dialer  Dialer
	tokens  TokenSource
	history TranscriptStore
	onEvent func(string, FrameType, string)
	logger  *slog.Logger
}

// NewManager creates a conversation manager. Pass nil Logger for default.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		convs:   make(map[string]*Conversation),
		streams: make(map[string]Stream),
		sender:  opts.Sender,
		dialer:  opts.Dialer,
		tokens:  opts.Tokens,
		history: opts.History,
		onEvent: opts.OnStreamEvent,
		logger:  logger.With("component", "chat"),
	}
}

// Conversation returns the state for the given research id, creating
// an empty one on first access. The same pointer is returned for every
// call with the same key.
func (m *Manager) Conversation(researchID string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationLocked(researchID)
}

func (m *Manager) conversationLocked(researchID string) *Conversation {
	conv, ok := m.convs[researchID]
	if !ok {
		conv = &Conversation{Key: researchID}
		m.convs[researchID] = conv
	}
	return conv
}

// SetActive marks the conversation currently being displayed, creating
// its state if needed.
func (m *Manager) SetActive(researchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationLocked(researchID)
	m.active = researchID
}

// ActiveKey returns the currently active research id, empty when none.
func (m *Manager) ActiveKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Send appends a user message and issues a request/response call,
// appending the assistant reply on success. The user message stays in
// the transcript even when the call fails; the failure is recorded on
// the conversation and returned.
func (m *Manager) Send(ctx context.Context, researchID, text string) error {
	if _, err := m.token(); err != nil {
		m.recordError(researchID, err.Error())
		return err
	}

	userMsg := newMessage(RoleUser, text)
	m.mu.Lock()
	conv := m.conversationLocked(researchID)
	conv.Messages = append(conv.Messages, userMsg)
	m.mu.Unlock()
	m.persist(researchID, userMsg)

	reply, err := m.sender.SendMessage(ctx, researchID, text)
	if err != nil {
		m.recordError(researchID, err.Error())
		return fmt.Errorf("sending message: %w", err)
	}

	m.mu.Lock()
	conv.Messages = append(conv.Messages, reply)
	conv.LastError = ""
	m.mu.Unlock()
	m.persist(researchID, reply)

	return nil
}

// OpenStream opens a streaming connection for the research id, closing
// and replacing any existing one. On success the conversation is
// marked connected and its error cleared.
func (m *Manager) OpenStream(ctx context.Context, researchID string) error {
	token, err := m.token()
	if err != nil {
		m.recordError(researchID, err.Error())
		return err
	}

	// Replace any prior connection before dialing.
	m.mu.Lock()
	old := m.streams[researchID]
	delete(m.streams, researchID)
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	var conn Stream
	conn, err = m.dialer.Dial(ctx, researchID, token,
		func(data []byte) { m.handleFrame(researchID, data) },
		func(cause error) { m.streamClosed(researchID, conn, cause) },
	)
	if err != nil {
		m.recordError(researchID, err.Error())
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	m.mu.Lock()
	m.streams[researchID] = conn
	conv := m.conversationLocked(researchID)
	conv.Connected = true
	// A replaced connection's in-flight turn does not carry over; the
	// next chunk starts a fresh assistant message.
	conv.Streaming = false
	conv.LastError = ""
	m.mu.Unlock()

	// Frame delivery starts only after registration.
	conn.Start()

	m.logger.Debug("stream opened", "research_id", researchID)
	return nil
}

// SendStreaming appends a user message and transmits it over the open
// stream together with the history as it stood before this call.
// Responses arrive asynchronously via the stream's frame handler.
func (m *Manager) SendStreaming(researchID, text string) error {
	m.mu.Lock()
	conn, ok := m.streams[researchID]
	if !ok {
		m.conversationLocked(researchID).LastError = ErrNotConnected.Error()
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, researchID)
	}

	conv := m.conversationLocked(researchID)
	payload := sendFrame{
		Message: text,
		History: historyBefore(conv.Messages, 0),
	}
	userMsg := newMessage(RoleUser, text)
	conv.Messages = append(conv.Messages, userMsg)
	m.mu.Unlock()

	m.persist(researchID, userMsg)

	if err := conn.Send(payload); err != nil {
		return fmt.Errorf("sending stream frame: %w", err)
	}
	return nil
}

// CloseStream closes the streaming connection for the research id if
// one exists. Calling it with no open connection is a no-op.
func (m *Manager) CloseStream(researchID string) {
	m.mu.Lock()
	conn, ok := m.streams[researchID]
	delete(m.streams, researchID)
	if conv, exists := m.convs[researchID]; exists {
		conv.Connected = false
		conv.Streaming = false
	}
	m.mu.Unlock()

	if ok {
		_ = conn.Close()
		m.logger.Debug("stream closed", "research_id", researchID)
	}
}

// Clear empties the conversation transcript and error. The connection
// stays open, but any in-progress streaming turn is abandoned so later
// chunks start a fresh assistant message instead of being dropped. The
// cached transcript is deleted as well.
func (m *Manager) Clear(researchID string) {
	m.mu.Lock()
	if conv, ok := m.convs[researchID]; ok {
		conv.Messages = nil
		conv.LastError = ""
		conv.Streaming = false
	}
	m.mu.Unlock()

	if m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.history.DeleteConversation(ctx, researchID); err != nil {
			m.logger.Error("failed to clear cached transcript", "research_id", researchID, "error", err)
		}
	}
}

// Reset closes every open stream, drops all conversation state and
// clears the active key and the transcript cache.
func (m *Manager) Reset() {
	m.mu.Lock()
	conns := make([]Stream, 0, len(m.streams))
	for _, conn := range m.streams {
		conns = append(conns, conn)
	}
	m.streams = make(map[string]Stream)
	m.convs = make(map[string]*Conversation)
	m.active = ""
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	if m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.history.DeleteAll(ctx); err != nil {
			m.logger.Error("failed to clear transcript cache", "error", err)
		}
	}
}

// Restore loads the cached transcript for a research id into its
// conversation. Conversations that already hold messages are left
// untouched. Returns the number of messages loaded.
func (m *Manager) Restore(ctx context.Context, researchID string) (int, error) {
	if m.history == nil {
		return 0, nil
	}

	messages, err := m.history.ListMessages(ctx, researchID, 0)
	if err != nil {
		return 0, fmt.Errorf("loading cached transcript: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.conversationLocked(researchID)
	if len(conv.Messages) > 0 {
		return 0, nil
	}
	conv.Messages = messages
	return len(messages), nil
}

// Snapshot returns a copy of the conversation safe to read without
// holding the manager lock. Messages are copied shallowly except for
// content, which is value-copied into fresh Message structs.
func (m *Manager) Snapshot(researchID string) Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversationLocked(researchID)
	copied := Conversation{
		Key:       conv.Key,
		Connected: conv.Connected,
		Streaming: conv.Streaming,
		LastError: conv.LastError,
	}
	copied.Messages = make([]*Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		dup := *msg
		dup.ToolUses = append([]ToolUse(nil), msg.ToolUses...)
		copied.Messages[i] = &dup
	}
	return copied
}

// handleFrame applies one inbound streaming frame. Malformed payloads
// and unknown frame types are dropped without touching state: a single
// corrupt frame must not take down the session.
func (m *Manager) handleFrame(researchID string, data []byte) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Debug("discarding malformed frame", "research_id", researchID, "error", err)
		return
	}

	var completed *Message

	m.mu.Lock()
	conv := m.conversationLocked(researchID)
	recognized := true

	switch frame.Type {
	case FrameChunk:
		if conv.Streaming {
			if last := conv.lastMessage(); last != nil {
				last.Content += frame.Content
			}
		} else {
			conv.Streaming = true
			conv.Messages = append(conv.Messages, newMessage(RoleAssistant, frame.Content))
		}

	case FrameComplete:
		wasStreaming := conv.Streaming
		conv.Streaming = false
		// Persist the finished assistant turn, but only when one was
		// actually streaming; a stray complete must not re-save the
		// previous message.
		if last := conv.lastMessage(); wasStreaming && last != nil && last.Role == RoleAssistant {
			dup := *last
			dup.ToolUses = append([]ToolUse(nil), last.ToolUses...)
			completed = &dup
		}

	case FrameError:
		conv.LastError = frame.Content
		conv.Streaming = false

	case FrameToolUse:
		if last := conv.lastMessage(); last != nil && last.Role == RoleAssistant {
			last.ToolUses = append(last.ToolUses, ToolUse{
				Tool:      frame.Tool,
				Arguments: frame.Arguments,
			})
		} else {
			m.logger.Debug("tool_use without assistant message, ignoring", "research_id", researchID)
		}

	default:
		recognized = false
		m.logger.Debug("ignoring unknown frame type", "research_id", researchID, "type", string(frame.Type))
	}
	m.mu.Unlock()

	if completed != nil {
		m.persist(researchID, completed)
	}
	if recognized && m.onEvent != nil {
		m.onEvent(researchID, frame.Type, frame.Content)
	}
}

// streamClosed handles connection teardown from the stream side. The
// identity check ensures a replaced connection's close notification
// cannot clobber the state of its successor.
func (m *Manager) streamClosed(researchID string, conn Stream, cause error) {
	m.mu.Lock()
	if current, ok := m.streams[researchID]; !ok || current != conn {
		m.mu.Unlock()
		return
	}
	delete(m.streams, researchID)
	conv := m.conversationLocked(researchID)
	conv.Connected = false
	conv.Streaming = false
	m.mu.Unlock()

	if cause != nil {
		m.logger.Debug("stream closed by peer", "research_id", researchID, "cause", cause)
	}
}

// token resolves the bearer credential, mapping every failure mode to
// the auth.ErrNoToken precondition.
func (m *Manager) token() (string, error) {
	token, err := m.tokens.Token()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", auth.ErrNoToken
	}
	return token, nil
}

// recordError surfaces an error message on the conversation for display.
func (m *Manager) recordError(researchID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationLocked(researchID).LastError = message
}

// persist writes a finished message to the transcript cache with a
// detached timeout context; failures are logged only.
func (m *Manager) persist(researchID string, msg *Message) {
	if m.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.history.SaveMessage(ctx, researchID, msg); err != nil {
		m.logger.Error("failed to persist message",
			"research_id", researchID,
			"message_id", msg.ID,
			"error", err)
	}
}

func newMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}
