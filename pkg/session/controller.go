package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/codeready-toolchain/notebookchat/pkg/aggregate"
	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
	"github.com/codeready-toolchain/notebookchat/pkg/history"
	"github.com/codeready-toolchain/notebookchat/pkg/models"
)

// errNotSettled marks an authoritative record that is still pending upstream.
var errNotSettled = errors.New("record not settled yet")

// Controller drives the turns of one conversation.
//
// All state is guarded by mu. Every turn gets a generation number; the stream
// pump, closure handling and background fetches check it before touching
// state, so anything belonging to a cancelled or superseded turn is dropped.
type Controller struct {
	id      string
	target  models.Target
	api     API
	cfg     Config
	logger  *slog.Logger
	history *history.Reconciler

	// Lifetime context for streams and background calls; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	chatGroup singleflight.Group

	mu           sync.Mutex
	closed       bool
	chatID       string
	phase        Phase
	gen          uint64
	version      uint64
	messageID    string
	userTurnID   string
	stream       Stream
	live         *aggregate.Aggregator
	liveEvents   []chatevent.RawEvent
	progress     string
	showThinking bool
	banner       string
	lastActivity time.Time

	notifyMu   sync.Mutex
	listenerMu sync.Mutex
	listeners  map[int]func(Snapshot)
	nextID     int
}

// NewController creates a controller for a conversation with the given
// upstream target. chatID resumes an existing upstream chat and may be empty.
func NewController(id string, target models.Target, chatID string, api API, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:           id,
		target:       target,
		api:          api,
		cfg:          cfg.withDefaults(),
		logger:       slog.With("conversation_id", id),
		history:      history.New(cfg.PageSize, chatID != ""), // resumed chats may have history
		ctx:          ctx,
		cancel:       cancel,
		chatID:       chatID,
		phase:        PhaseIdle,
		lastActivity: time.Now(),
		listeners:    make(map[int]func(Snapshot)),
	}
}

// ID returns the conversation id.
func (c *Controller) ID() string {
	return c.id
}

// Submit starts a new turn with the given query text.
//
// Blank queries and queries submitted while a turn is in flight are rejected
// without touching state. Once accepted, the user turn is visible
// immediately; upstream failures settle the turn as an error and are also
// returned.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuery
	}
	if c.cfg.MaxQueryLength > 0 && utf8.RuneCountInString(text) > c.cfg.MaxQueryLength {
		return ErrQueryTooLong
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase.InFlight() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.gen++
	gen := c.gen
	c.userTurnID = uuid.New().String()
	c.history.AppendUser(models.NewUserTurn(c.userTurnID, text, time.Now()))
	c.resetLiveLocked()
	c.phase = PhaseAwaitingFirstEvent
	c.progress = chatevent.ProgressLabel(chatevent.KindUnknown)
	c.showThinking = true
	c.banner = ""
	c.touchLocked()
	c.mu.Unlock()
	c.notify()

	chatID, err := c.ensureChat(ctx)
	if err != nil {
		c.failSubmission(gen, "failed to create chat session", err)
		return fmt.Errorf("failed to create chat session: %w", err)
	}

	stream, err := c.api.SubmitQuery(c.ctx, chatID, text)
	if err != nil {
		c.failSubmission(gen, "failed to submit query", err)
		return fmt.Errorf("failed to submit query: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		_ = stream.Close()
		return ErrClosed
	}
	c.stream = stream
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pump(gen, stream)
	return nil
}

// ensureChat returns the upstream chat id, creating the chat on first use.
// Concurrent callers share one creation call.
func (c *Controller) ensureChat(ctx context.Context) (string, error) {
	c.mu.Lock()
	chatID := c.chatID
	c.mu.Unlock()
	if chatID != "" {
		return chatID, nil
	}

	v, err, _ := c.chatGroup.Do("create", func() (interface{}, error) {
		id, err := c.api.CreateSession(ctx, c.target)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		if c.chatID == "" {
			c.chatID = id
		}
		id = c.chatID
		c.mu.Unlock()
		c.logger.Info("Created upstream chat", "chat_id", id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// failSubmission settles a turn that never got a stream.
func (c *Controller) failSubmission(gen uint64, msg string, err error) {
	c.logger.Warn("Turn submission failed", "error", err)
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.appendErrorTurnLocked(msg)
	c.banner = fmt.Sprintf("%s: %v", msg, err)
	c.finishLocked()
	c.mu.Unlock()
	c.notify()
}

// pump reads one stream until it closes, times out or its turn goes stale.
func (c *Controller) pump(gen uint64, stream Stream) {
	defer c.wg.Done()
	defer func() { _ = stream.Close() }()

	timer, timeout := newTurnTimer(c.cfg.FirstEventTimeout)
	defer timer.stop()

	events := stream.Events()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				c.handleClosure(gen, stream.Err())
				return
			}
			if !c.handleEvent(gen, e) {
				return
			}
			timer.reset(c.cfg.StreamIdleTimeout)
		case <-timer.C():
			c.logger.Warn("Stream timed out", "timeout", timeout)
			_ = stream.Close()
			c.handleClosure(gen, fmt.Errorf("%w after %s", ErrStreamTimeout, timeout))
			return
		case <-c.ctx.Done():
			return
		}
		timeout = c.cfg.StreamIdleTimeout
	}
}

// handleEvent applies one live event. It returns false once the turn is
// stale and the stream should be abandoned.
func (c *Controller) handleEvent(gen uint64, e chatevent.RawEvent) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}

	if c.messageID == "" {
		if e.MessageID != "" {
			c.messageID = e.MessageID
			c.history.BindUser(c.userTurnID, e.MessageID)
			c.logger.Debug("Turn bound to message", "message_id", e.MessageID)
		}
	} else if e.MessageID != "" && e.MessageID != c.messageID {
		c.mu.Unlock()
		c.logger.Debug("Dropping event for another message", "message_id", e.MessageID)
		return true
	}

	kind := chatevent.Classify(e)
	if c.phase == PhaseAwaitingFirstEvent && kind == chatevent.KindAssistantRequest {
		c.phase = PhaseStreaming
	}
	if kind == chatevent.KindToolExecRequest {
		c.showThinking = false
	}
	if kind != chatevent.KindUnknown {
		c.progress = chatevent.ProgressLabel(kind)
	}
	c.liveEvents = append(c.liveEvents, e)
	c.live.Push(e)
	c.touchLocked()
	c.mu.Unlock()
	c.notify()
	return true
}

// handleClosure settles the turn after its stream closed.
func (c *Controller) handleClosure(gen uint64, streamErr error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.stream = nil

	if c.messageID == "" {
		// Nothing to fetch: the assistant never identified the turn.
		msg := "the assistant closed the stream before responding"
		if streamErr != nil {
			msg = fmt.Sprintf("stream closed before the assistant responded: %v", streamErr)
			c.banner = msg
		}
		c.logger.Warn("Stream closed without a message id", "error", streamErr)
		c.appendErrorTurnLocked(msg)
		c.finishLocked()
		c.mu.Unlock()
		c.notify()
		return
	}

	messageID := c.messageID
	chatID := c.chatID
	liveEvents := append([]chatevent.RawEvent(nil), c.liveEvents...)
	c.phase = PhaseSettling
	c.touchLocked()
	c.mu.Unlock()
	c.notify()

	if streamErr != nil {
		c.logger.Warn("Stream closed with error", "message_id", messageID, "error", streamErr)
	}

	rec, err := c.fetchFinal(chatID, messageID, liveEvents)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("Failed to fetch final turn record", "message_id", messageID, "error", err)
		turn := models.NewAssistantTurn(messageID, liveEvents, models.StatusError)
		turn.ErrorMessage = "failed to load the final answer"
		turn.CreatedAt = time.Now()
		if !c.history.AppendLocal(turn) {
			c.logger.Warn("Live turn not applied, a settled turn is already listed", "message_id", messageID)
		}
		c.banner = fmt.Sprintf("failed to load the final answer: %v", err)
	} else if !c.history.AppendRecord(*rec) {
		c.logger.Warn("Final turn record not applied, a settled turn is already listed", "message_id", messageID)
	}
	c.finishLocked()
	c.mu.Unlock()
	c.notify()
}

// fetchFinal fetches the authoritative record of a settled turn, retrying
// transport failures and records the upstream has not settled yet.
func (c *Controller) fetchFinal(chatID, messageID string, liveEvents []chatevent.RawEvent) (*models.ChatRecord, error) {
	var rec *models.ChatRecord
	err := c.cfg.Retry.Do(c.ctx, func(ctx context.Context) error {
		r, err := c.api.FetchTurn(ctx, chatID, messageID)
		if err != nil {
			return err
		}
		rec = r
		if !models.ParseTurnStatus(string(r.Status)).IsTerminal() {
			return errNotSettled
		}
		return nil
	})
	if errors.Is(err, errNotSettled) && rec != nil {
		rec.Status = inferStatus(liveEvents)
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = models.ParseTurnStatus(string(rec.Status))
	if rec.ID == "" {
		rec.ID = messageID
	}
	return rec, nil
}

// inferStatus guesses a terminal status from live events when the upstream
// record never settled.
func inferStatus(events []chatevent.RawEvent) models.TurnStatus {
	for _, e := range events {
		if chatevent.Classify(e) == chatevent.KindAssistantResponse {
			return models.StatusSuccess
		}
	}
	return models.StatusError
}

// Cancel stops the in-flight turn. It is valid only once the turn's message
// id is known and its stream is open.
//
// Local state moves to stopped immediately and the message id is cleared, so
// a second Cancel returns ErrNothingToCancel. The upstream stop call runs in
// the background; its failure is logged and shown as a banner.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.messageID == "" || c.stream == nil {
		c.mu.Unlock()
		return ErrNothingToCancel
	}

	messageID := c.messageID
	chatID := c.chatID
	stream := c.stream

	turn := models.NewAssistantTurn(messageID, c.liveEvents, models.StatusStopped)
	turn.CreatedAt = time.Now()
	if !c.history.AppendLocal(turn) {
		c.logger.Warn("Stopped turn not applied, a settled turn is already listed", "message_id", messageID)
	}

	c.gen++
	c.finishLocked()
	c.wg.Add(1)
	c.mu.Unlock()
	c.notify()

	_ = stream.Close()
	c.logger.Info("Turn cancelled", "message_id", messageID)

	go func() {
		defer c.wg.Done()
		stopCtx, cancel := context.WithTimeout(c.ctx, c.cfg.StopTimeout)
		defer cancel()
		if err := c.api.StopGeneration(stopCtx, chatID, messageID); err != nil {
			c.logger.Warn("Failed to stop generation", "message_id", messageID, "error", err)
			c.mu.Lock()
			if !c.closed {
				c.banner = fmt.Sprintf("the assistant may still be generating: %v", err)
				c.version++
			}
			c.mu.Unlock()
			c.notify()
		}
	}()
	return nil
}

// LoadMore loads the next older page of history.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	chatID := c.chatID
	c.touchLocked()
	c.mu.Unlock()

	if chatID == "" {
		return history.ErrNoMorePages
	}

	_, err := c.history.LoadMore(ctx, func(ctx context.Context, page models.PageRequest) ([]models.ChatRecord, error) {
		c.bump()
		return c.api.FetchHistoryPage(ctx, chatID, page)
	})
	if errors.Is(err, history.ErrLoadInProgress) || errors.Is(err, history.ErrNoMorePages) {
		return err
	}
	if err != nil {
		c.logger.Warn("Failed to load history page", "error", err)
		c.mu.Lock()
		c.banner = fmt.Sprintf("failed to load history: %v", err)
		c.version++
		c.mu.Unlock()
		c.notify()
		return err
	}
	c.bump()
	return nil
}

// SubmitFeedback rates a settled assistant turn. The turn shows the new
// feedback only after the upstream call succeeds.
func (c *Controller) SubmitFeedback(ctx context.Context, messageID string, fb models.Feedback) error {
	if !fb.Reaction.Valid() {
		return NewValidationError("reaction", fmt.Sprintf("must be %q or %q", models.ReactionLike, models.ReactionDislike))
	}
	if !c.history.HasAssistant(messageID) {
		return ErrTurnNotFound
	}
	if err := c.api.SubmitFeedback(ctx, messageID, fb); err != nil {
		return fmt.Errorf("failed to submit feedback: %w", err)
	}
	c.history.SetFeedback(messageID, fb)
	c.bump()
	return nil
}

// Snapshot returns the current view of the conversation.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	turns := c.history.Turns()
	if c.phase.InFlight() {
		turns = append(turns, c.liveTurnLocked())
	}
	return Snapshot{
		ConversationID: c.id,
		Scope:          c.target.Scope,
		TargetID:       c.target.ID,
		ChatID:         c.chatID,
		Version:        c.version,
		Phase:          c.phase,
		Pending:        c.phase.InFlight(),
		ProgressLabel:  c.progress,
		ShowThinking:   c.showThinking,
		Banner:         c.banner,
		HasMore:        c.history.HasMore(),
		LoadingHistory: c.history.Loading(),
		Turns:          turns,
	}
}

// liveTurnLocked renders the in-flight assistant turn from live events.
func (c *Controller) liveTurnLocked() models.Turn {
	view := c.live.Snapshot()
	id := c.messageID
	if id == "" {
		id = "pending-" + c.userTurnID
	}
	return models.Turn{
		ID:        id,
		Role:      models.RoleAssistant,
		MessageID: c.messageID,
		Events:    append([]chatevent.RawEvent(nil), c.liveEvents...),
		Status:    models.StatusPending,
		View:      &view,
	}
}

// Summary returns a listing entry for the conversation.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		ConversationID: c.id,
		Scope:          c.target.Scope,
		TargetID:       c.target.ID,
		ChatID:         c.chatID,
		Phase:          c.phase,
		LastActivity:   c.lastActivity,
	}
}

// IdleSince reports whether the conversation has had no turn in flight and
// no activity since the given time.
func (c *Controller) IdleSince(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.phase.InFlight() && c.lastActivity.Before(t)
}

// OnChange registers fn to receive a snapshot after every state change.
// Snapshots are delivered in version order. fn must not call back into the
// controller. The returned func unregisters.
func (c *Controller) OnChange(fn func(Snapshot)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

// Close abandons any in-flight turn and waits for background work to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Debug("Conversation closed")
}

// finishLocked ends the current turn and clears live state.
func (c *Controller) finishLocked() {
	c.phase = PhaseSettled
	c.stream = nil
	c.resetLiveLocked()
	c.progress = ""
	c.showThinking = false
	c.touchLocked()
}

func (c *Controller) resetLiveLocked() {
	c.messageID = ""
	c.live = aggregate.New()
	c.liveEvents = nil
}

// appendErrorTurnLocked records a failed turn that has no upstream record.
func (c *Controller) appendErrorTurnLocked(msg string) {
	turn := models.NewAssistantTurn(c.messageID, c.liveEvents, models.StatusError)
	if turn.ID == "" {
		turn.ID = "error-" + c.userTurnID
	}
	turn.ErrorMessage = msg
	turn.CreatedAt = time.Now()
	c.history.AppendLocal(turn)
}

func (c *Controller) touchLocked() {
	c.version++
	c.lastActivity = time.Now()
}

// bump records a history-only change.
func (c *Controller) bump() {
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
	c.notify()
}

// notify delivers the current snapshot to listeners. notifyMu keeps
// deliveries in version order.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.listenerMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	if len(fns) == 0 {
		return
	}

	snap := c.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// turnTimer is a resettable timer where a zero duration disables it.
type turnTimer struct {
	t *time.Timer
}

func newTurnTimer(d time.Duration) (*turnTimer, time.Duration) {
	tt := &turnTimer{}
	if d > 0 {
		tt.t = time.NewTimer(d)
	}
	return tt, d
}

func (tt *turnTimer) C() <-chan time.Time {
	if tt.t == nil {
		return nil
	}
	return tt.t.C
}

func (tt *turnTimer) reset(d time.Duration) {
	if tt.t != nil {
		tt.t.Stop()
	}
	if d <= 0 {
		tt.t = nil
		return
	}
	if tt.t == nil {
		tt.t = time.NewTimer(d)
		return
	}
	tt.t.Reset(d)
}

func (tt *turnTimer) stop() {
	if tt.t != nil {
		tt.t.Stop()
	}
}
