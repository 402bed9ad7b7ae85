// Package history merges paginated server history with turns settled during
// the live session into one chronological turn list.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/notebookchat/pkg/models"
)

// DefaultPageSize is the number of records requested per history page.
const DefaultPageSize = 10

var (
	// ErrLoadInProgress is returned by LoadMore while a page fetch is outstanding.
	ErrLoadInProgress = errors.New("history page load already in progress")

	// ErrNoMorePages is returned by LoadMore once a short page has been seen.
	ErrNoMorePages = errors.New("no more history pages")
)

// PageFetcher fetches one page of persisted records, newest first.
type PageFetcher func(ctx context.Context, page models.PageRequest) ([]models.ChatRecord, error)

// Reconciler owns the ordered turn list of one conversation.
//
// Turns are stored oldest first. Server pages are requested newest first and
// paginated backward, so each page is reversed and prepended. No assistant
// message id appears twice: whichever copy arrives first wins and later
// copies are discarded.
//
// Page loads are serialized: a second LoadMore while one is outstanding
// returns ErrLoadInProgress instead of racing.
//
// While a provisional user turn waits for its message id, unsettled page
// records are held back: one of them may be that very turn. Binding the
// provisional turn drops the matching record and places the others just
// before it.
type Reconciler struct {
	mu       sync.Mutex
	pageSize int
	hasMore  bool
	loading  bool

	turns []models.Turn

	// assistants holds message ids with an assistant turn in the list.
	assistants map[string]struct{}
	// known holds every server message id accounted for, from pages or local
	// settlement. Its size is the offset of the next page.
	known map[string]struct{}

	// provisional is the local id of the user turn whose message id is not
	// known yet.
	provisional string
	// deferred holds unsettled page records seen while provisional is set,
	// oldest first.
	deferred []models.ChatRecord
}

// New returns an empty reconciler. hasMore is false for a conversation that
// has no server history yet.
func New(pageSize int, hasMore bool) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Reconciler{
		pageSize:   pageSize,
		hasMore:    hasMore,
		assistants: make(map[string]struct{}),
		known:      make(map[string]struct{}),
	}
}

// LoadMore fetches the next older page and prepends it. Records already
// present are discarded. On fetch error the cursor is unchanged and the call
// may be retried.
func (r *Reconciler) LoadMore(ctx context.Context, fetch PageFetcher) (int, error) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return 0, ErrLoadInProgress
	}
	if !r.hasMore {
		r.mu.Unlock()
		return 0, ErrNoMorePages
	}
	r.loading = true
	req := models.PageRequest{Skip: len(r.known), Limit: r.pageSize, Sort: models.SortDesc}
	r.mu.Unlock()

	records, err := fetch(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = false
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history page (skip=%d): %w", req.Skip, err)
	}

	r.hasMore = len(records) == req.Limit

	page := make([]models.Turn, 0, 2*len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.ID == "" {
			continue
		}
		r.known[rec.ID] = struct{}{}
		if r.hasAssistantLocked(rec.ID) || r.hasBoundUserLocked(rec.ID) {
			// Already rendered, or the turn currently in flight.
			continue
		}
		if r.provisional != "" && !models.ParseTurnStatus(string(rec.Status)).IsTerminal() {
			r.deferred = append(r.deferred, rec)
			continue
		}
		user, assistant := models.TurnsFromRecord(rec)
		page = append(page, user, assistant)
		r.assistants[rec.ID] = struct{}{}
	}
	r.turns = append(page, r.turns...)
	return len(page) / 2, nil
}

// AppendUser appends a provisional user turn.
func (r *Reconciler) AppendUser(t models.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseDeferredLocked("")
	r.turns = append(r.turns, t)
	if t.MessageID == "" {
		r.provisional = t.ID
	}
}

// BindUser attaches messageID to the provisional user turn with the given id.
// When a user turn for messageID is already listed, the provisional turn is
// dropped instead. It reports whether the provisional turn was found.
func (r *Reconciler) BindUser(localID, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.userIndexLocked(localID)
	if idx < 0 {
		return false
	}
	if r.hasBoundUserLocked(messageID) {
		r.turns = append(r.turns[:idx], r.turns[idx+1:]...)
	} else {
		r.turns[idx].MessageID = messageID
		r.turns[idx].ID = models.UserTurnID(messageID)
	}
	if r.provisional == localID {
		r.releaseDeferredLocked(messageID)
	}
	return true
}

// AppendLocal appends a settled assistant turn at the newest end. It is
// idempotent per message id and reports whether the turn was added. Turns
// without a message id never reached the server and are always added.
func (r *Reconciler) AppendLocal(t models.Turn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.MessageID == "" {
		// The provisional turn ended without ever learning its message id.
		r.releaseDeferredLocked("")
		r.turns = append(r.turns, t)
		return true
	}
	if r.hasAssistantLocked(t.MessageID) {
		return r.replaceUnsettledLocked(t)
	}
	r.turns = append(r.turns, t)
	r.assistants[t.MessageID] = struct{}{}
	r.known[t.MessageID] = struct{}{}
	return true
}

// AppendRecord appends an authoritative record at the newest end, adding its
// user turn only when no user turn is already bound to the record. A listed
// assistant turn for the same message is replaced in place if it has not
// settled; a settled one is kept and false is returned.
func (r *Reconciler) AppendRecord(rec models.ChatRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		return false
	}
	user, assistant := models.TurnsFromRecord(rec)
	if r.hasAssistantLocked(rec.ID) {
		return r.replaceUnsettledLocked(assistant)
	}
	if !r.hasBoundUserLocked(rec.ID) {
		r.turns = append(r.turns, user)
	}
	r.turns = append(r.turns, assistant)
	r.assistants[rec.ID] = struct{}{}
	r.known[rec.ID] = struct{}{}
	return true
}

// SetFeedback replaces the feedback of the assistant turn for messageID.
func (r *Reconciler) SetFeedback(messageID string, fb models.Feedback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.turns {
		t := &r.turns[i]
		if t.Role == models.RoleAssistant && t.MessageID == messageID {
			t.Feedback = &fb
			return true
		}
	}
	return false
}

// Turns returns a copy of the turn list, oldest first.
func (r *Reconciler) Turns() []models.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Turn, len(r.turns))
	for i, t := range r.turns {
		out[i] = t.Clone()
	}
	return out
}

// DisplayTurns returns a copy of the turn list, newest first.
func (r *Reconciler) DisplayTurns() []models.Turn {
	turns := r.Turns()
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

// HasAssistant reports whether an assistant turn for messageID is present.
func (r *Reconciler) HasAssistant(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasAssistantLocked(messageID)
}

// HasMore reports whether older pages may exist.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Loading reports whether a page fetch is outstanding.
func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Len returns the number of turns.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// replaceUnsettledLocked swaps in t for the listed assistant turn with the
// same message id when that turn is still pending.
func (r *Reconciler) replaceUnsettledLocked(t models.Turn) bool {
	for i := range r.turns {
		cur := &r.turns[i]
		if cur.Role != models.RoleAssistant || cur.MessageID != t.MessageID {
			continue
		}
		if cur.Status.IsTerminal() {
			return false
		}
		if t.Feedback == nil {
			t.Feedback = cur.Feedback
		}
		*cur = t
		return true
	}
	return false
}

// releaseDeferredLocked ends the provisional state. Deferred records other
// than boundID are rendered just before the provisional user turn, or at
// the newest end once that turn is gone.
func (r *Reconciler) releaseDeferredLocked(boundID string) {
	at := r.userIndexLocked(r.provisional)
	if boundID != "" {
		at = r.userIndexByMessageLocked(boundID)
	}
	if at < 0 {
		at = len(r.turns)
	}
	deferred := r.deferred
	r.provisional = ""
	r.deferred = nil

	page := make([]models.Turn, 0, 2*len(deferred))
	for _, rec := range deferred {
		if rec.ID == boundID || r.hasAssistantLocked(rec.ID) || r.hasBoundUserLocked(rec.ID) {
			continue
		}
		user, assistant := models.TurnsFromRecord(rec)
		page = append(page, user, assistant)
		r.assistants[rec.ID] = struct{}{}
	}
	if len(page) == 0 {
		return
	}
	turns := make([]models.Turn, 0, len(r.turns)+len(page))
	turns = append(turns, r.turns[:at]...)
	turns = append(turns, page...)
	r.turns = append(turns, r.turns[at:]...)
}

func (r *Reconciler) userIndexLocked(localID string) int {
	if localID == "" {
		return -1
	}
	for i := len(r.turns) - 1; i >= 0; i-- {
		if t := r.turns[i]; t.Role == models.RoleUser && t.ID == localID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) userIndexByMessageLocked(messageID string) int {
	for i := len(r.turns) - 1; i >= 0; i-- {
		if t := r.turns[i]; t.Role == models.RoleUser && t.MessageID == messageID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) hasAssistantLocked(messageID string) bool {
	_, ok := r.assistants[messageID]
	return ok
}

func (r *Reconciler) hasBoundUserLocked(messageID string) bool {
	for i := len(r.turns) - 1; i >= 0; i-- {
		t := r.turns[i]
		if t.Role == models.RoleUser && t.MessageID == messageID {
			return true
		}
	}
	return false
}
