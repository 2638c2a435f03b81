// Package dialog runs the step-by-step payment entry conversation.
//
// Every inbound event for a chat goes through Machine.Handle. Commands are
// filtered first (restart and reset work from any step), then the event is
// dispatched to the handler of the chat's current step, which validates the
// input, updates the draft and names the next step.
package dialog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
	"github.com/markjakearzadon/payentry-bot/internal/models"
	"github.com/markjakearzadon/payentry-bot/internal/pricing"
)

// ErrPersistence wraps ledger failures on send. The draft is kept so the
// operator can retry.
var ErrPersistence = errors.New("payment could not be saved")

// Directory finds the active operator behind a caller id.
type Directory interface {
	LookupOperator(ctx context.Context, callerID int64) (models.Operator, error)
}

// BlobStore keeps proof attachments and returns a reference to them.
type BlobStore interface {
	Store(ctx context.Context, media Media) (string, error)
}

// Sheet appends one row to the payments spreadsheet.
type Sheet interface {
	AppendRow(ctx context.Context, row []any) error
}

// RecordStore inserts the structured payment record.
type RecordStore interface {
	InsertPayment(ctx context.Context, p models.Payment) error
}

type Config struct {
	Catalog   *catalog.Catalog
	Pricing   *pricing.Reconciler
	Directory Directory
	Proofs    BlobStore
	Sheet     Sheet
	Records   RecordStore
	// Location is used for date examples, the sheet timestamp and
	// interpreting transaction times. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

type Machine struct {
	catalog   *catalog.Catalog
	pricing   *pricing.Reconciler
	directory Directory
	proofs    BlobStore
	sheet     Sheet
	records   RecordStore
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	sessions *Sessions
	steps    map[State]step
}

func NewMachine(cfg Config) *Machine {
	m := &Machine{
		catalog:   cfg.Catalog,
		pricing:   cfg.Pricing,
		directory: cfg.Directory,
		proofs:    cfg.Proofs,
		sheet:     cfg.Sheet,
		records:   cfg.Records,
		loc:       cfg.Location,
		now:       cfg.Now,
		logger:    cfg.Logger,
		sessions:  NewSessions(),
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.steps = m.stepTable()
	return m
}

const (
	msgIdle        = "Press /start to enter a payment."
	msgDenied      = "⛔ Access denied. Your ID is not among the active operators."
	msgStartFailed = "Something went wrong while starting. Try again later."
	msgReset       = "🔄 Entry reset. Press /start to begin again."
	msgUnknownCmd  = "Unknown command. Use /start to begin or /reset to cancel."
)

// Handle processes one event to completion and returns the replies to send.
func (m *Machine) Handle(ctx context.Context, ev Event) []Reply {
	c := m.sessions.acquire(ev.ChatID)
	defer m.sessions.release(ev.ChatID, c)

	if ev.Kind == EventCommand {
		return m.interrupt(ctx, c, ev)
	}
	if !c.active() {
		return []Reply{text(msgIdle)}
	}

	st, ok := m.steps[c.state]
	if !ok {
		m.logger.Error("conversation in unknown state, resetting",
			zap.Int64("chat_id", ev.ChatID), zap.String("state", string(c.state)))
		c.reset()
		return []Reply{text(msgIdle)}
	}
	if ev.Kind != st.accepts || (ev.Kind == EventMedia && ev.Media == nil) {
		return m.reprompt(st, c.draft)
	}

	tr := st.run(m, ctx, c.draft, ev)
	switch tr.next {
	case "":
	case StateDone:
		m.logger.Info("dialog finished", zap.Int64("chat_id", ev.ChatID), zap.String("from", string(c.state)))
		c.reset()
	default:
		m.logger.Debug("dialog step",
			zap.Int64("chat_id", ev.ChatID),
			zap.String("from", string(c.state)),
			zap.String("to", string(tr.next)))
		c.state = tr.next
	}
	return tr.replies
}

// State reports the chat's current step and a copy of its draft.
func (m *Machine) State(chatID int64) (State, Draft, bool) {
	c := m.sessions.acquire(chatID)
	defer m.sessions.release(chatID, c)

	if !c.active() {
		return "", Draft{}, false
	}
	return c.state, *c.draft, true
}

func (m *Machine) interrupt(ctx context.Context, c *conversation, ev Event) []Reply {
	switch ev.Text {
	case CommandStart:
		return m.restart(ctx, c, ev)
	case CommandReset, CommandCancel:
		if c.active() {
			m.logger.Info("dialog reset", zap.Int64("chat_id", ev.ChatID), zap.String("state", string(c.state)))
		}
		c.reset()
		return []Reply{text(msgReset)}
	default:
		return []Reply{text(msgUnknownCmd)}
	}
}

// restart authorizes the caller again and opens a fresh draft. Any running
// dialog is discarded first, whatever the outcome.
func (m *Machine) restart(ctx context.Context, c *conversation, ev Event) []Reply {
	c.reset()

	op, err := m.directory.LookupOperator(ctx, ev.CallerID)
	if errors.Is(err, models.ErrOperatorNotFound) {
		m.logger.Warn("access denied", zap.Int64("caller_id", ev.CallerID))
		return []Reply{text(msgDenied)}
	}
	if err != nil {
		m.logger.Error("operator lookup failed", zap.Int64("caller_id", ev.CallerID), zap.Error(err))
		return []Reply{text(msgStartFailed)}
	}

	tr := m.begin(c, op)
	m.logger.Info("dialog started",
		zap.Int64("chat_id", ev.ChatID),
		zap.String("operator_id", op.ID))
	return tr.replies
}
