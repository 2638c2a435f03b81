package dialog

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
	"github.com/markjakearzadon/payentry-bot/internal/models"
	"github.com/markjakearzadon/payentry-bot/internal/pricing"
)

const (
	chatID   int64 = 1001
	callerID int64 = 555
)

var testNow = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	mu        sync.Mutex
	operators map[int64]models.Operator
	err       error
	calls     int
}

func (f *fakeDirectory) LookupOperator(_ context.Context, id int64) (models.Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return models.Operator{}, f.err
	}
	op, ok := f.operators[id]
	if !ok {
		return models.Operator{}, models.ErrOperatorNotFound
	}
	return op, nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	ref    string
	err    error
	stored []Media
}

func (f *fakeBlobs) Store(_ context.Context, m Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, m)
	return f.ref, f.err
}

type fakeSheet struct {
	mu   sync.Mutex
	rows [][]any
	err  error
}

func (f *fakeSheet) AppendRow(_ context.Context, row []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

type fakeRecords struct {
	mu       sync.Mutex
	payments []models.Payment
	err      error
}

func (f *fakeRecords) InsertPayment(_ context.Context, p models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payments = append(f.payments, p)
	return nil
}

type fixedRates map[string]decimal.Decimal

func (r fixedRates) Rates(context.Context) map[string]decimal.Decimal { return r }

type harness struct {
	m       *Machine
	dir     *fakeDirectory
	blobs   *fakeBlobs
	sheet   *fakeSheet
	records *fakeRecords
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	c, err := catalog.Default()
	require.NoError(t, err)

	h := &harness{
		dir: &fakeDirectory{operators: map[int64]models.Operator{
			callerID: {ID: "op-1", Name: "Anna", TelegramID: strconv.FormatInt(callerID, 10), Status: "active", Geo: "PL, DE"},
		}},
		blobs:   &fakeBlobs{ref: "https://files.example.com/proofs/abc"},
		sheet:   &fakeSheet{},
		records: &fakeRecords{},
	}
	h.m = NewMachine(Config{
		Catalog:   c,
		Pricing:   pricing.NewReconciler(c, fixedRates{"PLN": decimal.RequireFromString("4.30")}),
		Directory: h.dir,
		Proofs:    h.blobs,
		Sheet:     h.sheet,
		Records:   h.records,
		Now:       func() time.Time { return testNow },
	})
	return h
}

func (h *harness) command(name string) []Reply {
	return h.m.Handle(context.Background(), Event{ChatID: chatID, CallerID: callerID, Kind: EventCommand, Text: name})
}

func (h *harness) text(s string) []Reply {
	return h.m.Handle(context.Background(), Event{ChatID: chatID, CallerID: callerID, Kind: EventText, Text: s})
}

func (h *harness) choose(data string) []Reply {
	return h.m.Handle(context.Background(), Event{ChatID: chatID, CallerID: callerID, Kind: EventChoice, Data: data})
}

func (h *harness) media() []Reply {
	return h.m.Handle(context.Background(), Event{
		ChatID: chatID, CallerID: callerID, Kind: EventMedia,
		Media: &Media{FileID: "file-1", Photo: true},
	})
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, _, ok := h.m.State(chatID)
	require.True(t, ok, "expected an active dialog")
	return st
}

func (h *harness) draft(t *testing.T) Draft {
	t.Helper()
	_, d, ok := h.m.State(chatID)
	require.True(t, ok, "expected an active dialog")
	return d
}

// toAmount walks a dialog from /start up to the amount step.
func (h *harness) toAmount(t *testing.T) {
	t.Helper()
	h.command(CommandStart)
	h.choose(ProductData(0))
	h.text("https://www.instagram.com/some.user/")
	h.media()
	h.text("2024-03-05 14:30")
	require.Equal(t, StateAmount, h.state(t))
}

func lastText(replies []Reply) string {
	if len(replies) == 0 {
		return ""
	}
	return replies[len(replies)-1].Text
}

func TestHandle_FullDialogWithConfirmation(t *testing.T) {
	h := newHarness(t)

	replies := h.command(CommandStart)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Pick a product")
	assert.Len(t, replies[0].Options, 8)
	assert.Equal(t, StateProductChoice, h.state(t))

	replies = h.choose(ProductData(0))
	assert.Contains(t, lastText(replies), "Product: Personal 5")
	assert.Equal(t, StateCustomerLink, h.state(t))

	h.text("https://www.instagram.com/some.user/")
	assert.Equal(t, StateProof, h.state(t))

	h.media()
	assert.Equal(t, StateDateTime, h.state(t))

	replies = h.text("2024-03-05 14:30")
	assert.Contains(t, lastText(replies), "PLN")
	assert.Equal(t, StateAmount, h.state(t))

	replies = h.text("100")
	assert.Equal(t, StateAmountConfirm, h.state(t))
	assert.Contains(t, lastText(replies), "100.00 PLN ≈ 23.26 EUR")

	h.choose(DataAmountOK)
	assert.Equal(t, StateMethodChoice, h.state(t))

	replies = h.choose(MethodData(2))
	assert.Equal(t, StateReview, h.state(t))
	require.Len(t, replies, 1)
	assert.True(t, replies[0].HTML)
	assert.Contains(t, replies[0].Text, "@some.user")

	replies = h.choose(DataSend)
	assert.Equal(t, "✅ Payment saved!", lastText(replies))

	_, _, active := h.m.State(chatID)
	assert.False(t, active)
	assert.Equal(t, 0, h.m.sessions.Len())

	require.Len(t, h.sheet.rows, 1)
	assert.Equal(t, []any{
		"06.03.2024, 10:00:00",
		"Anna",
		"@some.user",
		"2024-03-05 14:30",
		100.0,
		23.26,
		"PL",
		"https://files.example.com/proofs/abc",
		"IBAN",
		"Personal 5",
	}, h.sheet.rows[0])

	require.Len(t, h.records.payments, 1)
	p := h.records.payments[0]
	assert.Equal(t, "op-1", p.ManagerID)
	assert.Equal(t, "PLN", p.Currency)
	assert.Equal(t, "https://www.instagram.com/some.user/", p.CRMLink)
	assert.True(t, p.AmountEUR.Equal(decimal.RequireFromString("23.26")))
	assert.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), p.TransactionDate)
	assert.Empty(t, p.PriceHint)
}

func TestHandle_TierMatchSkipsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.toAmount(t)

	replies := h.text("253,70")
	assert.Equal(t, StateMethodChoice, h.state(t))
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Standard")

	d := h.draft(t)
	assert.Equal(t, "Standard", d.PriceHint)
	assert.Equal(t, "59.00", d.AmountEUR.StringFixed(2))
}

func TestHandle_AmountEditClearsHint(t *testing.T) {
	h := newHarness(t)
	h.toAmount(t)

	h.text("45")
	require.Equal(t, StateAmountConfirm, h.state(t))
	h.choose(DataAmountEdit)
	require.Equal(t, StateAmount, h.state(t))

	h.text("253.70")
	assert.Equal(t, "Standard", h.draft(t).PriceHint)

	c := h.m.sessions.acquire(chatID)
	c.state = StateAmount
	h.m.sessions.release(chatID, c)

	h.text("45")
	assert.Empty(t, h.draft(t).PriceHint)
	assert.Equal(t, StateAmountConfirm, h.state(t))
}

func TestHandle_InvalidInputsKeepState(t *testing.T) {
	h := newHarness(t)
	h.command(CommandStart)
	h.choose(ProductData(0))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "not a url", input: "some.user", want: "does not look like a link"},
		{name: "other domain", input: "https://facebook.com/some.user", want: "Wrong link"},
		{name: "no handle", input: "https://instagram.com/", want: "No nickname"},
		{name: "domain only in query", input: "https://www.instagram.com?next=instagram.com/evil", want: "No nickname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := h.text(tt.input)
			assert.Contains(t, lastText(replies), tt.want)
			assert.Equal(t, StateCustomerLink, h.state(t))
		})
	}

	h.text("https://instagram.com/some.user?igsh=1")
	h.media()

	for _, input := range []string{"05.03.2024 14:30", "2024-02-30 10:00", "2024-03-05 25:00"} {
		h.text(input)
		assert.Equal(t, StateDateTime, h.state(t), input)
	}
	h.text("2024-02-29 10:00")
	require.Equal(t, StateAmount, h.state(t))

	for _, input := range []string{"abc", "0", "-5", "1.234", ""} {
		replies := h.text(input)
		assert.Contains(t, lastText(replies), "valid amount", input)
		assert.Equal(t, StateAmount, h.state(t), input)
	}

	replies := h.text("123456789012345")
	assert.Contains(t, lastText(replies), "too large")
	assert.Equal(t, StateAmount, h.state(t))
}

func TestHandle_MismatchedEventReprompts(t *testing.T) {
	h := newHarness(t)
	h.command(CommandStart)

	replies := h.text("Personal 5")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "pick a product")
	assert.NotEmpty(t, replies[1].Options)
	assert.Equal(t, StateProductChoice, h.state(t))

	replies = h.choose("prod:99")
	require.Len(t, replies, 2)
	assert.Equal(t, StateProductChoice, h.state(t))

	h.choose(ProductData(0))
	h.text("https://instagram.com/some.user")
	replies = h.text("here is the screenshot")
	assert.Contains(t, replies[0].Text, "photo or a file")
	assert.Equal(t, StateProof, h.state(t))
	assert.Empty(t, h.blobs.stored)
}

func TestHandle_ManualEntries(t *testing.T) {
	h := newHarness(t)
	h.command(CommandStart)

	h.choose(ProductData(14))
	require.Equal(t, StateProductManual, h.state(t))
	h.text("   ")
	require.Equal(t, StateProductManual, h.state(t))
	h.text("  Custom reading ")
	require.Equal(t, StateCustomerLink, h.state(t))
	assert.Equal(t, "Custom reading", h.draft(t).Product)

	h.text("https://instagram.com/some.user")
	h.media()
	h.text("2024-03-05 14:30")
	h.text("253.70")
	require.Equal(t, StateMethodChoice, h.state(t))

	h.choose(MethodData(4))
	require.Equal(t, StateMethodManual, h.state(t))
	h.text("Crypto")
	require.Equal(t, StateReview, h.state(t))
	assert.Equal(t, "Crypto", h.draft(t).PaymentMethod)
}

func TestHandle_ProofUploadFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.blobs.err = errors.New("storage down")
	h.command(CommandStart)
	h.choose(ProductData(0))
	h.text("https://instagram.com/some.user")

	replies := h.media()
	assert.Equal(t, StateDateTime, h.state(t))
	assert.Contains(t, replies[0].Text, "could not be stored")
	assert.Equal(t, ProofUploadFailed, h.draft(t).ProofRef)
}

func TestHandle_Commands(t *testing.T) {
	t.Run("idle event", func(t *testing.T) {
		h := newHarness(t)
		replies := h.text("hello")
		assert.Equal(t, msgIdle, lastText(replies))
		assert.Equal(t, 0, h.m.sessions.Len())
	})

	t.Run("reset from any step", func(t *testing.T) {
		h := newHarness(t)
		h.toAmount(t)
		replies := h.command(CommandReset)
		assert.Equal(t, msgReset, lastText(replies))
		_, _, ok := h.m.State(chatID)
		assert.False(t, ok)
	})

	t.Run("start mid dialog opens a fresh draft", func(t *testing.T) {
		h := newHarness(t)
		h.toAmount(t)
		old := h.draft(t).ID

		h.command(CommandStart)
		assert.Equal(t, StateProductChoice, h.state(t))
		d := h.draft(t)
		assert.NotEqual(t, old, d.ID)
		assert.Empty(t, d.Product)
		assert.Equal(t, 2, h.dir.calls)
	})

	t.Run("unknown command", func(t *testing.T) {
		h := newHarness(t)
		replies := h.command("help")
		assert.Equal(t, msgUnknownCmd, lastText(replies))
	})

	t.Run("access denied", func(t *testing.T) {
		h := newHarness(t)
		h.dir.operators = nil
		replies := h.command(CommandStart)
		assert.Equal(t, msgDenied, lastText(replies))
		_, _, ok := h.m.State(chatID)
		assert.False(t, ok)
	})

	t.Run("directory failure", func(t *testing.T) {
		h := newHarness(t)
		h.dir.err = errors.New("db down")
		replies := h.command(CommandStart)
		assert.Equal(t, msgStartFailed, lastText(replies))
	})
}

func TestHandle_CancelDropsDraft(t *testing.T) {
	h := newHarness(t)
	h.toAmount(t)
	h.text("253.70")
	h.choose(MethodData(0))
	require.Equal(t, StateReview, h.state(t))

	replies := h.choose(DataCancel)
	assert.Equal(t, "❌ Cancelled.", lastText(replies))
	assert.Empty(t, h.sheet.rows)
	assert.Empty(t, h.records.payments)
	_, _, ok := h.m.State(chatID)
	assert.False(t, ok)
}

func TestHandle_SendFailureKeepsDraftAndRetries(t *testing.T) {
	h := newHarness(t)
	h.toAmount(t)
	h.text("253.70")
	h.choose(MethodData(0))

	h.records.err = errors.New("insert failed")
	replies := h.choose(DataSend)
	assert.Contains(t, lastText(replies), "could not be saved")
	assert.Equal(t, StateReview, h.state(t))
	assert.True(t, h.draft(t).RowAppended)
	assert.Len(t, h.sheet.rows, 1)

	h.records.err = nil
	replies = h.choose(DataSend)
	assert.Equal(t, "✅ Payment saved!", lastText(replies))
	assert.Len(t, h.sheet.rows, 1)
	assert.Len(t, h.records.payments, 1)
}

func TestHandle_SheetFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.toAmount(t)
	h.text("253.70")
	h.choose(MethodData(0))

	h.sheet.err = errors.New("quota")
	h.choose(DataSend)
	assert.Equal(t, StateReview, h.state(t))
	assert.False(t, h.draft(t).RowAppended)
	assert.Empty(t, h.records.payments)
}

func TestHandle_UnknownCurrencyKeepsAmount(t *testing.T) {
	h := newHarness(t)
	h.dir.operators[callerID] = models.Operator{ID: "op-2", Name: "Ivan", Geo: "UA"}
	h.toAmount(t)
	assert.Equal(t, "UAH", h.draft(t).Currency)

	h.text("1000")
	d := h.draft(t)
	assert.Equal(t, "1000.00", d.AmountEUR.StringFixed(2))
	assert.Equal(t, StateAmountConfirm, h.state(t))
}

func TestHandle_ChatsAreIndependent(t *testing.T) {
	h := newHarness(t)
	other := int64(2002)
	h.toAmount(t)

	replies := h.m.Handle(context.Background(), Event{ChatID: other, CallerID: callerID, Kind: EventText, Text: "100"})
	assert.Equal(t, msgIdle, lastText(replies))
	assert.Equal(t, StateAmount, h.state(t))
}

func TestHandle_ConcurrentChats(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(chat int64) {
			defer wg.Done()
			ctx := context.Background()
			send := func(ev Event) {
				ev.ChatID, ev.CallerID = chat, callerID
				h.m.Handle(ctx, ev)
			}
			send(Event{Kind: EventCommand, Text: CommandStart})
			send(Event{Kind: EventChoice, Data: ProductData(1)})
			send(Event{Kind: EventText, Text: "https://instagram.com/user" + strconv.FormatInt(chat, 10)})
			send(Event{Kind: EventMedia, Media: &Media{FileID: "f"}})
			send(Event{Kind: EventText, Text: "2024-03-05 14:30"})
			send(Event{Kind: EventText, Text: "253.70"})
			send(Event{Kind: EventChoice, Data: MethodData(0)})
			send(Event{Kind: EventChoice, Data: DataSend})
		}(int64(3000 + i))
	}
	wg.Wait()

	assert.Len(t, h.sheet.rows, 20)
	assert.Len(t, h.records.payments, 20)
	assert.Equal(t, 0, h.m.sessions.Len())
}
