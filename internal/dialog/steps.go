package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
	"github.com/markjakearzadon/payentry-bot/internal/models"
	"github.com/markjakearzadon/payentry-bot/internal/validate"
)

// State names a dialog step.
type State string

const (
	StateProductChoice State = "product_choice"
	StateProductManual State = "product_manual"
	StateCustomerLink  State = "customer_link"
	StateProof         State = "proof"
	StateDateTime      State = "date_time"
	StateAmount        State = "amount"
	StateAmountConfirm State = "amount_confirm"
	StateMethodChoice  State = "method_choice"
	StateMethodManual  State = "method_manual"
	StateReview        State = "review"
	// StateDone ends the dialog and drops the draft.
	StateDone State = "done"
)

// Callback payloads of the choice prompts.
const (
	dataProduct    = "prod:"
	dataMethod     = "method:"
	DataAmountOK   = "amount:ok"
	DataAmountEdit = "amount:edit"
	DataSend       = "review:send"
	DataCancel     = "review:cancel"
)

// ProductData and MethodData build the callback payload for the i-th
// catalog entry.
func ProductData(i int) string { return dataProduct + strconv.Itoa(i) }
func MethodData(i int) string  { return dataMethod + strconv.Itoa(i) }

// transition is a step outcome. An empty next keeps the current step.
type transition struct {
	next    State
	replies []Reply
}

func stay(replies ...Reply) transition { return transition{replies: replies} }

func goTo(next State, replies ...Reply) transition {
	return transition{next: next, replies: replies}
}

func finish(replies ...Reply) transition { return goTo(StateDone, replies...) }

type step struct {
	accepts EventKind
	// hint is sent ahead of the prompt when the input is unusable.
	hint   string
	prompt func(m *Machine, d *Draft) Reply
	run    func(m *Machine, ctx context.Context, d *Draft, ev Event) transition
}

func (m *Machine) stepTable() map[State]step {
	return map[State]step{
		StateProductChoice: {
			accepts: EventChoice,
			hint:    "Please pick a product with the buttons.",
			prompt:  (*Machine).productPrompt,
			run:     (*Machine).onProductChoice,
		},
		StateProductManual: {
			accepts: EventText,
			hint:    "Type the product name as text.",
			prompt:  constPrompt(promptProductManual),
			run:     (*Machine).onProductManual,
		},
		StateCustomerLink: {
			accepts: EventText,
			hint:    "Send the customer link as text.",
			prompt:  (*Machine).customerLinkPrompt,
			run:     (*Machine).onCustomerLink,
		},
		StateProof: {
			accepts: EventMedia,
			hint:    "Send a photo or a file.",
			prompt:  constPrompt(promptProof),
			run:     (*Machine).onProof,
		},
		StateDateTime: {
			accepts: EventText,
			hint:    "Type the date and time as text.",
			prompt:  (*Machine).dateTimePrompt,
			run:     (*Machine).onDateTime,
		},
		StateAmount: {
			accepts: EventText,
			hint:    "Type the amount as a number.",
			prompt:  (*Machine).amountPrompt,
			run:     (*Machine).onAmount,
		},
		StateAmountConfirm: {
			accepts: EventChoice,
			hint:    "Please confirm the amount with the buttons.",
			prompt:  (*Machine).amountConfirmPrompt,
			run:     (*Machine).onAmountConfirm,
		},
		StateMethodChoice: {
			accepts: EventChoice,
			hint:    "Please pick a payment method with the buttons.",
			prompt:  (*Machine).methodPrompt,
			run:     (*Machine).onMethodChoice,
		},
		StateMethodManual: {
			accepts: EventText,
			hint:    "Type the payment method as text.",
			prompt:  constPrompt(promptMethodManual),
			run:     (*Machine).onMethodManual,
		},
		StateReview: {
			accepts: EventChoice,
			hint:    "Press Send to save the payment or Cancel to drop it.",
			prompt:  (*Machine).reviewPrompt,
			run:     (*Machine).onReview,
		},
	}
}

func (m *Machine) reprompt(st step, d *Draft) []Reply {
	return []Reply{text("⚠️ " + st.hint), st.prompt(m, d)}
}

const (
	promptProductManual = "Type the product name:"
	promptProof         = "Send the payment screenshot (photo or file):"
	promptMethodManual  = "Type the payment method:"
	amountTooLarge      = "That amount is too large. Enter an amount up to 9999999999.99."
)

func constPrompt(s string) func(*Machine, *Draft) Reply {
	return func(*Machine, *Draft) Reply { return text(s) }
}

// begin opens a fresh draft for op and shows the product list.
func (m *Machine) begin(c *conversation, op models.Operator) transition {
	c.draft = newDraft(op, m.now())
	c.state = StateProductChoice
	return goTo(StateProductChoice, m.productPrompt(c.draft))
}

func (m *Machine) productPrompt(*Draft) Reply {
	return Reply{
		Text:    "Pick a product (or /reset to cancel):",
		Options: grid(itemOptions(m.catalog.Products, ProductData), 2),
	}
}

func (m *Machine) customerLinkPrompt(*Draft) Reply {
	return text(fmt.Sprintf("Customer link (full URL, e.g. https://www.%s/nickname/):", m.catalog.CustomerDomain))
}

func (m *Machine) dateTimePrompt(*Draft) Reply {
	return text(fmt.Sprintf("Transaction date and time (e.g. %s):", m.dateExample()))
}

func (m *Machine) amountPrompt(d *Draft) Reply {
	return text(fmt.Sprintf("Payment amount in %s (number only):", d.Currency))
}

func (m *Machine) amountConfirmPrompt(d *Draft) Reply {
	return Reply{
		Text: fmt.Sprintf("%s %s ≈ %s EUR. Is that right?",
			d.AmountLocal.StringFixed(2), d.Currency, d.AmountEUR.StringFixed(2)),
		Options: [][]Option{{
			{Label: "✅ Yes", Data: DataAmountOK},
			{Label: "✏️ No", Data: DataAmountEdit},
		}},
	}
}

func (m *Machine) methodPrompt(*Draft) Reply {
	return Reply{
		Text:    "Payment method:",
		Options: grid(itemOptions(m.catalog.Methods, MethodData), 1),
	}
}

func (m *Machine) reviewPrompt(d *Draft) Reply {
	return Reply{
		Text: FormatSummary(d),
		HTML: true,
		Options: [][]Option{
			{{Label: "✅ Send", Data: DataSend}},
			{{Label: "❌ Cancel", Data: DataCancel}},
		},
	}
}

func (m *Machine) dateExample() string {
	return m.now().In(m.loc).Format(validate.DateTimeLayout)
}

func itemOptions(items []catalog.Item, data func(int) string) []Option {
	out := make([]Option, len(items))
	for i, it := range items {
		out[i] = Option{Label: it.Label, Data: data(i)}
	}
	return out
}

// pickItem resolves a callback payload against a catalog list.
func pickItem(items []catalog.Item, prefix, data string) (catalog.Item, bool) {
	raw, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return catalog.Item{}, false
	}
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 || i >= len(items) {
		return catalog.Item{}, false
	}
	return items[i], true
}

func (m *Machine) onProductChoice(_ context.Context, d *Draft, ev Event) transition {
	item, ok := pickItem(m.catalog.Products, dataProduct, ev.Data)
	if !ok {
		return stay(m.reprompt(m.steps[StateProductChoice], d)...)
	}
	if item.Manual {
		return goTo(StateProductManual, text(promptProductManual))
	}

	d.Product = item.Value()
	return goTo(StateCustomerLink,
		text(fmt.Sprintf("Product: %s\n\n%s", d.Product, m.customerLinkPrompt(d).Text)))
}

func (m *Machine) onProductManual(_ context.Context, d *Draft, ev Event) transition {
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		return stay(text("The product name cannot be empty. " + promptProductManual))
	}
	d.Product = name
	return goTo(StateCustomerLink, m.customerLinkPrompt(d))
}

func (m *Machine) onCustomerLink(_ context.Context, d *Draft, ev Event) transition {
	link := strings.TrimSpace(ev.Text)
	domain := m.catalog.CustomerDomain

	if !validate.IsValidURL(link) {
		return stay(text("⚠️ This does not look like a link. It must start with https://"))
	}
	if !validate.MatchesDomain(link, domain) {
		return stay(text(fmt.Sprintf(
			"❌ Wrong link. It must be a %s profile, e.g. https://www.%s/nickname/\nTry again or press /reset",
			domain, domain)))
	}
	handle, err := validate.ExtractHandle(link, domain)
	if err != nil {
		return stay(text(fmt.Sprintf(
			"❌ No nickname found in the link. Send the profile link, e.g. https://www.%s/nickname/", domain)))
	}

	d.CustomerLink = link
	d.CustomerHandle = "@" + handle
	return goTo(StateProof, text(promptProof))
}

func (m *Machine) onProof(ctx context.Context, d *Draft, ev Event) transition {
	ref, err := m.proofs.Store(ctx, *ev.Media)
	if err != nil {
		m.logger.Warn("proof upload failed, continuing without it",
			zap.Int64("chat_id", ev.ChatID), zap.Error(err))
		d.ProofRef = ProofUploadFailed
		return goTo(StateDateTime,
			text("⚠️ Screenshot received but could not be stored. Continuing without it."),
			m.dateTimePrompt(d))
	}

	d.ProofRef = ref
	return goTo(StateDateTime, text("✅ Screenshot received."), m.dateTimePrompt(d))
}

func (m *Machine) onDateTime(_ context.Context, d *Draft, ev Event) transition {
	at, err := validate.ParseDateTime(ev.Text)
	if err != nil {
		return stay(text(fmt.Sprintf("Wrong format. Use YYYY-MM-DD HH:mm (e.g. %s)", m.dateExample())))
	}
	if _, err := time.ParseInLocation(validate.DateTimeLayout, at, m.loc); err != nil {
		return stay(text(fmt.Sprintf("This date does not exist. Use YYYY-MM-DD HH:mm (e.g. %s)", m.dateExample())))
	}
	d.TransactionAt = at

	if d.Currency == "" {
		loc := m.pricing.ResolveCountry(d.Operator.Geo)
		d.Country, d.Currency = loc.Country, loc.Currency
	}
	return goTo(StateAmount, m.amountPrompt(d))
}

func (m *Machine) onAmount(ctx context.Context, d *Draft, ev Event) transition {
	amount, err := validate.ParseMoney(ev.Text)
	if errors.Is(err, validate.ErrAmountTooLarge) {
		return stay(text(amountTooLarge))
	}
	if err != nil {
		return stay(text("Enter a valid amount, e.g. 150 or 149.99."))
	}

	d.PriceHint = ""
	eur, converted := m.pricing.ConvertToEUR(ctx, amount, d.Currency)
	if !converted {
		m.logger.Info("no rate for currency, keeping local amount",
			zap.String("currency", d.Currency), zap.Int64("chat_id", ev.ChatID))
	}
	if eur.GreaterThan(validate.MaxAmount) {
		return stay(text(amountTooLarge))
	}
	d.AmountLocal = amount
	d.AmountEUR = eur

	match, ok := m.pricing.MatchTier(eur)
	if !ok {
		return goTo(StateAmountConfirm, m.amountConfirmPrompt(d))
	}
	d.PriceHint = match.Tier.Label
	return goTo(StateMethodChoice,
		text(fmt.Sprintf("%s %s ≈ %s EUR, looks like %s.",
			amount.StringFixed(2), d.Currency, eur.StringFixed(2), match.Tier.Label)),
		m.methodPrompt(d))
}

func (m *Machine) onAmountConfirm(_ context.Context, d *Draft, ev Event) transition {
	switch ev.Data {
	case DataAmountEdit:
		return goTo(StateAmount, text("Enter the amount again:"))
	case DataAmountOK:
		return goTo(StateMethodChoice, m.methodPrompt(d))
	default:
		return stay(m.reprompt(m.steps[StateAmountConfirm], d)...)
	}
}

func (m *Machine) onMethodChoice(_ context.Context, d *Draft, ev Event) transition {
	item, ok := pickItem(m.catalog.Methods, dataMethod, ev.Data)
	if !ok {
		return stay(m.reprompt(m.steps[StateMethodChoice], d)...)
	}
	if item.Manual {
		return goTo(StateMethodManual, text(promptMethodManual))
	}

	d.PaymentMethod = item.Value()
	return goTo(StateReview, m.reviewPrompt(d))
}

func (m *Machine) onMethodManual(_ context.Context, d *Draft, ev Event) transition {
	method := strings.TrimSpace(ev.Text)
	if method == "" {
		return stay(text("The payment method cannot be empty. " + promptMethodManual))
	}
	d.PaymentMethod = method
	return goTo(StateReview, m.reviewPrompt(d))
}

func (m *Machine) onReview(ctx context.Context, d *Draft, ev Event) transition {
	switch ev.Data {
	case DataCancel:
		return finish(text("❌ Cancelled."))
	case DataSend:
		if err := m.commit(ctx, d); err != nil {
			m.logger.Error("saving payment failed",
				zap.Int64("chat_id", ev.ChatID),
				zap.String("payment_id", d.ID.String()),
				zap.Bool("row_appended", d.RowAppended),
				zap.Error(err))
			return stay(text("❌ The payment could not be saved. Press Send to try again or Cancel."))
		}
		m.logger.Info("payment saved",
			zap.String("payment_id", d.ID.String()),
			zap.String("operator_id", d.Operator.ID))
		return finish(text("✅ Payment saved!"))
	default:
		return stay(m.reprompt(m.steps[StateReview], d)...)
	}
}

// commit writes the sheet row, then the record. A row already written by an
// earlier attempt is not written again.
func (m *Machine) commit(ctx context.Context, d *Draft) error {
	now := m.now()
	rec, err := d.Payment(m.loc, now)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if !d.RowAppended {
		if err := m.sheet.AppendRow(ctx, d.Row(now.In(m.loc))); err != nil {
			return fmt.Errorf("%w: append sheet row: %w", ErrPersistence, err)
		}
		d.RowAppended = true
	}
	if err := m.records.InsertPayment(ctx, rec); err != nil {
		return fmt.Errorf("%w: insert record: %w", ErrPersistence, err)
	}
	return nil
}
