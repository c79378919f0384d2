// Package receipt renders checks and receipts as fixed-width text for a
// line printer.
package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/reconcile"
	"github.com/roach88/tillpos/internal/till"
)

const (
	DefaultWidth = 42
	timeLayout   = "2006-01-02 15:04"
)

var _ till.Printer = (*TextPrinter)(nil)

// TextPrinter writes checks and receipts to w. Output of concurrent prints
// is never interleaved.
type TextPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	width  int
	header string
	num    *message.Printer
}

// Option configures a TextPrinter.
type Option func(*TextPrinter)

// WithWidth sets the paper width in characters.
func WithWidth(n int) Option {
	return func(p *TextPrinter) {
		if n >= 24 {
			p.width = n
		}
	}
}

// WithHeader sets the venue line printed centred at the top.
func WithHeader(h string) Option {
	return func(p *TextPrinter) { p.header = h }
}

// WithLanguage selects digit grouping for amounts.
func WithLanguage(tag language.Tag) Option {
	return func(p *TextPrinter) { p.num = message.NewPrinter(tag) }
}

func NewTextPrinter(w io.Writer, opts ...Option) *TextPrinter {
	p := &TextPrinter{w: w, width: DefaultWidth, num: message.NewPrinter(language.English)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrintCheck implements till.Printer.
func (p *TextPrinter) PrintCheck(_ context.Context, c till.Check) error {
	var b strings.Builder
	p.title(&b)
	p.pair(&b, fmt.Sprintf("Check #%d", c.Order.CheckNumber), c.Table.Name)
	p.pair(&b, fmt.Sprintf("Guests %d", c.Order.Guests), c.Order.OpenedAt.Format(timeLayout))
	p.rule(&b)
	for _, it := range c.Order.Items {
		p.line(&b, it.Name, it.Qty, it.UnitPrice, domain.RoundMoney(it.LineTotal()))
	}
	p.rule(&b)
	p.totals(&b, c.Quote)
	b.WriteString("\n")
	return p.flush(b.String())
}

// PrintReceipt implements till.Printer.
func (p *TextPrinter) PrintReceipt(_ context.Context, st domain.Settlement) error {
	var lines []snapshotLine
	if len(st.Items) > 0 {
		if err := json.Unmarshal(st.Items, &lines); err != nil {
			return fmt.Errorf("receipt %s: decode items: %w", st.ID, err)
		}
	}

	var b strings.Builder
	p.title(&b)
	p.pair(&b, fmt.Sprintf("Receipt #%d", st.CheckNumber), st.TableName)
	p.pair(&b, "Cashier "+st.CashierID, st.SettledAt.Format(timeLayout))
	p.rule(&b)
	for _, l := range lines {
		p.line(&b, l.Name, l.Qty, l.UnitPrice, l.Total)
	}
	p.rule(&b)
	p.totals(&b, reconcile.Quote{
		Subtotal:      st.Subtotal,
		ServiceCharge: st.ServiceCharge,
		Discount:      st.Discount,
		DiscountKind:  st.DiscountKind,
		Payable:       st.Payable,
	})
	for _, t := range st.Tenders {
		label := instrumentLabel(t.Instrument)
		if t.DueDate != nil {
			label += " due " + t.DueDate.Format("2006-01-02")
		}
		p.pair(&b, label, p.money(t.Amount))
	}
	b.WriteString("\n")
	return p.flush(b.String())
}

// snapshotLine mirrors the item snapshot stored on settlements.
type snapshotLine struct {
	Name      string          `json:"name"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice int64           `json:"unitPrice"`
	Total     int64           `json:"total"`
}

func (p *TextPrinter) totals(b *strings.Builder, q reconcile.Quote) {
	p.pair(b, "Subtotal", p.money(q.Subtotal))
	if q.ServiceCharge > 0 {
		p.pair(b, "Service", p.money(q.ServiceCharge))
	}
	if q.Discount > 0 {
		label := "Discount"
		if q.DiscountKind == domain.DiscountCashback {
			label = "Bonus"
		}
		p.pair(b, label, "-"+p.money(q.Discount))
	}
	p.pair(b, "TOTAL", p.money(q.Payable))
}

func (p *TextPrinter) title(b *strings.Builder) {
	if p.header == "" {
		return
	}
	h := truncate(p.header, p.width)
	pad := (p.width - utf8.RuneCountInString(h)) / 2
	b.WriteString(strings.Repeat(" ", pad) + h + "\n")
}

// line prints an item name on its own row when the quantity column would
// not fit beside it.
func (p *TextPrinter) line(b *strings.Builder, name string, qty decimal.Decimal, unit, total int64) {
	detail := fmt.Sprintf("%s x %s", qty.String(), p.money(unit))
	amount := p.money(total)
	right := detail + "  " + amount
	if utf8.RuneCountInString(name)+1+utf8.RuneCountInString(right) > p.width {
		b.WriteString(truncate(name, p.width) + "\n")
		p.pair(b, "", right)
		return
	}
	p.pair(b, name, right)
}

func (p *TextPrinter) pair(b *strings.Builder, left, right string) {
	right = truncate(right, p.width)
	room := p.width - utf8.RuneCountInString(right) - 1
	if room < 0 {
		room = 0
	}
	left = truncate(left, room)
	gap := p.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(left + strings.Repeat(" ", gap) + right + "\n")
}

func (p *TextPrinter) rule(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", p.width) + "\n")
}

func (p *TextPrinter) money(v int64) string {
	return p.num.Sprintf("%d", v)
}

func (p *TextPrinter) flush(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, s); err != nil {
		return fmt.Errorf("printer: %w", err)
	}
	return nil
}

func instrumentLabel(i domain.Instrument) string {
	switch i {
	case domain.InstrumentCash:
		return "Cash"
	case domain.InstrumentCard:
		return "Card"
	case domain.InstrumentTransfer:
		return "Transfer"
	case domain.InstrumentDebt:
		return "Debt"
	}
	return string(i)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
