// Package assistant routes chat instructions to invoice, expense and registry
// operations through the model's tool calling.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/ares"
	"github.com/fakturace/fakturace/internal/expenses"
	"github.com/fakturace/fakturace/internal/invoicing"
	"github.com/fakturace/fakturace/internal/llm"
	"github.com/fakturace/fakturace/internal/money"
	"github.com/fakturace/fakturace/internal/shared"
)

// MaxHistory caps the chat turns forwarded to the model.
const MaxHistory = 20

var errNotConfigured = errors.New("assistant: dependency not configured")

const (
	msgApology       = "Omlouvám se, při zpracování požadavku se něco pokazilo. Zkuste to prosím za chvíli znovu, případně požadavek přeformulujte."
	msgHelp          = "Mohu vystavit fakturu, přidat na ni položku, upravit ji nebo změnit její stav, zaevidovat výdaj nebo vyhledat firmu v ARES. S čím vám mohu pomoci?"
	msgNotUnderstood = "Požadavku jsem úplně neporozuměl. Zkuste ho prosím napsat jinak."
	msgReceipt       = "Účtenku se nepodařilo přečíst. Nahrajte prosím ostřejší fotografii, nebo výdaj zadejte ručně."
)

// Turn is one earlier message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a file sent along with the message.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Request is one chat message to dispatch.
type Request struct {
	CompanyID   int64
	UserID      int64
	Message     string
	PagePath    string
	History     []Turn
	Attachments []Attachment
}

// Response is what the chat shows back, with an optional UI action.
type Response struct {
	Content string         `json:"content"`
	Action  *shared.Action `json:"action,omitempty"`
}

// Invoices is the invoice mutation surface the dispatcher drives.
type Invoices interface {
	CreateFromDraft(ctx context.Context, companyID int64, actor string, d invoicing.Draft) (invoicing.Outcome, error)
	AddItem(ctx context.Context, companyID int64, actor string, t invoicing.Target, in invoicing.ItemInput) (invoicing.Outcome, error)
	Update(ctx context.Context, companyID int64, actor string, t invoicing.Target, req invoicing.UpdateRequest) (invoicing.Outcome, error)
	ChangeStatus(ctx context.Context, companyID int64, actor string, t invoicing.Target, status string) (invoicing.Outcome, error)
}

// Expenses records expenses.
type Expenses interface {
	CreateFromDraft(ctx context.Context, companyID int64, d expenses.Draft) (expenses.Outcome, error)
}

// ReceiptReader reads a photographed receipt.
type ReceiptReader interface {
	ExtractReceiptFields(ctx context.Context, image llm.Image) (expenses.Draft, error)
}

// Registry looks companies up in ARES.
type Registry interface {
	LookupByICO(ctx context.Context, ico string) (*ares.Company, error)
	SearchByName(ctx context.Context, name string) ([]ares.Company, error)
}

// Observer counts dispatched operations by outcome.
type Observer interface {
	ObserveDispatch(tool, outcome string)
}

// Config wires Dispatcher.
type Config struct {
	Completer llm.Completer
	Invoices  Invoices
	Expenses  Expenses
	Receipts  ReceiptReader
	Registry  Registry
	Observer  Observer
	Logger    *slog.Logger
}

// Dispatcher turns one chat message into at most one operation. It keeps no
// state between calls.
type Dispatcher struct {
	completer llm.Completer
	invoices  Invoices
	expenses  Expenses
	receipts  ReceiptReader
	registry  Registry
	observer  Observer
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher constructs Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Dispatcher{
		completer: cfg.Completer,
		invoices:  cfg.Invoices,
		expenses:  cfg.Expenses,
		receipts:  cfg.Receipts,
		registry:  cfg.Registry,
		observer:  cfg.Observer,
		validate:  v,
		logger:    cfg.Logger.With(slog.String("component", "assistant")),
		now:       time.Now,
	}
}

// Dispatch handles one message. It never returns an error: failures become
// a polite message with a suggested next step.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	for _, a := range req.Attachments {
		if strings.HasPrefix(strings.ToLower(a.MIMEType), "image/") && len(a.Data) > 0 {
			return d.receipt(ctx, req, a)
		}
	}

	if d.completer == nil {
		d.logger.Error("dispatch without language model", slog.Any("error", llm.ErrNotConfigured))
		return Response{Content: msgApology}
	}
	resp, err := d.completer.Complete(ctx, llm.Request{
		System:    d.systemPrompt(req.PagePath),
		Messages:  messages(req),
		Tools:     toolMenu,
		MaxTokens: 800,
	})
	if err != nil {
		d.logger.Error("assistant completion", slog.Int64("company_id", req.CompanyID), slog.Any("error", err))
		d.observe("none", "error")
		return Response{Content: msgApology}
	}
	if resp.ToolCall == nil {
		d.observe("none", "text")
		if content := strings.TrimSpace(resp.Content); content != "" {
			return Response{Content: resp.Content}
		}
		return Response{Content: msgHelp}
	}
	return d.call(ctx, req, resp.ToolCall)
}

func messages(req Request) []llm.Message {
	history := req.History
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	out := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := llm.RoleUser
		if t.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: req.Message})
}

func (d *Dispatcher) systemPrompt(pagePath string) string {
	page := pagePath
	if page == "" {
		page = "neznámá"
	}
	return fmt.Sprintf(`Jsi asistent fakturační aplikace pro české podnikatele. Dnes je %s.
Uživatel se právě nachází na stránce: %s.
Pokud chce uživatel něco udělat s fakturou nebo výdajem, zavolej odpovídající funkci.
Když uživatel na stránce faktury mluví o "této faktuře", invoiceId nevyplňuj.
Částky uváděj bez DPH, "15k" znamená 15000. Pokud požadavek není jasný, zeptej se česky a stručně.`,
		d.now().Format("2.1.2006"), page)
}

func (d *Dispatcher) receipt(ctx context.Context, req Request, a Attachment) Response {
	if d.receipts == nil || d.expenses == nil {
		return d.failure("receipt", req, fmt.Errorf("%w: receipts", errNotConfigured))
	}
	draft, err := d.receipts.ExtractReceiptFields(ctx, llm.Image{MIMEType: a.MIMEType, Data: a.Data})
	if err != nil {
		d.logger.Warn("receipt extraction", slog.Int64("company_id", req.CompanyID), slog.Any("error", err))
		d.observe("receipt", "error")
		return Response{Content: msgReceipt}
	}
	draft.ReceiptAttachment = a.Name
	out, err := d.expenses.CreateFromDraft(ctx, req.CompanyID, draft)
	if err != nil {
		return d.failure("receipt", req, err)
	}
	d.observe("receipt", "ok")
	return Response{Content: out.Message, Action: out.Action}
}

func (d *Dispatcher) call(ctx context.Context, req Request, tc *llm.ToolCall) Response {
	actor := shared.Identity{CompanyID: req.CompanyID, UserID: req.UserID}.Actor()
	page := func(id int64) invoicing.Target {
		return invoicing.Target{InvoiceID: id, PagePath: req.PagePath}
	}

	if !d.serves(tc.Name) {
		return d.failure(tc.Name, req, fmt.Errorf("%w: %s", errNotConfigured, tc.Name))
	}

	var (
		resp Response
		err  error
	)
	switch tc.Name {
	case ToolCreateInvoice:
		var args createInvoiceArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		var out invoicing.Outcome
		out, err = d.invoices.CreateFromDraft(ctx, req.CompanyID, actor, args.draft())
		resp = fromInvoice(out)
	case ToolAddInvoiceItem:
		var args addItemArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		var out invoicing.Outcome
		out, err = d.invoices.AddItem(ctx, req.CompanyID, actor, page(args.InvoiceID), invoicing.ItemInput{
			Description: args.Description,
			Quantity:    value(args.Quantity),
			Unit:        args.Unit,
			UnitPrice:   value(args.UnitPrice),
			VATRate:     args.VATRate,
		})
		resp = fromInvoice(out)
	case ToolUpdateInvoice:
		var args updateInvoiceArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		var out invoicing.Outcome
		out, err = d.invoices.Update(ctx, req.CompanyID, actor, page(args.InvoiceID), args.request())
		resp = fromInvoice(out)
	case ToolChangeInvoiceStatus:
		var args changeStatusArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		var out invoicing.Outcome
		out, err = d.invoices.ChangeStatus(ctx, req.CompanyID, actor, page(args.InvoiceID), args.Status)
		resp = fromInvoice(out)
	case ToolCreateExpense:
		var args createExpenseArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		var out expenses.Outcome
		out, err = d.expenses.CreateFromDraft(ctx, req.CompanyID, args.draft())
		resp = Response{Content: out.Message, Action: out.Action}
	case ToolLookupCompany:
		var args lookupCompanyArgs
		if r, ok := d.decode(tc, &args); !ok {
			return r
		}
		resp, err = d.lookup(ctx, args)
	default:
		d.logger.Warn("model called unknown tool", slog.String("tool", tc.Name))
		d.observe(tc.Name, "unknown")
		return Response{Content: msgNotUnderstood}
	}
	if err != nil {
		return d.failure(tc.Name, req, err)
	}
	d.observe(tc.Name, "ok")
	return resp
}

// decode parses and validates tool arguments. On failure it returns the
// message to show instead.
func (d *Dispatcher) decode(tc *llm.ToolCall, target any) (Response, bool) {
	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if err := llm.DecodeJSON(raw, target); err != nil {
		d.logger.Warn("tool arguments", slog.String("tool", tc.Name), slog.Any("error", err))
		d.observe(tc.Name, "invalid")
		return Response{Content: msgNotUnderstood}, false
	}
	err := d.validate.Struct(target)
	if err == nil {
		return Response{}, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		d.logger.Error("validate tool arguments", slog.String("tool", tc.Name), slog.Any("error", err))
		return Response{Content: msgApology}, false
	}
	d.observe(tc.Name, "invalid")
	return Response{Content: describe(verrs)}, false
}

func describe(verrs validator.ValidationErrors) string {
	var missing, invalid []string
	seen := map[string]bool{}
	for _, fe := range verrs {
		label := fe.Field()
		if l, ok := argLabels[label]; ok {
			label = l
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		if strings.HasPrefix(fe.Tag(), "required") {
			missing = append(missing, label)
		} else {
			invalid = append(invalid, label)
		}
	}
	var b strings.Builder
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Abych to mohl udělat, potřebuji ještě: %s.", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Tyto údaje nejsou ve správném tvaru: %s.", strings.Join(invalid, ", "))
	}
	b.WriteString(" Doplňte je prosím a zkuste to znovu.")
	return b.String()
}

func (d *Dispatcher) failure(op string, req Request, err error) Response {
	d.logger.Error("assistant operation failed",
		slog.String("op", op),
		slog.Int64("company_id", req.CompanyID),
		slog.Any("error", err))
	d.observe(op, "error")

	switch {
	case errors.Is(err, invoicing.ErrNotFound):
		return Response{
			Content: "Fakturu se nepodařilo najít. Otevřete prosím fakturu, kterou chcete upravit, nebo uveďte její číslo.",
			Action:  shared.Navigate("/invoices"),
		}
	case errors.Is(err, invoicing.ErrItemNotFound):
		return Response{Content: "Tuto položku jsem na faktuře nenašel. Napište prosím přesný název položky."}
	case errors.Is(err, invoicing.ErrInvalidStatus):
		return Response{Content: "Tuto změnu stavu faktury nelze provést. Zkontrolujte prosím aktuální stav faktury."}
	case errors.Is(err, invoicing.ErrInvalidInput), errors.Is(err, expenses.ErrInvalidInput):
		return Response{Content: "Zadané údaje nejsou úplné. Upřesněte prosím částku a popis a zkuste to znovu."}
	}
	return Response{Content: msgApology}
}

// serves reports whether the collaborator behind a tool is wired.
func (d *Dispatcher) serves(tool string) bool {
	switch tool {
	case ToolCreateInvoice, ToolAddInvoiceItem, ToolUpdateInvoice, ToolChangeInvoiceStatus:
		return d.invoices != nil
	case ToolCreateExpense:
		return d.expenses != nil
	case ToolLookupCompany:
		return d.registry != nil
	}
	return true
}

func (d *Dispatcher) lookup(ctx context.Context, args lookupCompanyArgs) (Response, error) {
	var companies []ares.Company
	ico := strings.ReplaceAll(args.ICO, " ", "")
	if ico != "" {
		c, err := d.registry.LookupByICO(ctx, ico)
		switch {
		case errors.Is(err, ares.ErrInvalidICO):
			return Response{Content: fmt.Sprintf("IČO %s není platné. Zkontrolujte ho prosím, mělo by mít 8 číslic.", ico)}, nil
		case errors.Is(err, ares.ErrNotFound):
			return Response{Content: fmt.Sprintf("Firmu s IČO %s jsem v ARES nenašel. Zkuste ji prosím vyhledat podle názvu.", ico)}, nil
		case err != nil:
			return Response{}, err
		}
		companies = []ares.Company{*c}
	} else {
		found, err := d.registry.SearchByName(ctx, args.Name)
		switch {
		case errors.Is(err, ares.ErrNotFound):
			return Response{Content: fmt.Sprintf("Firmu „%s“ jsem v ARES nenašel. Zkuste prosím zadat IČO.", args.Name)}, nil
		case err != nil:
			return Response{}, err
		}
		companies = found
	}

	var b strings.Builder
	if len(companies) == 1 {
		b.WriteString("Našel jsem firmu:\n")
	} else {
		b.WriteString("Našel jsem tyto firmy:\n")
	}
	for _, c := range companies {
		b.WriteString("• ")
		b.WriteString(describeCompany(c))
		b.WriteString("\n")
	}
	return Response{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func describeCompany(c ares.Company) string {
	parts := []string{c.Name, "IČO " + c.ICO}
	if c.DIC != "" {
		parts = append(parts, "DIČ "+c.DIC)
	}
	addr := strings.TrimSpace(strings.Join([]string{c.Address, strings.TrimSpace(c.PostalCode + " " + c.City)}, ", "))
	addr = strings.Trim(addr, ", ")
	if addr != "" {
		parts = append(parts, addr)
	}
	return strings.Join(parts, ", ")
}

func (d *Dispatcher) observe(tool, outcome string) {
	if d.observer != nil {
		d.observer.ObserveDispatch(tool, outcome)
	}
}

func fromInvoice(out invoicing.Outcome) Response {
	return Response{Content: out.Message, Action: out.Action}
}

func value(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

func nullable(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*p)
}

func (a createInvoiceArgs) draft() invoicing.Draft {
	d := invoicing.Draft{
		CustomerName:  strings.TrimSpace(a.CustomerName),
		CustomerICO:   strings.TrimSpace(a.CustomerICO),
		Amount:        nullable(a.Amount),
		Currency:      a.Currency,
		DueDays:       a.DueDays,
		Notes:         a.Notes,
		Description:   a.Description,
		ReverseCharge: a.ReverseCharge,
	}
	for _, it := range a.Items {
		item := invoicing.DraftItem{
			Description: it.Description,
			Quantity:    decimal.NewFromInt(1),
			Unit:        it.Unit,
			UnitPrice:   value(it.UnitPrice),
			VATRate:     it.VATRate,
		}
		if it.Quantity != nil && it.Quantity.IsPositive() {
			item.Quantity = *it.Quantity
		}
		d.Items = append(d.Items, item)
	}
	return d
}

func (a updateInvoiceArgs) request() invoicing.UpdateRequest {
	r := invoicing.UpdateRequest{
		Type:    invoicing.UpdateType(a.UpdateType),
		Notes:   a.Notes,
		Contact: invoicing.CustomerContact{Email: a.Email, Phone: a.Phone, ContactPerson: a.ContactPerson, Address: a.Address},
		Payment: invoicing.PaymentDetails{BankAccount: a.BankAccount, IBAN: a.IBAN},
		Item: invoicing.ItemChange{
			ItemID:      a.ItemID,
			Description: a.ItemDescription,
			Quantity:    a.Quantity,
			UnitPrice:   a.UnitPrice,
		},
	}
	if a.DueDate != "" {
		r.DueDate, _ = time.Parse(time.DateOnly, a.DueDate)
	}
	return r
}

func (a createExpenseArgs) draft() expenses.Draft {
	d := expenses.Draft{
		SupplierName: strings.TrimSpace(a.SupplierName),
		SupplierICO:  strings.TrimSpace(a.SupplierICO),
		Category:     strings.ToLower(strings.TrimSpace(a.Category)),
		Amount:       nullable(a.Amount),
		VATAmount:    nullable(a.VATAmount),
		Total:        nullable(a.Total),
		VATRate:      a.VATRate,
		Currency:     money.ParseCurrency(a.Currency),
		Description:  a.Description,
	}
	if a.Date != "" {
		d.IssuedAt, _ = time.Parse(time.DateOnly, a.Date)
	}
	return d
}
