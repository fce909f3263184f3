package assistant

import (
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/llm"
)

// Tool names offered to the model.
const (
	ToolCreateInvoice       = "create_invoice"
	ToolAddInvoiceItem      = "add_invoice_item"
	ToolUpdateInvoice       = "update_invoice"
	ToolChangeInvoiceStatus = "change_invoice_status"
	ToolCreateExpense       = "create_expense"
	ToolLookupCompany       = "lookup_company"
)

type itemArgs struct {
	Description string           `json:"description" validate:"required"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Unit        string           `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unitPrice" validate:"required"`
	VATRate     *decimal.Decimal `json:"vatRate"`
}

type createInvoiceArgs struct {
	CustomerName  string           `json:"customerName" validate:"required_without=CustomerICO"`
	CustomerICO   string           `json:"customerIco" validate:"omitempty,len=8,numeric"`
	Items         []itemArgs       `json:"items" validate:"required_without=Amount,dive"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
	DueDays       int              `json:"dueDays" validate:"gte=0,lte=365"`
	Notes         string           `json:"notes"`
	Description   string           `json:"description"`
	ReverseCharge bool             `json:"reverseCharge"`
}

type addItemArgs struct {
	InvoiceID   int64            `json:"invoiceId"`
	Description string           `json:"description" validate:"required"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Unit        string           `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unitPrice" validate:"required"`
	VATRate     *decimal.Decimal `json:"vatRate"`
}

type updateInvoiceArgs struct {
	InvoiceID       int64            `json:"invoiceId"`
	UpdateType      string           `json:"updateType" validate:"required,oneof=due_date notes customer_contact payment_details item"`
	DueDate         string           `json:"dueDate" validate:"required_if=UpdateType due_date,omitempty,datetime=2006-01-02"`
	Notes           string           `json:"notes" validate:"required_if=UpdateType notes"`
	Email           string           `json:"email" validate:"omitempty,email"`
	Phone           string           `json:"phone"`
	ContactPerson   string           `json:"contactPerson"`
	Address         string           `json:"address"`
	BankAccount     string           `json:"bankAccount"`
	IBAN            string           `json:"iban"`
	ItemID          int64            `json:"itemId"`
	ItemDescription string           `json:"itemDescription"`
	Quantity        *decimal.Decimal `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unitPrice"`
}

type changeStatusArgs struct {
	InvoiceID int64  `json:"invoiceId"`
	Status    string `json:"status" validate:"required,oneof=draft sent paid overdue"`
}

type createExpenseArgs struct {
	SupplierName string           `json:"supplierName"`
	SupplierICO  string           `json:"supplierIco" validate:"omitempty,len=8,numeric"`
	Category     string           `json:"category"`
	Amount       *decimal.Decimal `json:"amount" validate:"required_without=Total"`
	VATAmount    *decimal.Decimal `json:"vatAmount"`
	Total        *decimal.Decimal `json:"total"`
	VATRate      *decimal.Decimal `json:"vatRate"`
	Currency     string           `json:"currency"`
	Date         string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description  string           `json:"description"`
}

type lookupCompanyArgs struct {
	ICO  string `json:"ico" validate:"required_without=Name"`
	Name string `json:"name"`
}

// argLabels names tool arguments in user-facing messages.
var argLabels = map[string]string{
	"customerName": "jméno odběratele",
	"customerIco":  "IČO odběratele",
	"items":        "položky nebo částka",
	"amount":       "částka nebo částka celkem",
	"dueDays":      "splatnost ve dnech",
	"description":  "popis položky",
	"unitPrice":    "cena za jednotku",
	"updateType":   "co se má na faktuře změnit",
	"dueDate":      "nové datum splatnosti",
	"notes":        "text poznámky",
	"email":        "e-mail",
	"status":       "nový stav faktury",
	"supplierIco":  "IČO dodavatele",
	"date":         "datum",
	"ico":          "IČO nebo název firmy",
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

var itemSchema = object([]string{"description", "unitPrice"}, map[string]any{
	"description": prop("string", "Popis položky"),
	"quantity":    prop("number", "Množství, výchozí 1"),
	"unit":        prop("string", "Jednotka, např. ks nebo hod"),
	"unitPrice":   prop("number", "Cena za jednotku bez DPH"),
	"vatRate":     prop("number", "Sazba DPH v procentech, výchozí 21"),
})

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

var toolMenu = []llm.Tool{
	{
		Name:        ToolCreateInvoice,
		Description: "Vystaví novou fakturu odběrateli. Uveď buď položky, nebo celkovou částku bez DPH s popisem.",
		Parameters: object(nil, map[string]any{
			"customerName":  prop("string", "Jméno nebo název odběratele"),
			"customerIco":   prop("string", "IČO odběratele, 8 číslic"),
			"items":         map[string]any{"type": "array", "items": itemSchema},
			"amount":        prop("number", "Částka bez DPH, pokud nejsou položky"),
			"currency":      prop("string", "Měna, výchozí CZK"),
			"dueDays":       prop("integer", "Splatnost ve dnech, výchozí 14"),
			"notes":         prop("string", "Poznámka na faktuře"),
			"description":   prop("string", "Popis plnění pro fakturu bez položek"),
			"reverseCharge": prop("boolean", "Přenesená daňová povinnost"),
		}),
	},
	{
		Name:        ToolAddInvoiceItem,
		Description: "Přidá položku na fakturu. Bez invoiceId se použije otevřená nebo poslední faktura.",
		Parameters: object([]string{"description", "unitPrice"}, map[string]any{
			"invoiceId":   prop("integer", "ID faktury"),
			"description": prop("string", "Popis položky"),
			"quantity":    prop("number", "Množství, výchozí 1"),
			"unit":        prop("string", "Jednotka"),
			"unitPrice":   prop("number", "Cena za jednotku bez DPH"),
			"vatRate":     prop("number", "Sazba DPH v procentech"),
		}),
	},
	{
		Name:        ToolUpdateInvoice,
		Description: "Upraví fakturu: splatnost, poznámku, kontakt odběratele, platební údaje nebo existující položku.",
		Parameters: object([]string{"updateType"}, map[string]any{
			"invoiceId":       prop("integer", "ID faktury"),
			"updateType":      enum("Druh úpravy", "due_date", "notes", "customer_contact", "payment_details", "item"),
			"dueDate":         prop("string", "Nové datum splatnosti YYYY-MM-DD"),
			"notes":           prop("string", "Text, který se připojí k poznámce"),
			"email":           prop("string", "E-mail odběratele"),
			"phone":           prop("string", "Telefon odběratele"),
			"contactPerson":   prop("string", "Kontaktní osoba"),
			"address":         prop("string", "Adresa odběratele"),
			"bankAccount":     prop("string", "Číslo účtu pro platbu"),
			"iban":            prop("string", "IBAN"),
			"itemId":          prop("integer", "ID upravované položky"),
			"itemDescription": prop("string", "Popis upravované položky"),
			"quantity":        prop("number", "Nové množství"),
			"unitPrice":       prop("number", "Nová cena za jednotku"),
		}),
	},
	{
		Name:        ToolChangeInvoiceStatus,
		Description: "Změní stav faktury.",
		Parameters: object([]string{"status"}, map[string]any{
			"invoiceId": prop("integer", "ID faktury"),
			"status":    enum("Nový stav", "draft", "sent", "paid", "overdue"),
		}),
	},
	{
		Name:        ToolCreateExpense,
		Description: "Zaeviduje výdaj (nákup od dodavatele).",
		Parameters: object(nil, map[string]any{
			"supplierName": prop("string", "Dodavatel"),
			"supplierIco":  prop("string", "IČO dodavatele"),
			"category":     prop("string", "Kategorie výdaje"),
			"amount":       prop("number", "Částka bez DPH"),
			"vatAmount":    prop("number", "DPH"),
			"total":        prop("number", "Částka včetně DPH"),
			"vatRate":      prop("number", "Sazba DPH v procentech"),
			"currency":     prop("string", "Měna"),
			"date":         prop("string", "Datum YYYY-MM-DD"),
			"description":  prop("string", "Popis"),
		}),
	},
	{
		Name:        ToolLookupCompany,
		Description: "Vyhledá firmu v registru ARES podle IČO nebo názvu.",
		Parameters: object(nil, map[string]any{
			"ico":  prop("string", "IČO, 8 číslic"),
			"name": prop("string", "Obchodní název"),
		}),
	},
}
