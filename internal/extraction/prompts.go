package extraction

import (
	"fmt"
	"strings"
	"time"
)

// ReceiptCategories are the expense categories offered to the model.
var ReceiptCategories = []string{
	"kancelář", "software", "hardware", "cestovné", "pohonné hmoty", "telefon a internet",
	"nájem", "energie", "občerstvení", "reprezentace", "vzdělávání", "marketing", "služby", "ostatní",
}

func paymentsPrompt(now time.Time) string {
	return fmt.Sprintf(`You read Czech bank notification emails and extract every INCOMING payment.
Today is %s. Answer with JSON only, no prose:
{"payments":[{"amount":number,"currency":"CZK|EUR|USD","variableSymbol":string,"constantSymbol":string,
"specificSymbol":string,"counterpartyAccount":string,"counterpartyName":string,"message":string,
"date":"YYYY-MM-DD","reference":string}]}
Amounts use a dot as decimal separator and no thousands separators. Omit unknown fields.
Ignore outgoing payments and card authorisations. If the email holds no payment answer {"payments":[]}.`,
		now.Format("2006-01-02"))
}

const invoicePrompt = `You turn a Czech request for an invoice into JSON. Answer with JSON only:
{"customerName":string,"customerIco":string,"items":[{"description":string,"quantity":number,"unit":string,
"unitPrice":number,"vatRate":number}],"amount":number,"currency":string,"dueDays":number,"notes":string,
"description":string,"reverseCharge":boolean}
Prices are without VAT. "15k" means 15000. Use items when the request names separate lines, otherwise
put the amount and a short description of the work. Omit fields not mentioned.`

var receiptPrompt = `You read photographed Czech receipts and invoices from suppliers. Answer with JSON only:
{"supplierName":string,"supplierIco":string,"category":string,"amount":number,"vatAmount":number,
"total":number,"vatRate":number,"currency":string,"date":"YYYY-MM-DD","description":string}
amount is the price without VAT, total includes VAT. category is one of: ` +
	strings.Join(ReceiptCategories, ", ") + `. Omit fields you cannot read.`
