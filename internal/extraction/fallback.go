package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/banking"
	"github.com/fakturace/fakturace/internal/money"
)

const amountNumber = `[+-]?\d[\d \x{00a0}.,]*\d|[+-]?\d`

var (
	labelledAmount = regexp.MustCompile(`(?i)(?:částka|castka|amount|suma|připsáno|pripsano|příchozí platba|prichozi platba)\s*:?\s*(` + amountNumber + `)\s*(kč|kc|czk|eur|€|usd|\$)?`)
	currencyAmount = regexp.MustCompile(`(?i)(` + amountNumber + `)\s*(kč|kc|czk|eur|€|usd)`)

	variableSymbol = regexp.MustCompile(`(?i)(?:variabilní symbol|variabilni symbol|\bvs\b\.?)\s*:?\s*(\d{1,10})\b`)
	constantSymbol = regexp.MustCompile(`(?i)(?:konstantní symbol|konstantni symbol|\bks\b\.?)\s*:?\s*(\d{1,10})\b`)
	specificSymbol = regexp.MustCompile(`(?i)(?:specifický symbol|specificky symbol|\bss\b\.?)\s*:?\s*(\d{1,10})\b`)

	czechDate = regexp.MustCompile(`\b(\d{1,2})\.\s?(\d{1,2})\.\s?(\d{4})\b`)
	isoDate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

	accountNumber    = `(?:\d{1,6}-)?\d{2,10}/\d{4}`
	labelledAccount  = regexp.MustCompile(`(?i)(?:z účtu|z uctu|protiúčet|protiucet|účet plátce|ucet platce|účet odesílatele|ucet odesilatele|from account)\s*:?\s*(` + accountNumber + `)`)
	anyAccount       = regexp.MustCompile(`\b(` + accountNumber + `)\b`)
	counterpartyName = regexp.MustCompile(`(?im)^\s*(?:od|plátce|platce|název protiúčtu|nazev protiuctu|název plátce|nazev platce|protistrana|odesílatel|odesilatel|from)\s*:\s*(.+?)\s*$`)
	paymentMessage   = regexp.MustCompile(`(?im)^\s*(?:zpráva pro příjemce|zprava pro prijemce|zpráva|zprava|poznámka|poznamka|message)\s*:\s*(.+?)\s*$`)
)

// regexPayment reads a single payment from a Czech bank notification. It
// returns false when no positive amount is present.
func regexPayment(text string) (banking.Payment, bool) {
	amount, currency, ok := findAmount(text)
	if !ok || !amount.IsPositive() {
		return banking.Payment{}, false
	}
	p := banking.Payment{
		Amount:         amount,
		Currency:       currency,
		VariableSymbol: firstGroup(variableSymbol, text),
		ConstantSymbol: firstGroup(constantSymbol, text),
		SpecificSymbol: firstGroup(specificSymbol, text),
		TransactionAt:  findDate(text),
	}
	if acc := firstGroup(labelledAccount, text); acc != "" {
		p.CounterpartyAccount = acc
	} else {
		p.CounterpartyAccount = firstGroup(anyAccount, text)
	}
	p.CounterpartyName = firstGroup(counterpartyName, text)
	p.Description = firstGroup(paymentMessage, text)
	return p, true
}

func findAmount(text string) (decimal.Decimal, string, bool) {
	for _, re := range []*regexp.Regexp{labelledAmount, currencyAmount} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			d, err := money.ParseAmount(m[1])
			if err != nil {
				continue
			}
			return money.Round(d), money.ParseCurrency(m[2]), true
		}
	}
	return decimal.Zero, "", false
}

func findDate(text string) time.Time {
	if m := czechDate.FindStringSubmatch(text); m != nil {
		if t, ok := makeDate(m[3], m[2], m[1]); ok {
			return t
		}
	}
	if m := isoDate.FindStringSubmatch(text); m != nil {
		if t, ok := makeDate(m[1], m[2], m[3]); ok {
			return t
		}
	}
	return time.Time{}
}

func makeDate(y, m, d string) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if year < 2000 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
