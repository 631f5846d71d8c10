package validation

import (
	"time"
	"unicode"

	"paybroker/internal/utils/card"
)

// Card validates raw card data for direct tokenization. Nothing here is
// echoed back in messages.
func (v *Validator) Card(number string, expMonth, expYear int, cvv string, now time.Time) {
	v.Check(card.IsValidNumber(number), "card_number", "is not a valid card number")
	v.Expiry(expMonth, expYear, now)
	v.CVV(cvv, card.Brand(number))
}

// Expiry rejects out of range months and cards that expired before the
// current month. Two digit years are accepted.
func (v *Validator) Expiry(month, year int, now time.Time) {
	if month < 1 || month > 12 {
		v.AddError("card_exp_month", "must be between 1 and 12")
		return
	}
	year = card.ExpiryYear(year)
	now = now.UTC()
	expired := year < now.Year() || (year == now.Year() && month < int(now.Month()))
	v.Check(!expired, "card_exp_year", "card has expired")
	v.Check(year <= now.Year()+20, "card_exp_year", "is too far in the future")
}

// CVV checks length against the brand: four digits for amex, three otherwise.
func (v *Validator) CVV(cvv, brand string) {
	want := 3
	if brand == card.BrandAmex {
		want = 4
	}
	ok := len(cvv) == want
	for _, r := range cvv {
		if !unicode.IsDigit(r) {
			ok = false
		}
	}
	v.Check(ok, "card_cvv", "is invalid")
}

// Amount checks a charge or refund amount.
func (v *Validator) Amount(field string, amount float64) {
	v.Range(field, amount, MinTransactionAmount, MaxTransactionAmount)
}

// Currency expects an ISO 4217 alphabetic code.
func (v *Validator) Currency(currency string) {
	ok := len(currency) == 3
	for _, r := range currency {
		if !unicode.IsLetter(r) {
			ok = false
		}
	}
	v.Check(ok, "currency", "must be a three letter ISO code")
}
