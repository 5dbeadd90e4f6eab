package pdf

import (
	"strings"

	"github.com/shopspring/decimal"
)

var ones = []string{
	"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
	"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen",
	"Sixteen", "Seventeen", "Eighteen", "Nineteen",
}

var tens = []string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety",
}

// NumberToWords spells n using the Indian system (Thousand, Lakh, Crore).
// Zero yields an empty string.
func NumberToWords(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n < 20:
		return ones[n]
	case n < 100:
		return strings.TrimSpace(tens[n/10] + " " + ones[n%10])
	case n < 1000:
		return joinWords(ones[n/100]+" Hundred", NumberToWords(n%100))
	case n < 100000:
		return joinWords(NumberToWords(n/1000)+" Thousand", NumberToWords(n%1000))
	case n < 10000000:
		return joinWords(NumberToWords(n/100000)+" Lakh", NumberToWords(n%100000))
	default:
		return joinWords(NumberToWords(n/10000000)+" Crore", NumberToWords(n%10000000))
	}
}

func joinWords(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + " " + tail
}

// AmountInWords spells a rupee amount, e.g. "Four Thousand Five Hundred Rupees Only".
// The amount is rounded to paise first.
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)
	rupees := amount.IntPart()
	paise := amount.Sub(decimal.NewFromInt(rupees)).Mul(decimal.NewFromInt(100)).IntPart()

	var parts []string
	if rupees > 0 {
		parts = append(parts, NumberToWords(rupees)+" Rupees")
	}
	if paise > 0 {
		parts = append(parts, NumberToWords(paise)+" Paise")
	}
	if len(parts) == 0 {
		return "Zero Rupees Only"
	}
	return strings.Join(parts, " and ") + " Only"
}

// FormatINR formats an amount with Indian digit grouping and two decimals,
// e.g. 1234567.5 becomes "12,34,567.50"
func FormatINR(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped string
	if len(intPart) <= 3 {
		grouped = intPart
	} else {
		head, last3 := intPart[:len(intPart)-3], intPart[len(intPart)-3:]
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		if head != "" {
			groups = append([]string{head}, groups...)
		}
		grouped = strings.Join(groups, ",") + "," + last3
	}

	if amount.IsNegative() && !amount.Round(2).IsZero() {
		return "-" + grouped + "." + frac
	}
	return grouped + "." + frac
}
