package domain

import (
	"errors"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// ErrInvalidPhone is returned when a phone number cannot be parsed or is not a valid number
var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone parses raw in the given default region and returns it in E.164 form
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}
	if region == "" {
		region = "IN"
	}
	num, err := libphonenumber.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
