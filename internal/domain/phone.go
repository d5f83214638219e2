package domain

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("phone number must be a valid 07XX/01XX mobile number")

var msisdnPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizePhone rewrites local, international and bare forms of a mobile
// number into the 2547XXXXXXXX / 2541XXXXXXXX form the push gateway accepts.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	phone = strings.TrimPrefix(phone, "+")
	switch {
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case (strings.HasPrefix(phone, "7") || strings.HasPrefix(phone, "1")) && len(phone) == 9:
		phone = "254" + phone
	}
	if !msisdnPattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
