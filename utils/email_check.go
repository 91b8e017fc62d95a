package utils

import (
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
)

var (
	disposableDomains = map[string]bool{
		"10minutemail.com":  true,
		"discard.email":     true,
		"dispostable.com":   true,
		"fakeinbox.com":     true,
		"getnada.com":       true,
		"guerrillamail.com": true,
		"mailinator.com":    true,
		"maildrop.cc":       true,
		"mintemail.com":     true,
		"sharklasers.com":   true,
		"temp-mail.org":     true,
		"tempmail.com":      true,
		"throwawaymail.com": true,
		"trashmail.com":     true,
		"yopmail.com":       true,
	}

	// Common email typos
	commonTypos = map[string]string{
		"gmai.com":   "gmail.com",
		"gmal.com":   "gmail.com",
		"gmail.co":   "gmail.com",
		"yaho.com":   "yahoo.com",
		"hotmai.com": "hotmail.com",
		"outlok.com": "outlook.com",
	}
)

// ExtractDomain returns the lower-cased part after the last @
func ExtractDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// CheckInviteEmail normalizes an address typed by a team admin and rejects
// malformed, misspelled or throwaway addresses. No network lookups are made.
func CheckInviteEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := checkmail.ValidateFormat(email); err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}

	domain := ExtractDomain(email)
	if fix, ok := commonTypos[domain]; ok {
		return "", fmt.Errorf("did you mean %s?", strings.TrimSuffix(email, domain)+fix)
	}
	if disposableDomains[domain] {
		return "", fmt.Errorf("disposable email domains are not accepted")
	}
	return email, nil
}
