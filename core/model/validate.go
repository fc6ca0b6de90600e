package model

import (
	"regexp"
	"strings"
)

var (
	phoneRe    = regexp.MustCompile(`^3\d{9}$`)
	plateRe    = regexp.MustCompile(`^[A-Z]{3}\d{3}$|^[A-Z]{3}\d{2}[A-Z]$`)
	phoneJunk  = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	acceptCmds = []string{"1", "accept", "take", "mine", "yes", "ok"}
	rejectCmds = []string{"reject", "busy", "pass", "no"}
)

// ValidateName checks a requester or driver display name.
func ValidateName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case len(n) < 2:
		return &ValidationError{Field: "name", Reason: "must have at least 2 characters"}
	case len(n) > 50:
		return &ValidationError{Field: "name", Reason: "must have at most 50 characters"}
	}
	return nil
}

// ValidateLocation checks a free-text pickup or driver location.
func ValidateLocation(loc string) error {
	l := strings.TrimSpace(loc)
	switch {
	case l == "":
		return &ValidationError{Field: "location", Reason: "must not be empty"}
	case len(l) < 5:
		return &ValidationError{Field: "location", Reason: "must have at least 5 characters"}
	case len(l) > 200:
		return &ValidationError{Field: "location", Reason: "must have at most 200 characters"}
	}
	return nil
}

// ValidatePhone checks a phone identity after normalization. Numbers are ten
// digits starting with 3, the national mobile format the fleet operates on.
func ValidatePhone(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return &ValidationError{Field: "phone", Reason: "must not be empty"}
	}
	if !phoneRe.MatchString(CleanPhone(phone)) {
		return &ValidationError{Field: "phone", Reason: "must be a 10-digit mobile number starting with 3"}
	}
	return nil
}

// ValidatePlate checks a vehicle plate (ABC123 or ABC12D).
func ValidatePlate(plate string) error {
	p := strings.ToUpper(strings.TrimSpace(plate))
	if p == "" {
		return &ValidationError{Field: "plate", Reason: "must not be empty"}
	}
	if !plateRe.MatchString(p) {
		return &ValidationError{Field: "plate", Reason: "must look like ABC123 or ABC12D"}
	}
	return nil
}

// CleanPhone strips formatting characters and the +57/57 country prefix,
// returning the canonical ten-digit form when possible. Unrecognized input is
// returned unchanged so the caller's validation can reject it.
func CleanPhone(phone string) string {
	cleaned := phoneJunk.Replace(strings.TrimSpace(phone))
	if strings.HasPrefix(cleaned, "+57") {
		cleaned = cleaned[3:]
	} else if strings.HasPrefix(cleaned, "57") && len(cleaned) == 12 {
		cleaned = cleaned[2:]
	}
	if len(cleaned) == 10 && strings.HasPrefix(cleaned, "3") {
		return cleaned
	}
	return phone
}

// IsAcceptCommand reports whether a driver message is an accept signal.
func IsAcceptCommand(body string) bool {
	msg := strings.ToLower(strings.TrimSpace(body))
	for _, cmd := range acceptCmds {
		if msg == cmd {
			return true
		}
	}
	return false
}

// IsRejectCommand reports whether a driver message declines a ride.
func IsRejectCommand(body string) bool {
	msg := strings.ToLower(strings.TrimSpace(body))
	for _, cmd := range rejectCmds {
		if msg == cmd {
			return true
		}
	}
	return false
}
