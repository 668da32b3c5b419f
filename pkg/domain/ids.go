package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Typed identifiers prevent cross-assignment between the three keys a product
// carries: the external handle, the internal CPI, and the capsule code.

// CapsuleID is the capsule code identifying one working batch (e.g. "S226").
type CapsuleID string

var capsuleIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}$`)

// ParseCapsuleID validates and returns a CapsuleID.
func ParseCapsuleID(s string) (CapsuleID, error) {
	if !capsuleIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid capsule id: %q", s)
	}
	return CapsuleID(s), nil
}

func (c CapsuleID) String() string {
	return string(c)
}

// IsNil returns true if the capsule id is empty.
func (c CapsuleID) IsNil() bool {
	return c == ""
}

// Handle is the externally visible unique slug for a product.
type Handle string

// ParseHandle validates and returns a Handle. Handles are lowercase slugs;
// anything else would never round-trip through the import manifest.
func ParseHandle(s string) (Handle, error) {
	if s == "" {
		return "", fmt.Errorf("handle cannot be empty")
	}
	if s != strings.ToLower(s) || strings.ContainsAny(s, " \t\n") {
		return "", fmt.Errorf("invalid handle: %q", s)
	}
	return Handle(s), nil
}

func (h Handle) String() string {
	return string(h)
}

// IsNil returns true if the handle is empty.
func (h Handle) IsNil() bool {
	return h == ""
}

// CPI is the capsule product identifier, a stable internal key of the form
// "<style>-<color>" (e.g. "2201-410"). It is distinct from the handle and
// survives handle renames.
type CPI string

// ParseCPI validates and returns a CPI.
func ParseCPI(s string) (CPI, error) {
	style, color, ok := strings.Cut(s, "-")
	if !ok || style == "" || color == "" {
		return "", fmt.Errorf("invalid cpi: %q (want <style>-<color>)", s)
	}
	return CPI(s), nil
}

func (c CPI) String() string {
	return string(c)
}

// IsNil returns true if the CPI is empty.
func (c CPI) IsNil() bool {
	return c == ""
}

// Style returns the style segment of the CPI.
func (c CPI) Style() string {
	style, _, _ := strings.Cut(string(c), "-")
	return style
}

// Color returns the color segment of the CPI.
func (c CPI) Color() string {
	_, color, _ := strings.Cut(string(c), "-")
	return color
}
