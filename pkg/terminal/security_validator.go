package terminal

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/antibyte/brainterm/pkg/configuration"
)

// SecurityValidator bietet Sicherheitsvalidierung für Terminal-Eingaben
type SecurityValidator struct{}

// NewSecurityValidator erstellt einen neuen SecurityValidator
func NewSecurityValidator() *SecurityValidator {
	return &SecurityValidator{}
}

// ValidateSessionID prüft die Gültigkeit einer Session-ID. Sessions werden
// ausschließlich als UUIDs vergeben, alles andere wird abgelehnt.
func (sv *SecurityValidator) ValidateSessionID(sessionID string) error {
	if len(sessionID) == 0 {
		return fmt.Errorf("session ID is empty")
	}
	if len(sessionID) > 64 {
		return fmt.Errorf("session ID too long")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("session ID is not a valid UUID")
	}
	return nil
}

// ValidateInput prüft eine Terminal-Eingabezeile. Programmtext darf beliebige
// Zeichen der Sprache enthalten, geprüft wird nur die Länge.
func (sv *SecurityValidator) ValidateInput(content string) error {
	maxLength := configuration.GetInt("Security", "max_message_length", 4096)
	if len(content) > maxLength {
		return fmt.Errorf("input too long: maximum %d characters allowed", maxLength)
	}
	return nil
}

// SanitizeInput entfernt Kontrollzeichen (außer normalem Whitespace) aus
// einer Eingabezeile.
func (sv *SecurityValidator) SanitizeInput(input string) string {
	if len(input) == 0 {
		return input
	}
	var result strings.Builder
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}
