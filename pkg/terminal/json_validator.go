package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JSONValidator validiert eingehende JSON-Nachrichten strukturell. Inhaltliche
// Muster werden bewusst NICHT gefiltert: Programmtext besteht aus < > + - . , [ ]
// und beliebigen Kommentarzeichen, ein Pattern-Filter würde gültige Programme
// blockieren.
type JSONValidator struct {
	MaxDepth     int
	MaxKeys      int
	MaxStringLen int
	MaxArraySize int
}

// Sicherheitskonstanten für JSON-Validierung
const (
	MaxJSONDepth     = 10
	MaxJSONKeys      = 32
	MaxJSONStringLen = 65536
	MaxJSONArraySize = 256
	MaxJSONPayload   = 1024 * 1024
)

var (
	ErrJSONTooDeep       = errors.New("JSON nesting too deep")
	ErrJSONTooManyKeys   = errors.New("too many keys in JSON object")
	ErrJSONStringTooLong = errors.New("JSON string too long")
	ErrJSONArrayTooLarge = errors.New("JSON array too large")
	ErrJSONMalicious     = errors.New("potentially malicious JSON detected")
)

// NewJSONValidator erstellt einen neuen JSON-Validator
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{
		MaxDepth:     MaxJSONDepth,
		MaxKeys:      MaxJSONKeys,
		MaxStringLen: MaxJSONStringLen,
		MaxArraySize: MaxJSONArraySize,
	}
}

// ValidateMessage validiert JSON-Daten auf strukturelle Sicherheitsrisiken
func (v *JSONValidator) ValidateMessage(data []byte) error {
	if len(data) > MaxJSONPayload {
		return errors.New("JSON payload too large")
	}

	decoder := json.NewDecoder(bytes.NewReader(data))

	var obj interface{}
	if err := decoder.Decode(&obj); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return v.validateStructure(obj, 0)
}

// validateStructure validiert die JSON-Struktur rekursiv
func (v *JSONValidator) validateStructure(obj interface{}, depth int) error {
	if depth > v.MaxDepth {
		return ErrJSONTooDeep
	}

	switch val := obj.(type) {
	case map[string]interface{}:
		if len(val) > v.MaxKeys {
			return ErrJSONTooManyKeys
		}
		for key, value := range val {
			if len(key) > v.MaxStringLen {
				return ErrJSONStringTooLong
			}
			if isMaliciousKey(key) {
				return ErrJSONMalicious
			}
			if err := v.validateStructure(value, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		if len(val) > v.MaxArraySize {
			return ErrJSONArrayTooLarge
		}
		for _, item := range val {
			if err := v.validateStructure(item, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > v.MaxStringLen {
			return ErrJSONStringTooLong
		}
	}

	return nil
}

// isMaliciousKey prüft auf Prototype-Pollution-Keys
func isMaliciousKey(key string) bool {
	switch strings.ToLower(key) {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return false
}
