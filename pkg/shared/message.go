package shared

// MessageType definiert den Typ einer Nachricht für die WebSocket-Kommunikation.
type MessageType int

// Konstanten für MessageType, angepasst an Frontend-Erwartungen (brainterm.js MSG)
const (
	MessageTypeText         MessageType = 0 // Textausgabe
	MessageTypeClear        MessageType = 1 // Bildschirm löschen
	MessageTypeBeep         MessageType = 2 // Beep-Ton
	MessageTypeMode         MessageType = 3 // Moduswechsel (z.B. "shell", "run")
	MessageTypeSession      MessageType = 4 // Session-ID Übermittlung
	MessageTypeInputControl MessageType = 5 // Eingabesteuerung (aktivieren/deaktivieren)
	MessageTypePrompt       MessageType = 6 // Prompt-Informationen (Symbol, Eingabestatus)
	MessageTypeInput        MessageType = 7 // Eingabezeile aktualisieren (vom Backend zum Frontend)
	MessageTypeAutoExecute  MessageType = 8 // Automatische Eingabe-Ausführung (autorun)
	MessageTypeError        MessageType = 9 // Fehlermeldung außerhalb der normalen Textausgabe
)

// Message repräsentiert eine Nachricht, die über WebSocket gesendet oder empfangen wird.
// Die Felder sind so strukturiert, dass sie den direkten Zugriffen im Frontend entsprechen.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	// Für TEXT - verhindert automatischen Zeilenumbruch im Frontend
	NoNewline bool `json:"noNewline"`

	// Für SESSION
	SessionID string `json:"sessionId,omitempty"` // Beibehaltung des Namens sessionId für Kompatibilität

	// Für INPUT (Type == MessageTypeInput)
	InputStr  string `json:"input,omitempty"` // "input" ist der Feldname im Frontend
	CursorPos int    `json:"cursorPos,omitempty"`

	// Für PROMPT (Type == MessageTypePrompt) oder INPUT_CONTROL (Type == MessageTypeInputControl)
	InputEnabled *bool  `json:"inputEnabled,omitempty"` // Pointer für optionale Booleans
	PromptSymbol string `json:"promptSymbol,omitempty"`

	// Für MODE (Type == MessageTypeMode)
	Mode string `json:"mode,omitempty"` // z.B. "shell", "run"
}
