package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/antibyte/brainterm/pkg/shared"
)

// TestValidateSessionID tests session ID validation against the UUID format
func TestValidateSessionID(t *testing.T) {
	v := NewSecurityValidator()

	if err := v.ValidateSessionID(uuid.NewString()); err != nil {
		t.Errorf("Valid UUID session ID should be accepted: %v", err)
	}

	invalid := []string{
		"",
		"not-a-uuid",
		"../../etc/passwd",
		strings.Repeat("a", 65),
		"12345678-1234-1234-1234-12345678901", // one hex digit short
	}
	for _, sessionID := range invalid {
		if err := v.ValidateSessionID(sessionID); err == nil {
			t.Errorf("Session ID %q should be rejected", sessionID)
		}
	}
}

// TestSanitizeInput tests that control characters are stripped while
// newline, carriage return and tab survive
func TestSanitizeInput(t *testing.T) {
	v := NewSecurityValidator()

	got := v.SanitizeInput("TYPE +++\x00\x07[->+<]\x1b")
	if got != "TYPE +++[->+<]" {
		t.Errorf("Expected control characters stripped, got %q", got)
	}

	got = v.SanitizeInput("line1\nline2\ttab\r")
	if got != "line1\nline2\ttab\r" {
		t.Errorf("Whitespace control characters should survive, got %q", got)
	}
}

// TestValidateInputLength tests the maximum input length check
func TestValidateInputLength(t *testing.T) {
	v := NewSecurityValidator()

	if err := v.ValidateInput("RUN"); err != nil {
		t.Errorf("Short input should be accepted: %v", err)
	}
	if err := v.ValidateInput(strings.Repeat("+", 5000)); err == nil {
		t.Error("Input above the configured maximum length should be rejected")
	}
}

// TestJSONValidatorAcceptsProgramText verifies that program source consisting
// of the eight instruction characters passes validation unharmed. A content
// based filter would reject every nontrivial program.
func TestJSONValidatorAcceptsProgramText(t *testing.T) {
	v := NewJSONValidator()

	payload := []byte(`{"content":"TYPE ++++[->++++<]>.,[.,]","sessionId":"abc"}`)
	if err := v.ValidateMessage(payload); err != nil {
		t.Errorf("Program text should pass JSON validation: %v", err)
	}
}

// TestJSONValidatorRejectsDeepNesting tests the nesting depth limit
func TestJSONValidatorRejectsDeepNesting(t *testing.T) {
	v := NewJSONValidator()

	nested := strings.Repeat("[", 12) + strings.Repeat("]", 12)
	err := v.ValidateMessage([]byte(nested))
	if !errors.Is(err, ErrJSONTooDeep) {
		t.Errorf("Expected ErrJSONTooDeep, got %v", err)
	}
}

// TestJSONValidatorRejectsPrototypePollution tests the malicious key filter
func TestJSONValidatorRejectsPrototypePollution(t *testing.T) {
	v := NewJSONValidator()

	for _, key := range []string{"__proto__", "constructor", "prototype", "__PROTO__"} {
		payload := []byte(fmt.Sprintf(`{"%s":{"polluted":true}}`, key))
		if err := v.ValidateMessage(payload); !errors.Is(err, ErrJSONMalicious) {
			t.Errorf("Key %q: expected ErrJSONMalicious, got %v", key, err)
		}
	}
}

// TestJSONValidatorRejectsLongString tests the string length limit
func TestJSONValidatorRejectsLongString(t *testing.T) {
	v := NewJSONValidator()

	long := strings.Repeat("+", MaxJSONStringLen+1)
	payload := []byte(`{"content":"` + long + `"}`)
	if err := v.ValidateMessage(payload); !errors.Is(err, ErrJSONStringTooLong) {
		t.Errorf("Expected ErrJSONStringTooLong, got %v", err)
	}
}

// TestJSONValidatorRejectsOversizedPayload tests the payload size limit
func TestJSONValidatorRejectsOversizedPayload(t *testing.T) {
	v := NewJSONValidator()

	payload := bytes.Repeat([]byte("a"), MaxJSONPayload+1)
	if err := v.ValidateMessage(payload); err == nil {
		t.Error("Oversized payload should be rejected")
	}
}

// TestConvertKeyToProgramInput tests the mapping of JavaScript key names to
// input bytes for a running program
func TestConvertKeyToProgramInput(t *testing.T) {
	cases := []struct {
		key      string
		expected string
	}{
		{"Enter", "\n"},
		{"Space", " "},
		{"Tab", "\t"},
		{"a", "a"},
		{"Z", "Z"},
		{"+", "+"},
		{"ArrowUp", ""},
		{"F5", ""},
		{"Escape", ""},
	}

	for _, tc := range cases {
		if got := convertKeyToProgramInput(tc.key); got != tc.expected {
			t.Errorf("convertKeyToProgramInput(%q) = %q, expected %q", tc.key, got, tc.expected)
		}
	}
}

// TestClientManagerLifecycle tests adding, querying and removing clients
func TestClientManagerLifecycle(t *testing.T) {
	cm := NewClientManager()
	sessionID := uuid.NewString()

	if cm.HasClient(sessionID) {
		t.Error("HasClient should be false before AddClient")
	}
	if cm.GetClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", cm.GetClientCount())
	}

	client := &Client{send: make(chan []byte, 4), ipAddress: "10.0.0.1"}
	cm.AddClient(sessionID, client)

	if !cm.HasClient(sessionID) {
		t.Error("HasClient should be true after AddClient")
	}
	if cm.GetClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", cm.GetClientCount())
	}
	if cm.CountByIP("10.0.0.1") != 1 {
		t.Errorf("Expected 1 client for IP, got %d", cm.CountByIP("10.0.0.1"))
	}
	if cm.CountByIP("10.0.0.2") != 0 {
		t.Errorf("Expected 0 clients for other IP, got %d", cm.CountByIP("10.0.0.2"))
	}

	cm.RemoveClient(sessionID)
	if cm.HasClient(sessionID) {
		t.Error("HasClient should be false after RemoveClient")
	}
	if cm.GetClientCount() != 0 {
		t.Errorf("Expected 0 clients after removal, got %d", cm.GetClientCount())
	}
}

// TestClientManagerSendToClient tests message delivery over the send channel
func TestClientManagerSendToClient(t *testing.T) {
	cm := NewClientManager()
	sessionID := uuid.NewString()
	client := &Client{send: make(chan []byte, 4), ipAddress: "10.0.0.1"}
	cm.AddClient(sessionID, client)

	msg := shared.Message{Type: shared.MessageTypeText, Content: "READY.", SessionID: sessionID}
	if err := cm.SendToClient(sessionID, msg); err != nil {
		t.Fatalf("SendToClient failed: %v", err)
	}

	select {
	case raw := <-client.send:
		var decoded shared.Message
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("Failed to decode sent message: %v", err)
		}
		if decoded.Content != "READY." {
			t.Errorf("Expected content READY., got %q", decoded.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("No message arrived on the send channel")
	}

	if err := cm.SendToClient(uuid.NewString(), msg); err == nil {
		t.Error("SendToClient for unknown session should fail")
	}
}

// TestClientManagerRateLimit tests the per IP message rate limit
func TestClientManagerRateLimit(t *testing.T) {
	cm := NewClientManager()
	ip := "10.1.2.3"

	// Default limit is 60 messages per minute
	for i := 0; i < 60; i++ {
		if err := cm.CheckRateLimit(ip); err != nil {
			t.Fatalf("Message %d should be within the rate limit: %v", i+1, err)
		}
	}
	if err := cm.CheckRateLimit(ip); err == nil {
		t.Error("Message above the rate limit should be rejected")
	}

	// Other IPs are unaffected
	if err := cm.CheckRateLimit("10.9.9.9"); err != nil {
		t.Errorf("Other IP should not be rate limited: %v", err)
	}
}

// TestSessionRateLimitBansIP tests that repeated session creation gets an IP banned
func TestSessionRateLimitBansIP(t *testing.T) {
	h := NewTerminalHandler(nil, nil)
	ip := "172.16.5.5"

	// Default allows 3 session requests per minute
	for i := 0; i < 3; i++ {
		if !h.checkAndUpdateSessionRateLimit(ip) {
			t.Fatalf("Session request %d should be allowed", i+1)
		}
	}
	if h.checkAndUpdateSessionRateLimit(ip) {
		t.Error("Fourth session request should be rejected")
	}
	if !h.isIPBanned(ip) {
		t.Error("IP should be banned after exceeding the session rate limit")
	}
	if h.isIPBanned("172.16.5.6") {
		t.Error("Other IP should not be banned")
	}
}

// TestGetShellReusesInstance tests that a session keeps its shell across calls
func TestGetShellReusesInstance(t *testing.T) {
	h := NewTerminalHandler(nil, nil)
	sessionID := uuid.NewString()

	first := h.getShell(sessionID)
	second := h.getShell(sessionID)
	if first != second {
		t.Error("getShell should return the same shell for the same session")
	}

	other := h.getShell(uuid.NewString())
	if other == first {
		t.Error("Different sessions should get different shells")
	}
}

// TestSessionUsername tests the session resolver used by the auth handlers
func TestSessionUsername(t *testing.T) {
	h := NewTerminalHandler(nil, nil)
	sessionID := uuid.NewString()
	h.getShell(sessionID)

	if got := h.SessionUsername(sessionID); got != "" {
		t.Errorf("Guest session should have no username, got %q", got)
	}
	if got := h.SessionUsername(uuid.NewString()); got != "" {
		t.Errorf("Unknown session should have no username, got %q", got)
	}

	h.getShell(sessionID).RestoreUser("alice")
	if got := h.SessionUsername(sessionID); got != "alice" {
		t.Errorf("Expected username alice, got %q", got)
	}
}

// TestClientIPFromHeaders tests client IP extraction behind proxies
func TestClientIPFromHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.1:4711"

	if got := clientIP(r); got != "192.0.2.1:4711" {
		t.Errorf("Expected RemoteAddr fallback, got %q", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := clientIP(r); got != "198.51.100.7" {
		t.Errorf("Expected X-Real-IP, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.7")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Errorf("Expected first X-Forwarded-For entry, got %q", got)
	}
}
