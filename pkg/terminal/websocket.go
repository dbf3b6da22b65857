package terminal

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
)

// WebSocket-Konfigurationswerte werden aus der [Network] Sektion gelesen
func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 90*time.Second)
}

func getPingPeriod() time.Duration {
	pongWait := getPongWait()
	return (pongWait * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 1024)
}

var newline = []byte{'\n'}

// convertKeyToProgramInput konvertiert JavaScript Key-Namen in die Bytes,
// die ein laufendes Programm über die Eingabe-Pipe lesen soll.
func convertKeyToProgramInput(jsKey string) string {
	switch jsKey {
	case "Enter":
		return "\n"
	case "Space":
		return " "
	case "Tab":
		return "\t"
	default:
		if len(jsKey) == 1 {
			return jsKey
		}
		// Funktions- und Steuertasten haben im Byte-Strom keine Bedeutung
		return ""
	}
}

// readPump liest Nachrichten vom WebSocket und leitet sie an die Shell der
// Session weiter.
func (c *Client) readPump() {
	defer func() {
		c.handler.cleanupClient(c)
	}()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		c.lastPong = time.Now()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn(logger.AreaWebSocket, "Unexpected close for client %s: %v", c.conn.RemoteAddr(), err)
			} else {
				logger.Debug(logger.AreaWebSocket, "Connection closed for client %s: %v", c.conn.RemoteAddr(), err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		logger.Debug(logger.AreaWebSocket, "Message received: length=%d, from=%s", len(message), c.conn.RemoteAddr())

		var request TerminalRequest
		var testJSON map[string]interface{}
		if json.Unmarshal(message, &testJSON) == nil {
			// Keepalive-Nachrichten kommen mit einem String-Type
			if rawType, ok := testJSON["type"].(string); ok && rawType == "keepalive" {
				continue
			}

			// SICHERHEIT: strukturelle JSON-Validierung
			if err := c.handler.jsonValidator.ValidateMessage(message); err != nil {
				logger.SecurityWarn("Invalid JSON from client %s: %v", c.conn.RemoteAddr(), err)
				c.sendText("?INPUT REJECTED")
				continue
			}
			if err := json.Unmarshal(message, &request); err != nil {
				logger.Warn(logger.AreaWebSocket, "Failed to parse JSON from client %s: %v", c.conn.RemoteAddr(), err)
				continue
			}
		} else {
			// Einfache Text-Eingabe als Eingabezeile behandeln
			request = TerminalRequest{
				Type:    int(shared.MessageTypeText),
				Content: string(message),
			}
		}

		// Session-Initialisierungsanfrage: Session-ID zurückmelden
		if request.Type == int(shared.MessageTypeSession) && request.Content == "" && !request.IsConfig && request.Key == "" {
			response := shared.Message{
				Type:      shared.MessageTypeSession,
				SessionID: c.sessionID,
			}
			jsonMsg, _ := json.Marshal(response)
			c.Send(jsonMsg)
			continue
		}

		// Terminal-Konfiguration (Größenänderung)
		if request.IsConfig {
			if request.Cols <= 0 || request.Rows <= 0 {
				continue
			}
			if request.Cols > 200 || request.Rows > 100 || request.Cols < 20 || request.Rows < 10 {
				logger.SecurityWarn("Invalid terminal dimensions from %s: %dx%d", c.ipAddress, request.Cols, request.Rows)
				continue
			}
			c.cols = request.Cols
			c.rows = request.Rows
			logger.Debug(logger.AreaTerminal, "Terminal resized to %dx%d for session %s", c.cols, c.rows, c.sessionID)
			continue
		}

		// Einzelne Tasten gehen direkt an das laufende Programm
		if request.Key != "" {
			if data := convertKeyToProgramInput(request.Key); data != "" {
				c.handler.getShell(c.sessionID).FeedProgramInput(data)
			}
			continue
		}

		input := request.Content

		// BREAK unterbricht das laufende Programm, kein Rate-Limit
		if input == "__BREAK__" {
			c.handler.getShell(c.sessionID).Break()
			continue
		}

		if err := c.handler.securityValidator.ValidateInput(input); err != nil {
			logger.SecurityWarn("Oversized input from client %s: %v", c.conn.RemoteAddr(), err)
			c.sendText("?INPUT TOO LONG")
			continue
		}
		input = c.handler.securityValidator.SanitizeInput(input)

		// SICHERHEIT: Rate-Limiting für Eingabezeilen
		if err := c.handler.clientManager.CheckRateLimit(c.ipAddress); err != nil {
			logger.SecurityWarn("Rate limit exceeded for client %s: %v", c.conn.RemoteAddr(), err)
			c.sendText("?TOO MANY REQUESTS, SLOW DOWN")
			time.Sleep(time.Second)
			continue
		}

		c.handler.touchActivity(c.sessionID)
		messages := c.handler.getShell(c.sessionID).Execute(input)
		c.handler.SendMessagesToClient(c, messages)
	}
}

// sendText schickt eine einzelne Textzeile an den Client
func (c *Client) sendText(content string) {
	msg := shared.Message{Type: shared.MessageTypeText, Content: content}
	if jsonMsg, err := json.Marshal(msg); err == nil {
		c.Send(jsonMsg)
	}
}

// writePump pumpt Nachrichten vom send-Kanal zum WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Wartende Nachrichten im selben Frame bündeln, mit Timeout-Schutz
			// gegen Blockieren während eines Channel-Close
			timeout := time.NewTimer(10 * time.Millisecond)
			n := len(c.send)
			for i := 0; i < n; i++ {
				select {
				case additionalMsg := <-c.send:
					w.Write(newline)
					w.Write(additionalMsg)
				case <-timeout.C:
					i = n
				}
			}
			timeout.Stop()

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug(logger.AreaWebSocket, "Failed to send ping to client %s: %v", c.conn.RemoteAddr(), err)
				return
			}
		case <-c.shutdown:
			logger.Debug(logger.AreaWebSocket, "Shutdown signal received for client %s", c.conn.RemoteAddr())
			return
		}
	}
}
