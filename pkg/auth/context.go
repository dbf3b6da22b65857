package auth

import (
	"context"
)

// Schlüsselkonstante für die Session-ID im Kontext
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	claimsKey    contextKey = "jwt_claims"
)

// NewContextWithSessionID erstellt einen neuen Kontext, der die Session-ID enthält
func NewContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext extrahiert die Session-ID aus dem Kontext.
// Gibt einen leeren String zurück, wenn keine ID vorhanden ist.
func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	return sessionID
}

// AddClaimsToContext fügt JWT-Claims zum Kontext hinzu
func AddClaimsToContext(ctx context.Context, claims *GuestClaims) context.Context {
	// Fügt die Claims zum Context hinzu
	ctx = context.WithValue(ctx, claimsKey, claims)

	// Extrahiert auch die SessionID aus den Claims für einfacheren Zugriff
	if claims != nil {
		ctx = NewContextWithSessionID(ctx, claims.SessionID)
	}

	return ctx
}

// GetClaimsFromContext extrahiert die JWT-Claims aus dem Kontext
func GetClaimsFromContext(ctx context.Context) (*GuestClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*GuestClaims)
	return claims, ok
}
