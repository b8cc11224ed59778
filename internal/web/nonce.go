package web

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/ytget/qrplay/internal/logger"
)

type contextKey string

const nonceKey contextKey = "csp-nonce"

// generateNonce returns 16 random bytes, base64url encoded.
func generateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		logger.WithComponent(logger.ComponentWeb).Error("Failed to generate CSP nonce", map[string]interface{}{"error": err})
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func contextWithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey, nonce)
}

func nonceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nonceKey).(string); ok {
		return v
	}
	return ""
}
