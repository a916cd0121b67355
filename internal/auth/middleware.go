package auth

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextAddressKey is the gin context key holding the authenticated
// caller address.
const ContextAddressKey = "user_address"

// AuthMiddleware authenticates callers by recovering the address from a
// signed message token.
type AuthMiddleware struct {
	mu          sync.Mutex // guards nonceStore; handlers run concurrently
	nonceStore  map[string]time.Time
	nonceWindow time.Duration
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{
		nonceStore:  make(map[string]time.Time),
		nonceWindow: 5 * time.Minute,
	}
}

// RequireAuth middleware that requires a valid signature token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
				"code":  "AUTH_HEADER_MISSING",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format",
				"code":  "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")

		address, err := am.verifySignatureToken(token)
		if err != nil {
			logrus.WithError(err).Warn("Authentication failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication failed",
				"code":  "AUTH_FAILED",
			})
			c.Abort()
			return
		}

		c.Set(ContextAddressKey, address)
		c.Next()
	}
}

// RequireAdmin middleware that restricts a route to the gate's
// administrator. Must run after RequireAuth.
func (am *AuthMiddleware) RequireAdmin(gate *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		address, exists := c.Get(ContextAddressKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
				"code":  "USER_NOT_AUTHENTICATED",
			})
			c.Abort()
			return
		}

		if !gate.IsAdmin(address.(string)) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Administrator access required",
				"code":  "NOT_ADMIN",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// verifySignatureToken verifies a signature-based authentication token
func (am *AuthMiddleware) verifySignatureToken(token string) (string, error) {
	// Token format: "signature:nonce:timestamp:address"
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("invalid token format")
	}

	signature := parts[0]
	nonce := parts[1]
	timestampStr := parts[2]
	address := parts[3]

	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address format")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp")
	}

	// 5 minute validity window
	now := time.Now().Unix()
	if now-timestamp > 300 || timestamp > now+60 {
		return "", fmt.Errorf("timestamp out of valid range")
	}

	message := fmt.Sprintf("OneLotto Auth:%s:%d", nonce, timestamp)
	if err := am.verifyEthereumSignature(message, signature, address); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// Check and record the nonce under one lock so two requests
	// carrying the same nonce cannot both pass.
	am.mu.Lock()
	defer am.mu.Unlock()

	if lastUsed, exists := am.nonceStore[nonce]; exists {
		if time.Since(lastUsed) < am.nonceWindow {
			return "", fmt.Errorf("nonce already used")
		}
	}

	am.nonceStore[nonce] = time.Now()
	am.cleanupExpiredNonces()

	return common.HexToAddress(address).Hex(), nil
}

// verifyEthereumSignature verifies an Ethereum signature
func (am *AuthMiddleware) verifyEthereumSignature(message, signature, expectedAddress string) error {
	signature = strings.TrimPrefix(signature, "0x")

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	if len(sigBytes) != 65 {
		return fmt.Errorf("invalid signature length")
	}

	prefixedMessage := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixedMessage))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return fmt.Errorf("failed to recover public key")
	}

	recoveredAddress := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recoveredAddress.Hex(), expectedAddress) {
		return fmt.Errorf("signature address mismatch")
	}

	return nil
}

// cleanupExpiredNonces removes expired nonces from storage. The caller
// must hold am.mu.
func (am *AuthMiddleware) cleanupExpiredNonces() {
	now := time.Now()
	for nonce, timestamp := range am.nonceStore {
		if now.Sub(timestamp) > am.nonceWindow {
			delete(am.nonceStore, nonce)
		}
	}
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// SecureCORS middleware with a configurable origin whitelist
func SecureCORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
