package auth

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, key *ecdsa.PrivateKey, nonce string, timestamp int64) string {
	t.Helper()

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message := fmt.Sprintf("OneLotto Auth:%s:%d", nonce, timestamp)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixed))

	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	return fmt.Sprintf("0x%x:%s:%d:%s", sig, nonce, timestamp, address)
}

func newAuthRouter(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", am.RequireAuth(), func(c *gin.Context) {
		address, _ := c.Get(ContextAddressKey)
		c.JSON(http.StatusOK, gin.H{"address": address})
	})
	return router
}

func TestRequireAuth(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAuthRouter(NewAuthMiddleware())
	token := signedToken(t, key, "nonce-1", time.Now().Unix())

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	router := newAuthRouter(NewAuthMiddleware())

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireAuth_MalformedToken(t *testing.T) {
	router := newAuthRouter(NewAuthMiddleware())

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireAuth_StaleTimestamp(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAuthRouter(NewAuthMiddleware())
	token := signedToken(t, key, "nonce-2", time.Now().Add(-time.Hour).Unix())

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireAuth_NonceReplayRejected(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	am := NewAuthMiddleware()
	router := newAuthRouter(am)
	token := signedToken(t, key, "nonce-3", time.Now().Unix())

	for i, want := range []int{http.StatusOK, http.StatusUnauthorized} {
		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()

		router.ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, "request %d", i)
	}
}

// TestRequireAuth_ConcurrentLogins hammers the middleware from many
// goroutines; the shared nonce store must tolerate it.
func TestRequireAuth_ConcurrentLogins(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAuthRouter(NewAuthMiddleware())

	tokens := make([]string, 16)
	for i := range tokens {
		tokens[i] = signedToken(t, key, fmt.Sprintf("nonce-c%d", i), time.Now().Unix())
	}

	var wg sync.WaitGroup
	codes := make([]int, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()

			req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)
			codes[i] = resp.Code
		}(i, token)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
}

// TestRequireAuth_ConcurrentNonceReuse sends the same token from many
// goroutines at once; exactly one request may win the nonce.
func TestRequireAuth_ConcurrentNonceReuse(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAuthRouter(NewAuthMiddleware())
	token := signedToken(t, key, "nonce-race", time.Now().Unix())

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp := httptest.NewRecorder()

			router.ServeHTTP(resp, req)
			if resp.Code == http.StatusOK {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), accepted.Load())
}

func TestRequireAuth_WrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor, err := crypto.GenerateKey()
	require.NoError(t, err)

	router := newAuthRouter(NewAuthMiddleware())

	// Token signed by one key but claiming the other's address.
	nonce := "nonce-4"
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("OneLotto Auth:%s:%d", nonce, timestamp)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256Hash([]byte(prefixed)).Bytes(), impostor)
	require.NoError(t, err)
	token := fmt.Sprintf("0x%x:%s:%d:%s", sig, nonce, timestamp, crypto.PubkeyToAddress(key.PublicKey).Hex())

	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireAdmin(t *testing.T) {
	gate, err := NewGate(adminAddr)
	require.NoError(t, err)

	am := NewAuthMiddleware()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin",
		func(c *gin.Context) { c.Set(ContextAddressKey, c.GetHeader("X-Test-Address")); c.Next() },
		am.RequireAdmin(gate),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Test-Address", adminAddr)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Test-Address", otherAddr)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}
