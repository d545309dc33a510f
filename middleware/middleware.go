package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// Ethereum address regex: 0x followed by 40 hex characters
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

const followerKey = "followerID"

// BasicAuth returns a middleware that implements HTTP Basic Authentication
func BasicAuth() gin.HandlerFunc {
	username := os.Getenv("AUTH_USERNAME")
	password := os.Getenv("AUTH_PASSWORD")

	return func(c *gin.Context) {
		// Skip auth if credentials not configured
		if username == "" || password == "" {
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="Hyperliquid Tracker"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}

		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="Hyperliquid Tracker"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateAddress rejects requests whose address parameter is not a valid
// Ethereum address. Handlers normalize casing themselves.
func ValidateAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := strings.ToLower(strings.TrimSpace(c.Param("address")))
		if !ethAddressRegex.MatchString(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid address: must be 0x followed by 40 hex characters",
			})
			return
		}
		c.Next()
	}
}

// FollowerID resolves the caller's follower identity from the X-Follower-ID
// header, defaulting to the locally configured follower.
func FollowerID(defaultID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Follower-ID"))
		if id == "" {
			id = defaultID
		}
		c.Set(followerKey, id)
		c.Next()
	}
}

// Follower returns the follower identity set by FollowerID.
func Follower(c *gin.Context) string {
	return c.GetString(followerKey)
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(strings.ToLower(strings.TrimSpace(addr)))
}
