package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/models"
)

const (
	tokenTypeStaff   = "staff"
	tokenTypeSession = "session"
)

// IssueStaffToken creates a bearer token for the management portal.
func IssueStaffToken(secret []byte, staff models.Staff, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": tokenTypeStaff,
		"tenant_id":  staff.TenantID,
		"staff_id":   staff.ID,
		"role":       string(staff.Role),
		"exp":        time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// IssueSessionToken creates a short-lived bearer token for a customer who
// scanned a table QR code. The session key scopes mergeable-order lookups.
func IssueSessionToken(secret []byte, tenantID, tableID int, sessionKey string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type":  tokenTypeSession,
		"tenant_id":   tenantID,
		"table_id":    tableID,
		"session_key": sessionKey,
		"exp":         time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

func parseBearer(c *gin.Context, secret []byte) (jwt.MapClaims, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, false
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	return claims, ok
}

// StaffAuth enforces a staff bearer token and stores the tenant scope on the
// request context. Every downstream query must filter by tenant_id.
func StaffAuth(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, secret)
		if !ok || claims["token_type"] != tokenTypeStaff {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing token"})
			return
		}

		tenantID, ok1 := claims["tenant_id"].(float64)
		staffID, ok2 := claims["staff_id"].(float64)
		role, ok3 := claims["role"].(string)
		if !ok1 || !ok2 || !ok3 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set("tenant_id", int(tenantID))
		c.Set("staff_id", int(staffID))
		c.Set("role", role)
		c.Next()
	}
}

// SessionAuth enforces a table-session bearer token issued from a QR scan.
func SessionAuth(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, secret)
		if !ok || claims["token_type"] != tokenTypeSession {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing session token"})
			return
		}

		tenantID, ok1 := claims["tenant_id"].(float64)
		tableID, ok2 := claims["table_id"].(float64)
		sessionKey, ok3 := claims["session_key"].(string)
		if !ok1 || !ok2 || !ok3 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set("tenant_id", int(tenantID))
		c.Set("table_id", int(tableID))
		c.Set("session_key", sessionKey)
		c.Next()
	}
}

// RequireRole restricts a staff route to the given roles.
func RequireRole(roles ...models.StaffRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := models.StaffRole(c.GetString("role"))
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
	}
}

// TenantID returns the tenant scope set by StaffAuth or SessionAuth.
func TenantID(c *gin.Context) int {
	return c.GetInt("tenant_id")
}
