package signalserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"interview_room/native/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims scope a signaling token to one room and role. Empty fields are
// unrestricted.
type Claims struct {
	RoomID domain.RoomID `json:"roomId,omitempty"`
	Role   domain.Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("token required")

// MintToken signs an HS256 token for room and role valid for ttl.
func MintToken(secret string, room domain.RoomID, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomID: room,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// bearerToken reads the token from the Authorization header, falling back
// to ?token= for browsers that cannot set headers on a WebSocket.
func bearerToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// allows reports whether the claims permit joining room as role.
func (c *Claims) allows(room domain.RoomID, role domain.Role) bool {
	if c == nil {
		return true
	}
	return (c.RoomID == "" || c.RoomID == room) && (c.Role == "" || c.Role == role)
}
