package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"livewatch-client/internal/protocol"
)

// GenerateToken mints an HMAC-signed bearer token carrying the user identity
func GenerateToken(secret string, userID int64, userName string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   userID,
		"user_name": userName,
		"exp":       time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// Auth validates the Authorization header and stores the user identity in the
// request context
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorPayload{Message: "authorization header is required"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")
		authenticate(c, jwtSecret, tokenString)
	}
}

// WSAuth handles websocket authentication via the Authorization header or a
// token query parameter
func WSAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = strings.TrimPrefix(c.Query("token"), "Bearer ")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorPayload{Message: "token is required"})
			return
		}
		authenticate(c, jwtSecret, tokenString)
	}
}

func authenticate(c *gin.Context, jwtSecret, tokenString string) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorPayload{Message: "invalid token"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorPayload{Message: "invalid token claims"})
		return
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorPayload{Message: "invalid user ID in token"})
		return
	}
	userName, _ := claims["user_name"].(string)

	c.Set("user_id", int64(userID))
	c.Set("user_name", userName)
	c.Next()
}
