package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"socialchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	identityKey  = "identity"
	authCookie   = "authorization"
	tokenIssuer  = "socialchat"
	bearerPrefix = "Bearer "
)

// Claims carries the account id issued by the account service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 identity token for accountID.
func IssueToken(secret []byte, accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (h *Handler) parseToken(raw string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return h.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", errors.New("token has no user_id")
	}
	return claims.UserID, nil
}

// bearerToken reads the Authorization header, falling back to the
// authorization cookie set by the web client.
func bearerToken(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); strings.HasPrefix(v, bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	if v, err := c.Cookie(authCookie); err == nil {
		return strings.TrimSpace(strings.TrimPrefix(v, bearerPrefix))
	}
	return ""
}

// Identity resolves the caller's account. Missing, invalid or expired
// tokens leave the request anonymous; it never rejects a request.
func (h *Handler) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.Next()
			return
		}
		log := logrus.WithField("component", "auth")

		accountID, err := h.parseToken(raw)
		if err != nil {
			log.WithError(err).Debug("rejected token")
			c.Next()
			return
		}
		account, err := h.Accounts.GetAccount(c.Request.Context(), accountID)
		if err != nil {
			log.WithError(err).WithField("user_id", accountID).Debug("token for unknown account")
			c.Next()
			return
		}
		c.Set(identityKey, account)
		c.Next()
	}
}

// CurrentIdentity returns the authenticated account or nil.
func CurrentIdentity(c *gin.Context) *models.Account {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	account, _ := v.(*models.Account)
	return account
}

func describe(a *models.Account) string {
	if a == nil {
		return "anonymous"
	}
	return fmt.Sprintf("%s(%s)", a.Username, a.ID)
}
