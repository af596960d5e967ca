package middleware

import (
	"fmt"
	"strings"

	"github.com/curvewatch/indexer/api"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const SessionAddressKey = "sessionAddress"

var ErrUnauthorized = fmt.Errorf("invalid session token")

// ITokenVerifier resolves a session token to the account address it was issued for.
type ITokenVerifier interface {
	Verify(token string) (string, error)
}

// Authorization attaches the caller's account address to the context when a
// session token is supplied. Requests without a token pass through anonymously.
func Authorization(verifier ITokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			c.Next()
			return
		}
		address, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Str("ip", c.ClientIP()).Msg(ErrUnauthorized.Error())
			api.UnauthorizedErrorHandler(c, ErrUnauthorized)
			return
		}
		c.Set(SessionAddressKey, address)
		c.Next()
	}
}

// SessionToken reads a bearer token from the Authorization header or the token query parameter.
func SessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}
