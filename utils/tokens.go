package utils

import (
	"os"

	"github.com/kataras/iris/v12/context"
	"github.com/kataras/iris/v12/middleware/jwt"
)

// AccessToken is the claims shape minted by the account service. This server
// only verifies; it never signs.
type AccessToken struct {
	ID   uint   `json:"ID"`
	Role string `json:"role"`
}

// AccessTokenMiddleware verifies the bearer token against the shared secret.
func AccessTokenMiddleware() context.Handler {
	verifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	verifier.WithDefaultBlocklist()
	return verifier.Verify(func() interface{} {
		return new(AccessToken)
	})
}
