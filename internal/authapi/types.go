package authapi

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/medipanel/medigate/internal/credstore"
)

// Endpoint paths, relative to the platform base URL.
const (
	LoginPath    = "/auth/login"
	RegisterPath = "/auth/register"
	RefreshPath  = "/auth/refresh"
	LogoutPath   = "/auth/logout"
)

var validate = validator.New()

// TokenGrant is the platform's response to a successful login, registration
// or token refresh. ExpiresIn is the access-token lifetime in seconds; when
// the platform omits it the access token itself carries the expiry claim.
type TokenGrant struct {
	AccessToken  string         `json:"accessToken" validate:"required"`
	RefreshToken string         `json:"refreshToken" validate:"required"`
	ExpiresIn    int64          `json:"expiresIn,omitempty"`
	User         credstore.User `json:"user"`
}

// Validate reports whether the grant is complete. A grant missing either
// token is unusable and must be treated as a failed exchange, not stored.
func (g TokenGrant) Validate() error {
	if err := validate.Struct(g); err != nil {
		return fmt.Errorf("incomplete token grant: %w", err)
	}
	return nil
}

// Session converts the grant into a storable session, resolving ExpiresIn
// against the given clock reading.
func (g TokenGrant) Session(now time.Time) credstore.Session {
	s := credstore.Session{
		Token: oauth2.Token{
			AccessToken:  g.AccessToken,
			RefreshToken: g.RefreshToken,
			TokenType:    "Bearer",
		},
		Principal: g.User,
	}
	if g.ExpiresIn > 0 {
		s.Token.Expiry = now.Add(time.Duration(g.ExpiresIn) * time.Second)
	}
	return s
}

// Registration is the payload for creating a platform account.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
