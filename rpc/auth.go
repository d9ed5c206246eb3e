package rpc

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"localmoney/crypto"
)

const clockSkew = 2 * time.Minute

// Caller is the authenticated principal of a request.
type Caller struct {
	Subject  string
	Address  [20]byte
	Operator bool
}

// HasAddress reports whether the token subject resolved to an account.
func (c *Caller) HasAddress() bool {
	return c != nil && c.Address != ([20]byte{})
}

type authenticator struct {
	secret    []byte
	issuer    string
	operators map[string]struct{}
	nowFn     func() time.Time
}

func newAuthenticator(secret, issuer string, operators []string) (*authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("rpc: jwt secret not configured")
	}
	set := make(map[string]struct{}, len(operators))
	for _, subject := range operators {
		if trimmed := strings.TrimSpace(subject); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return &authenticator{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		operators: set,
		nowFn:     time.Now,
	}, nil
}

func (a *authenticator) authenticate(header string) (*Caller, error) {
	tokenString := extractBearer(header)
	if tokenString == "" {
		return nil, errors.New("missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.nowFn),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, errors.New("token subject required")
	}
	caller := &Caller{Subject: subject}
	if addr, err := crypto.ParseAddress(subject); err == nil {
		caller.Address = addr
	}
	_, caller.Operator = a.operators[subject]
	return caller, nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
