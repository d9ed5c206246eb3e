package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	coreerrors "localmoney/core/errors"
)

const capabilityIssuer = "localmoney"

var errCapabilitySecret = errors.New("authz: capability secret not configured")

// CapabilityClaims bind a token to the calling service, the callee and the
// action being performed.
type CapabilityClaims struct {
	Caller string `json:"caller"`
	Action string `json:"action"`
	jwt.RegisteredClaims
}

// Issuer mints short-lived capability tokens for collaborator calls.
type Issuer struct {
	secret []byte
	caller string
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewIssuer returns an issuer signing on behalf of caller.
func NewIssuer(secret, caller string, ttl time.Duration) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errCapabilitySecret
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Issuer{secret: []byte(secret), caller: caller, ttl: ttl, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock. Passing nil restores time.Now.
func (i *Issuer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	i.nowFn = now
}

// Issue signs a token authorising the caller to perform action on audience.
func (i *Issuer) Issue(audience, action string) (string, error) {
	now := i.nowFn()
	claims := CapabilityClaims{
		Caller: i.caller,
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    capabilityIssuer,
			Subject:   i.caller,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verifier checks capability tokens presented to a collaborator.
type Verifier struct {
	secret   []byte
	audience string
	allowed  map[string]struct{}
	nowFn    func() time.Time
}

// NewVerifier returns a verifier for audience accepting tokens from the listed
// callers.
func NewVerifier(secret, audience string, callers ...string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errCapabilitySecret
	}
	allowed := make(map[string]struct{}, len(callers))
	for _, caller := range callers {
		allowed[caller] = struct{}{}
	}
	return &Verifier{secret: []byte(secret), audience: audience, allowed: allowed, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock. Passing nil restores time.Now.
func (v *Verifier) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

// Verify parses token and checks caller, audience and action. Every failure is
// reported as ErrUnauthorizedCpiCall.
func (v *Verifier) Verify(token, action string) (*CapabilityClaims, error) {
	claims := &CapabilityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithIssuer(capabilityIssuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.nowFn),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrUnauthorizedCpiCall, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token invalid", coreerrors.ErrUnauthorizedCpiCall)
	}
	if _, ok := v.allowed[claims.Caller]; !ok || claims.Subject != claims.Caller {
		return nil, fmt.Errorf("%w: caller %q not allowed", coreerrors.ErrUnauthorizedCpiCall, claims.Caller)
	}
	if claims.Action != action {
		return nil, fmt.Errorf("%w: token grants %q not %q", coreerrors.ErrUnauthorizedCpiCall, claims.Action, action)
	}
	return claims, nil
}
