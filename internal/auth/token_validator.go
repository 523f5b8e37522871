package auth

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// TokenValidator implements access token validation
type TokenValidator struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	secret   []byte
	issuer   string
	audience string
}

// NewTokenValidator creates a validator for HS256 tokens signed with
// secret. Empty issuer or audience disables that check.
func NewTokenValidator(secret, issuer, audience string) *TokenValidator {
	tv := &TokenValidator{
		methods:  []string{jwt.SigningMethodHS256.Alg()},
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
	tv.keyfunc = func(token *jwt.Token) (interface{}, error) {
		return tv.secret, nil
	}
	return tv
}

// NewKeySetValidator creates a validator for RS256 tokens whose keys are
// resolved by keys. audience is matched against the client_id claim of
// access tokens and the aud claim of id tokens.
func NewKeySetValidator(keys jwt.Keyfunc, issuer, audience string) *TokenValidator {
	return &TokenValidator{
		keyfunc:  keys,
		methods:  []string{jwt.SigningMethodRS256.Alg()},
		issuer:   issuer,
		audience: audience,
	}
}

// UserPoolIssuer returns the issuer claim of tokens minted by a Cognito
// user pool
func UserPoolIssuer(region, poolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, poolID)
}

// NewUserPoolValidator loads the signing keys of the user pool and keeps
// them refreshed in the background until ctx is done
func NewUserPoolValidator(ctx context.Context, region, poolID, clientID string) (*TokenValidator, error) {
	issuer := UserPoolIssuer(region, poolID)
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{issuer + "/.well-known/jwks.json"})
	if err != nil {
		return nil, fmt.Errorf("failed to load user pool signing keys: %w", err)
	}
	return NewKeySetValidator(keys.Keyfunc, issuer, clientID), nil
}

// NewValidator builds the validator selected by auth.mode
func NewValidator(ctx context.Context, awsCfg config.AWSConfig, authCfg config.AuthConfig) (*TokenValidator, error) {
	switch authCfg.Mode {
	case config.AuthModeUserPool:
		return NewUserPoolValidator(ctx, awsCfg.Region, awsCfg.UserPoolID, awsCfg.UserPoolClientID)
	case config.AuthModeSharedSecret:
		return NewTokenValidator(authCfg.JWTSecret, authCfg.Issuer, authCfg.Audience), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", authCfg.Mode)
	}
}

// ValidateJWT validates a token and returns the provider claims
func (tv *TokenValidator) ValidateJWT(tokenString string) (*types.UserClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(tv.methods)}
	if tv.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tv.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tv.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if claims.TokenUse != "" && claims.TokenUse != "access" && claims.TokenUse != "id" {
		return nil, fmt.Errorf("unexpected token use %q", claims.TokenUse)
	}
	if tv.audience != "" && !claims.issuedFor(tv.audience) {
		return nil, fmt.Errorf("token was not issued for client %s", tv.audience)
	}

	groups := make([]types.ProviderGroup, 0, len(claims.Groups))
	for _, g := range claims.Groups {
		groups = append(groups, types.ProviderGroup(g))
	}

	username := claims.Username
	if username == "" {
		username = claims.LoginName
	}

	return &types.UserClaims{
		Subject:  claims.Subject,
		Username: username,
		Email:    claims.Email,
		Groups:   groups,
	}, nil
}

// IssueToken signs an HS256 token for subject. Used in shared secret mode
// and by tests.
func (tv *TokenValidator) IssueToken(subject, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tv.issuer != "" {
		claims.Issuer = tv.issuer
	}
	if tv.audience != "" {
		claims.Audience = jwt.ClaimStrings{tv.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tv.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Claims represents the access and id token claims issued by the user
// pool. Id tokens carry cognito:username and aud; access tokens carry
// username and client_id.
type Claims struct {
	Username  string   `json:"cognito:username,omitempty"`
	LoginName string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	Groups    []string `json:"cognito:groups,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	TokenUse  string   `json:"token_use,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) issuedFor(clientID string) bool {
	return c.ClientID == clientID || slices.Contains(c.Audience, clientID)
}

// SubjectFromToken reads the subject of a token without verifying its
// signature. Clients use it to key local state; the server still verifies
// every request.
func SubjectFromToken(tokenString string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
