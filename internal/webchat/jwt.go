package webchat

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/greentic-ai/messaging-gateway/internal/gatewayerr"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
)

// TenantClaim is the nested `ctx` object of spec §4.10's JWT claims shape.
type TenantClaim struct {
	Env    string `json:"env"`
	Tenant string `json:"tenant"`
	Team   string `json:"team,omitempty"`
}

// Claims is the Direct Line token's claim set: `{sub, ctx{env,tenant,team?}, conv?, exp}`.
type Claims struct {
	Subject string      `json:"sub"`
	Ctx     TenantClaim `json:"ctx"`
	Conv    string      `json:"conv,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager mints and verifies Direct Line JWTs, grounded on the
// teacher's JWTManager (go-server/internal/auth/jwt.go), generalized from a
// flat {user_id,username,role} claim set to the Direct Line tenant/
// conversation claim shape.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenManager(secretKey string, ttl time.Duration) *TokenManager {
	return &TokenManager{secretKey: []byte(secretKey), ttl: ttl}
}

// GenerateAnonymous mints a token scoped to a tenant context with no
// conversation bound, per the tokens/generate endpoint.
func (m *TokenManager) GenerateAnonymous(subject string, ctx tenant.Context) (string, error) {
	return m.generate(subject, ctx, "")
}

// GenerateForConversation mints a token bound to conv, sharing the same
// tenant context, per the conversations endpoint.
func (m *TokenManager) GenerateForConversation(subject string, ctx tenant.Context, conv string) (string, error) {
	return m.generate(subject, ctx, conv)
}

func (m *TokenManager) generate(subject string, ctx tenant.Context, conv string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject: subject,
		Ctx:     TenantClaim{Env: ctx.Env, Tenant: ctx.Tenant, Team: ctx.Team},
		Conv:    conv,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "greentic-webchat",
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify parses and validates tokenString, returning its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, gatewayerr.ClientError("E_TOKEN_ALG", "unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, gatewayerr.ClientError("E_TOKEN_INVALID", err.Error())
	}
	if !token.Valid {
		return nil, gatewayerr.ClientError("E_TOKEN_INVALID", "invalid token")
	}
	return claims, nil
}

// ExtractTokenFromHeader pulls a Bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", gatewayerr.ClientError("E_TOKEN_MISSING", "authorization header is required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", gatewayerr.ClientError("E_TOKEN_FORMAT", "authorization header format must be Bearer {token}")
	}
	return parts[1], nil
}

// ExtractTokenFromQuery pulls a token from the `t` or `token` query param,
// used by the WebSocket stream endpoint which can't set headers.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("t"); t != "" {
		return t, nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", gatewayerr.ClientError("E_TOKEN_MISSING", "t query parameter is required")
}

// Authenticate tries the Authorization header first, falling back to the
// query parameter, mirroring the teacher's WebSocketAuth convenience.
func (m *TokenManager) Authenticate(r *http.Request) (*Claims, error) {
	if tok, err := ExtractTokenFromHeader(r); err == nil {
		return m.Verify(tok)
	}
	tok, err := ExtractTokenFromQuery(r)
	if err != nil {
		return nil, err
	}
	return m.Verify(tok)
}
