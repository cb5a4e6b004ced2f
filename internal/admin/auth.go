package admin

import (
	"animeagg/internal/components/chrono"
	"animeagg/lib/serviceutil"
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const RoleAdmin = "admin"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 admin tokens.
type Tokens struct {
	secret []byte
	clock  chrono.TimeAPI
}

func NewTokens(secret string, clock chrono.TimeAPI) Tokens {
	return Tokens{secret: []byte(secret), clock: clock}
}

func (t Tokens) Issue(subject, role string, ttl time.Duration) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, errors.New("no admin secret configured")
	}
	now := t.clock.Now()
	expires := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "animeagg",
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (t Tokens) Verify(token string) (*Claims, error) {
	if len(t.secret) == 0 {
		return nil, errors.New("no admin secret configured")
	}
	parsed, err := jwt.ParseWithClaims(
		token,
		&Claims{},
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

type claimsCtxKeyType int

const claimsCtxKey claimsCtxKeyType = 0

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(*Claims)
	return claims, ok
}

// AuthInterceptor only lets through requests carrying a valid admin token.
type AuthInterceptor struct {
	tokens Tokens
}

func NewAuthInterceptor(tokens Tokens) AuthInterceptor {
	return AuthInterceptor{tokens: tokens}
}

func (i AuthInterceptor) authorize(ctx context.Context, header string) (context.Context, error) {
	token := serviceutil.BearerToken(header)
	if token == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing bearer token"))
	}
	claims, err := i.tokens.Verify(token)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}
	if claims.Role != RoleAdmin {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("role '%s' is not allowed", claims.Role))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("admin:subject", claims.Subject))
	return context.WithValue(ctx, claimsCtxKey, claims), nil
}

func (i AuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		ctx, err := i.authorize(ctx, req.Header().Get("Authorization"))
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i AuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		ctx, err := i.authorize(ctx, conn.RequestHeader().Get("Authorization"))
		if err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i AuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}
