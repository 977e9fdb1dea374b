package services

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/artemuse/gallery-backend/internal/apierr"
	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/requestdata"
)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// SessionResolver turns an opaque session credential into a verified identity
// on the request context. Token issuance belongs to the auth subsystem that
// fronts this service; this side only verifies.
type SessionResolver interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type jwtSessionResolver struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewJWTSessionResolver(log *logger.Logger, jwtSecretKey string) SessionResolver {
	resolverLog := log.With("service", "SessionResolver")
	return &jwtSessionResolver{log: resolverLog, jwtSecretKey: jwtSecretKey}
}

func (sr *jwtSessionResolver) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, apierr.Unauthorized(fmt.Errorf("missing session token"))
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(sr.jwtSecretKey), nil
	})
	if err != nil {
		return ctx, apierr.Unauthorized(fmt.Errorf("failed to parse session token: %w", err))
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, apierr.Unauthorized(fmt.Errorf("invalid or expired session token"))
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, apierr.Unauthorized(fmt.Errorf("invalid user id in session token: %w", err))
	}
	rd := &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}
