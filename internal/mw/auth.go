package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"billsync/internal/books"
)

type contextKey string

const CredentialCtxKey contextKey = "books_credential"

// CredentialMiddleware unpacks the caller's books API credential from
// a Bearer token issued by the account service. Tokens are verified
// here, never minted or refreshed.
func CredentialMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid token format", http.StatusUnauthorized)
				return
			}

			tokenString := parts[1]

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid claims", http.StatusInternalServerError)
				return
			}

			accountID, ok := claims["account_id"].(string)
			if !ok {
				http.Error(w, "account_id not found in token", http.StatusUnauthorized)
				return
			}
			booksToken, ok := claims["books_token"].(string)
			if !ok {
				http.Error(w, "books_token not found in token", http.StatusUnauthorized)
				return
			}

			cred := books.Credential{AccountID: accountID, Token: booksToken}
			ctx := context.WithValue(r.Context(), CredentialCtxKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromContext returns the credential stored by the
// middleware.
func CredentialFromContext(ctx context.Context) (books.Credential, bool) {
	cred, ok := ctx.Value(CredentialCtxKey).(books.Credential)
	return cred, ok
}
