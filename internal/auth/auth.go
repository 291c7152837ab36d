package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// HeaderUserID - заголовок, в котором шлюз маркетплейса передает идентификатор пользователя
const HeaderUserID = "X-User-ID"

var ErrNoIdentity = errors.New("no user identity in request")

type contextKey struct{}

// Identify извлекает идентификатор пользователя из запроса
func Identify(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return "", ErrNoIdentity
	}
	return userID, nil
}

// WithUserID кладет идентификатор пользователя в контекст
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID возвращает идентификатор из контекста или пустую строку
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}

// Middleware отклоняет запросы без идентификатора с 401
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := Identify(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
