// Package middleware содержит HTTP middleware сервиса fanpoints.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Gateway-Signature"

// GatewayAuth проверяет подпись запросов доверенного шлюза чат-платформы.
// Шлюз подписывает тело запроса HMAC-SHA256 с общим секретом; идентификаторы
// пользователей приходят уже разрешёнными, поэтому конечных пользователей
// сервис не аутентифицирует.
type GatewayAuth struct {
	secretKey []byte
}

// NewGatewayAuth создаёт middleware проверки подписи с указанным секретом.
func NewGatewayAuth(secret string) *GatewayAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &GatewayAuth{
		secretKey: key,
	}
}

// Sign возвращает подпись тела запроса. Используется клиентом шлюза и тестами.
func (a *GatewayAuth) Sign(body []byte) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware проверяет подпись тела запроса и отклоняет неподписанные запросы.
// Подпись считается по несжатому телу, поэтому middleware ставится после gzip.
func (a *GatewayAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body.Close()

		if !hmac.Equal([]byte(signature), []byte(a.Sign(body))) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
