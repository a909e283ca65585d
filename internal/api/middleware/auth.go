package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"cryptoarb/pkg/crypto"
)

// Учётные данные оператора. API_PASSWORD_HASH хранит bcrypt-хеш,
// сам пароль нигде не записывается. Если переменные не заданы,
// аутентификация отключена - режим локального развертывания.
var (
	apiUsername     = os.Getenv("API_USERNAME")
	apiPasswordHash = os.Getenv("API_PASSWORD_HASH")
)

// BasicAuth защищает управляющие endpoints HTTP Basic аутентификацией.
// Имя пользователя сравнивается за константное время, пароль
// проверяется против bcrypt-хеша.
func BasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiUsername == "" || apiPasswordHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="arbitrage api"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(apiUsername)) == 1
		passMatch := crypto.SecretMatches(pass, apiPasswordHash)

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="arbitrage api"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
