package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns CORS middleware allowing credentialed requests from origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", correlationHeader},
		ExposedHeaders:   []string{correlationHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
