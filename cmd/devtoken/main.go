// Command devtoken prints a signed session token for local testing of the
// chat server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/capitalize-ai/support-chat/internal/config"
	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
)

func main() {
	userID := flag.String("user", "", "user id to issue the token for")
	role := flag.String("role", string(model.RoleBuyer), "buyer or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "devtoken: -user is required")
		os.Exit(2)
	}
	r := model.Role(*role)
	if !r.Valid() {
		fmt.Fprintf(os.Stderr, "devtoken: unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.NewAuthenticator(cfg.JWTSecret, cfg.AuthCookieName).Issue(*userID, r, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
