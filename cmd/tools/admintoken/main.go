// Command admintoken mints a short-lived admin bearer token for the order
// back office.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/alkahf/storefront/internal/auth"
)

func main() {
	subject := flag.String("sub", "", "operator identifier placed in the token subject")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	if *subject == "" {
		log.Fatal("-sub is required")
	}
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		log.Fatal("ADMIN_JWT_SECRET is not set")
	}
	issuer := os.Getenv("ADMIN_JWT_ISSUER")
	if issuer == "" {
		issuer = "storefront"
	}

	token, err := auth.Guard{Secret: []byte(secret), Issuer: issuer}.Issue(*subject, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
