// Command token mints a bearer token for local testing of the checkout API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dejobratic/checkout/internal/auth"
)

func main() {
	_ = godotenv.Load()

	var (
		subject string
		email   string
		role    string
		ttl     time.Duration
	)
	flag.StringVar(&subject, "sub", "", "customer id placed in the sub claim")
	flag.StringVar(&email, "email", "", "customer email")
	flag.StringVar(&role, "role", auth.RoleCustomer, "customer or admin")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	if subject == "" {
		fmt.Fprintln(os.Stderr, "token: -sub is required")
		flag.Usage()
		os.Exit(2)
	}

	verifier, err := auth.NewVerifier(os.Getenv("JWT_SECRET"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}

	token, err := verifier.Sign(auth.Identity{CustomerID: subject, Email: email, Role: role}, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
