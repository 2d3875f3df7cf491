// Command hubtoken signs a development token with the hub's shared secret,
// for use with the /test page or a WebSocket client.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	user := pflag.StringP("user", "u", "", "user id to put in the token (required)")
	role := pflag.String("role", "user", "role claim")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := pflag.String("secret", "", "signing secret (defaults to JWT_SECRET)")
	envFile := pflag.String("env-file", ".env", "dotenv file consulted for JWT_SECRET")
	pflag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "hubtoken: --user is required")
		pflag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(*envFile)
	if *secret == "" {
		*secret = os.Getenv("JWT_SECRET")
	}

	verifier, err := auth.NewVerifier(*secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubtoken:", err)
		os.Exit(1)
	}
	token, err := verifier.Issue(auth.Identity{UserID: *user, Role: *role}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubtoken:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
