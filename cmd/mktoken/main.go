// mktoken mints a development JWT for a user id, signed with the same
// secret the server verifies against. Production tokens come from the
// identity service, never from this tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"chat-relay/auth"
)

func main() {
	userID := flag.String("user", "", "user id to mint a token for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")

	if *userID == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... mktoken -user <id> [-ttl 24h]")
		os.Exit(2)
	}

	token, err := auth.GenerateToken([]byte(secret), *userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
