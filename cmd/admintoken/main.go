// Command admintoken mints a bearer token for the relay's admin API.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-relay/internal/api"
)

func main() {
	var (
		subject    string
		signingKey string
	)
	flag.StringVar(&subject, "subject", "admin", "token subject, recorded in the audit log")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key (default $RELAY_ADMIN_SIGNING_KEY)")
	exp := flag.Duration("exp", api.DefaultTokenExp, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	if signingKey == "" {
		signingKey = os.Getenv("RELAY_ADMIN_SIGNING_KEY")
	}
	if signingKey == "" {
		fmt.Fprintln(os.Stderr, "a signing key is required")
		os.Exit(2)
	}

	key, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode signing key:", err)
		os.Exit(1)
	}

	token, err := api.CreateAdminToken(key, subject, *exp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
