// Package main provides a CLI tool for minting visitor cookies for local
// testing of the consent API. Tokens use the dev signing key unless -key is
// given and will NOT work against a server with a different key.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/platform/config"
	"tagconsent/internal/visitor"
)

type tokenOutput struct {
	VisitorID string            `json:"visitor_id"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	visitorID := flag.String("visitor-id", "", "Visitor ID (UUID). Generated if empty.")
	key := flag.String("key", config.Default().VisitorSigningKey, "Visitor signing key (VISITOR_SIGNING_KEY on the server)")
	ttl := flag.Duration("ttl", models.RetentionPeriod, "Token time-to-live")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	id := *visitorID
	if id == "" {
		id = visitor.NewVisitorID()
	} else if _, err := uuid.Parse(id); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid visitor-id: %v\n", err)
		os.Exit(1)
	}

	token, expiresAt, err := visitor.NewTokens(*key, *ttl).Issue(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	cookie := fmt.Sprintf("%s=%s", visitor.CookieName, token)
	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tokenOutput{
			VisitorID: id,
			Token:     token,
			ExpiresAt: expiresAt,
			Usage:     map[string]string{"cookie": cookie},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Visitor Token")
	fmt.Println("=============")
	fmt.Printf("Visitor ID: %s\n", id)
	fmt.Printf("Expires At: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -b '%s' http://localhost:8080/consent\n", cookie)
}
