package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"equity-alerts/internal/api"
)

// issueToken writes a bearer token for the protected API routes.
func issueToken(w io.Writer, secret, subject string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("API_JWT_SECRET is not set; the API is unauthenticated")
	}
	if ttl <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	jm, err := api.NewJWTManager(secret)
	if err != nil {
		return err
	}
	tok, err := jm.GenerateToken(subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}
