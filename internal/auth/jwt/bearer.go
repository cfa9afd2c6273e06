package jwt

import (
	"strings"
)

const bearerPrefix = "bearer "

// BearerToken extracts the token from an Authorization header value.
//
// An empty header yields ErrNoToken. A header that is present but not
// "Bearer <token>" (any case for the scheme) yields ErrMalformedHeader.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMalformedHeader
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}
