package api

import "encoding/json"

// Token is the auth state bound to one provider account. It is owned by the
// Client and replaced wholesale whenever a fresh token is obtained; the
// fields are never mutated individually.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"userid"`

	// LocationID identifies the provider region the account lives in, and
	// Hostname is the API host bound to that region. All commands for the
	// account must be issued against this host.
	LocationID int    `json:"locationid"`
	Hostname   string `json:"hostname"`
}

// ParseToken decodes a persisted token. A nil token round-trips through the
// empty string.
func ParseToken(raw string) (*Token, error) {
	if raw == "" {
		return nil, nil
	}
	tok := &Token{}
	if err := json.Unmarshal([]byte(raw), tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// EncodeToken serializes a token for persistence. A nil token encodes to the
// empty string.
func EncodeToken(tok *Token) (string, error) {
	if tok == nil {
		return "", nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// TokenListener receives the new token (possibly nil, meaning logged out)
// every time SetAuth replaces it. The Client supports exactly one listener;
// only the persistence layer subscribes.
type TokenListener func(tok *Token)
