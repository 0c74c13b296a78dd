package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
)

// Token is an ephemeral, single use authentication proof: the holder of a
// principal's password combines a previously issued nonce with the secret
// to produce the hash. The nonce is consumed on first validation.
type Token struct {
    Nonce string `json:"nonce"`
    Hash string `json:"hash"`
    Principal string `json:"principal"`
}

func secretKey(username string, password string) []byte {
    key := sha256.Sum256([]byte(username + ":" + password))

    return key[:]
}

// TokenHash computes the expected proof for a nonce under a principal's
// credentials. Validators always recompute this locally and never trust a
// caller supplied hash.
func TokenHash(nonce string, username string, password string) string {
    mac := hmac.New(sha256.New, secretKey(username, password))
    mac.Write([]byte(nonce))

    return hex.EncodeToString(mac.Sum(nil))
}

func NewToken(nonce string, username string, password string) Token {
    return Token{
        Nonce: nonce,
        Hash: TokenHash(nonce, username, password),
        Principal: username,
    }
}

// ValidateServerToken checks a token presented by a prospective cluster
// node. Nodes authenticate as the cluster itself, so the expected hash is
// computed from the coordinator's own credentials. The nonce is consumed
// whether or not the hash matches, and the caller learns only a generic
// accept or reject.
func (registry *NonceRegistry) ValidateServerToken(token Token, coordinatorUsername string, coordinatorPassword string) bool {
    if !registry.GetNonce(token.Nonce) {
        return false
    }

    expected := TokenHash(token.Nonce, coordinatorUsername, coordinatorPassword)

    return hmac.Equal([]byte(expected), []byte(token.Hash))
}

// ValidateClientToken checks a token presented by a data client and returns
// the permission string granted to that principal.
func (registry *NonceRegistry) ValidateClientToken(token Token, credentials CredentialSet) (string, bool) {
    if !registry.GetNonce(token.Nonce) {
        return "", false
    }

    credential, ok := credentials[token.Principal]

    if !ok {
        return "", false
    }

    expected := TokenHash(token.Nonce, credential.Username, credential.Password)

    if !hmac.Equal([]byte(expected), []byte(token.Hash)) {
        return "", false
    }

    return credential.Permission, true
}
