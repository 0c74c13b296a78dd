package auth

import (
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"

    . "github.com/forensix/evidencedb/error"
)

// Encrypt serializes a credential set and encrypts it for transport to a
// newly admitted node. The key is derived from the coordinator's own
// username and password, which both ends already know; nothing secret
// crosses the wire. A fresh random nonce is generated per call and
// prepended to the ciphertext.
func Encrypt(credentialSet CredentialSet, coordinatorUsername string, coordinatorPassword string) ([]byte, error) {
    block, err := aes.NewCipher(secretKey(coordinatorUsername, coordinatorPassword))

    if err != nil {
        return nil, err
    }

    gcm, err := cipher.NewGCM(block)

    if err != nil {
        return nil, err
    }

    nonce := make([]byte, gcm.NonceSize())

    if _, err := rand.Read(nonce); err != nil {
        return nil, err
    }

    return gcm.Seal(nonce, nonce, credentialSet.ToJSON(), nil), nil
}

// Decrypt reverses Encrypt. Any tampering or a wrong key yields
// EIntegrityMismatch, never partially parsed credentials.
func Decrypt(blob []byte, coordinatorUsername string, coordinatorPassword string) (CredentialSet, error) {
    block, err := aes.NewCipher(secretKey(coordinatorUsername, coordinatorPassword))

    if err != nil {
        return nil, err
    }

    gcm, err := cipher.NewGCM(block)

    if err != nil {
        return nil, err
    }

    if len(blob) < gcm.NonceSize() {
        return nil, EIntegrityMismatch
    }

    nonce := blob[:gcm.NonceSize()]
    plaintext, err := gcm.Open(nil, nonce, blob[gcm.NonceSize():], nil)

    if err != nil {
        return nil, EIntegrityMismatch
    }

    credentialSet, err := CredentialSetFromJSON(plaintext)

    if err != nil {
        return nil, EIntegrityMismatch
    }

    return credentialSet, nil
}
