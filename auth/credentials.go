package auth

import (
    "encoding/json"
    "strings"
)

const (
    PermissionRead string = "r"
    PermissionWrite string = "w"
    PermissionReadWrite string = "rw"
)

type Credential struct {
    Username string `json:"username"`
    Password string `json:"password"`
    Permission string `json:"permission"`
}

// CredentialSet is the full set of client principals allowed to open data
// sessions against the cluster, keyed by username. Every node holds the
// same set, obtained from the coordinator at registration time.
type CredentialSet map[string]Credential

func (credentialSet CredentialSet) ToJSON() []byte {
    encoded, _ := json.Marshal(credentialSet)

    return encoded
}

func CredentialSetFromJSON(encoded []byte) (CredentialSet, error) {
    var credentialSet CredentialSet

    if err := json.Unmarshal(encoded, &credentialSet); err != nil {
        return nil, err
    }

    return credentialSet, nil
}

// PermissionAllows reports whether a granted permission string covers the
// permission a command requires.
func PermissionAllows(granted string, required string) bool {
    for _, p := range required {
        if !strings.ContainsRune(granted, p) {
            return false
        }
    }

    return len(required) != 0
}
