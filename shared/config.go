package shared

import (
    "errors"
    "fmt"
    "io/ioutil"

    "gopkg.in/yaml.v2"

    "github.com/forensix/evidencedb/auth"
    . "github.com/forensix/evidencedb/logging"
)

type YAMLServerConfig struct {
    DBFile string `yaml:"db"`
    Host string `yaml:"host"`
    Port int `yaml:"port"`
    Coordinator bool `yaml:"coordinator"`
    CoordinatorHost string `yaml:"coordinatorHost"`
    CoordinatorPort int `yaml:"coordinatorPort"`
    BootstrapNodes uint64 `yaml:"bootstrapNodes"`
    Cluster YAMLClusterCredentials `yaml:"cluster"`
    Clients []YAMLClientCredential `yaml:"clients"`
    NonceCapacity int `yaml:"nonceCapacity"`
    NonceLeaseSeconds int `yaml:"nonceLeaseSeconds"`
    ReportIntervalSeconds int `yaml:"reportIntervalSeconds"`
    MissedReportLimit int `yaml:"missedReportLimit"`
    MaxConnections int `yaml:"maxConnections"`
    TLS YAMLTLSFiles `yaml:"tls"`
    LogLevel string `yaml:"logLevel"`
    EnableProfiling bool `yaml:"enableProfiling"`
}

// YAMLClusterCredentials is the shared secret nodes use to authenticate
// with the coordinator. Every node in the cluster carries the same pair.
type YAMLClusterCredentials struct {
    Username string `yaml:"username"`
    Password string `yaml:"password"`
}

type YAMLClientCredential struct {
    Username string `yaml:"username"`
    Password string `yaml:"password"`
    Permission string `yaml:"permission"`
}

type YAMLTLSFiles struct {
    Certificate string `yaml:"certificate"`
    Key string `yaml:"key"`
}

func (ysc *YAMLServerConfig) LoadFromFile(file string) error {
    rawConfig, err := ioutil.ReadFile(file)

    if err != nil {
        return err
    }

    err = yaml.Unmarshal(rawConfig, ysc)

    if err != nil {
        return err
    }

    return ysc.Validate()
}

func (ysc *YAMLServerConfig) Validate() error {
    if len(ysc.DBFile) == 0 {
        return errors.New("No db file was specified")
    }

    if !isValidPort(ysc.Port) {
        return errors.New(fmt.Sprintf("%d is an invalid port for the database server", ysc.Port))
    }

    if len(ysc.Cluster.Username) == 0 || len(ysc.Cluster.Password) == 0 {
        return errors.New("Cluster credentials must specify both a username and a password")
    }

    if ysc.Coordinator {
        if len(ysc.Clients) == 0 {
            return errors.New("A coordinator must specify at least one client credential")
        }

        for _, client := range ysc.Clients {
            if len(client.Username) == 0 || len(client.Password) == 0 {
                return errors.New("Client credentials must specify both a username and a password")
            }

            switch client.Permission {
            case auth.PermissionRead, auth.PermissionWrite, auth.PermissionReadWrite:
            default:
                return errors.New(fmt.Sprintf("%s is not a valid permission for client %s. Valid permissions are %s, %s and %s", client.Permission, client.Username, auth.PermissionRead, auth.PermissionWrite, auth.PermissionReadWrite))
            }
        }
    } else {
        if len(ysc.CoordinatorHost) == 0 {
            return errors.New("A regular node must specify the coordinator host")
        }

        if !isValidPort(ysc.CoordinatorPort) {
            return errors.New(fmt.Sprintf("%d is an invalid port to connect to the coordinator at %s", ysc.CoordinatorPort, ysc.CoordinatorHost))
        }
    }

    if (len(ysc.TLS.Certificate) == 0) != (len(ysc.TLS.Key) == 0) {
        return errors.New("TLS requires both a certificate and a key file")
    }

    if len(ysc.LogLevel) != 0 && !LogLevelIsValid(ysc.LogLevel) {
        Log.Warningf("%s is not a valid log level. Defaulting to info", ysc.LogLevel)

        ysc.LogLevel = "info"
    }

    return nil
}

// ClientCredentialSet converts the configured client list into the form
// the auth layer consumes.
func (ysc *YAMLServerConfig) ClientCredentialSet() auth.CredentialSet {
    credentials := make(auth.CredentialSet, len(ysc.Clients))

    for _, client := range ysc.Clients {
        credentials[client.Username] = auth.Credential{
            Username: client.Username,
            Password: client.Password,
            Permission: client.Permission,
        }
    }

    return credentials
}

func isValidPort(port int) bool {
    return port > 0 && port < (1 << 16)
}

