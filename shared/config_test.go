package shared_test

import (
    "io/ioutil"
    "os"
    "path/filepath"

    . "github.com/forensix/evidencedb/shared"
    "github.com/forensix/evidencedb/auth"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var _ = Describe("YAMLServerConfig", func() {
    coordinatorConfig := func() YAMLServerConfig {
        return YAMLServerConfig{
            DBFile: "/var/lib/evidencedb/data",
            Host: "0.0.0.0",
            Port: 9090,
            Coordinator: true,
            BootstrapNodes: 3,
            Cluster: YAMLClusterCredentials{ Username: "cluster", Password: "clusterpass" },
            Clients: []YAMLClientCredential{
                YAMLClientCredential{ Username: "collector", Password: "secret", Permission: auth.PermissionReadWrite },
            },
        }
    }

    regularConfig := func() YAMLServerConfig {
        return YAMLServerConfig{
            DBFile: "/var/lib/evidencedb/data",
            Host: "0.0.0.0",
            Port: 9091,
            CoordinatorHost: "10.0.0.1",
            CoordinatorPort: 9090,
            Cluster: YAMLClusterCredentials{ Username: "cluster", Password: "clusterpass" },
        }
    }

    Describe("Validate", func() {
        It("should accept a complete coordinator configuration", func() {
            config := coordinatorConfig()

            Expect(config.Validate()).Should(BeNil())
        })

        It("should accept a complete regular node configuration", func() {
            config := regularConfig()

            Expect(config.Validate()).Should(BeNil())
        })

        It("should require a db file", func() {
            config := coordinatorConfig()
            config.DBFile = ""

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should require a valid listen port", func() {
            config := coordinatorConfig()
            config.Port = 0

            Expect(config.Validate()).Should(Not(BeNil()))

            config.Port = 70000

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should require complete cluster credentials", func() {
            config := coordinatorConfig()
            config.Cluster.Password = ""

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should require a coordinator to carry at least one client credential", func() {
            config := coordinatorConfig()
            config.Clients = nil

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should reject a client credential with an unknown permission", func() {
            config := coordinatorConfig()
            config.Clients[0].Permission = "admin"

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should require a regular node to name its coordinator", func() {
            config := regularConfig()
            config.CoordinatorHost = ""

            Expect(config.Validate()).Should(Not(BeNil()))

            config = regularConfig()
            config.CoordinatorPort = 0

            Expect(config.Validate()).Should(Not(BeNil()))
        })

        It("should require the TLS certificate and key together", func() {
            config := coordinatorConfig()
            config.TLS.Certificate = "/etc/evidencedb/server.crt"

            Expect(config.Validate()).Should(Not(BeNil()))

            config.TLS.Key = "/etc/evidencedb/server.key"

            Expect(config.Validate()).Should(BeNil())
        })

        It("should fall back to the info log level on an unknown one", func() {
            config := coordinatorConfig()
            config.LogLevel = "chatty"

            Expect(config.Validate()).Should(BeNil())
            Expect(config.LogLevel).Should(Equal("info"))
        })
    })

    Describe("LoadFromFile", func() {
        It("should parse and validate a configuration file", func() {
            dir, err := ioutil.TempDir("", "evidencedb-config-")

            Expect(err).Should(BeNil())

            defer os.RemoveAll(dir)

            configFile := filepath.Join(dir, "evidencedb.yaml")
            contents := `
db: /var/lib/evidencedb/data
host: 0.0.0.0
port: 9090
coordinator: true
bootstrapNodes: 3
cluster:
    username: cluster
    password: clusterpass
clients:
    - username: collector
      password: secret
      permission: rw
    - username: auditor
      password: hunter2
      permission: r
logLevel: debug
`

            Expect(ioutil.WriteFile(configFile, []byte(contents), 0644)).Should(BeNil())

            var config YAMLServerConfig

            Expect(config.LoadFromFile(configFile)).Should(BeNil())
            Expect(config.Port).Should(Equal(9090))
            Expect(config.BootstrapNodes).Should(Equal(uint64(3)))
            Expect(len(config.Clients)).Should(Equal(2))
            Expect(config.LogLevel).Should(Equal("debug"))
        })

        It("should fail on a missing file", func() {
            var config YAMLServerConfig

            Expect(config.LoadFromFile("/nonexistent/evidencedb.yaml")).Should(Not(BeNil()))
        })
    })

    Describe("ClientCredentialSet", func() {
        It("should key every configured client by username", func() {
            config := coordinatorConfig()
            config.Clients = append(config.Clients, YAMLClientCredential{ Username: "auditor", Password: "hunter2", Permission: auth.PermissionRead })

            credentials := config.ClientCredentialSet()

            Expect(len(credentials)).Should(Equal(2))
            Expect(credentials["collector"].Permission).Should(Equal(auth.PermissionReadWrite))
            Expect(credentials["auditor"].Password).Should(Equal("hunter2"))
        })
    })
})
