package auth_test

import (
    . "github.com/forensix/evidencedb/auth"
    . "github.com/forensix/evidencedb/error"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var _ = Describe("Credential vault", func() {
    credentials := CredentialSet{
        "collector": Credential{ Username: "collector", Password: "secret", Permission: PermissionReadWrite },
    }

    It("should round trip a credential set", func() {
        blob, err := Encrypt(credentials, "cluster", "clusterpass")

        Expect(err).Should(BeNil())

        decrypted, err := Decrypt(blob, "cluster", "clusterpass")

        Expect(err).Should(BeNil())
        Expect(decrypted).Should(Equal(credentials))
    })

    It("should produce a different blob every time", func() {
        a, _ := Encrypt(credentials, "cluster", "clusterpass")
        b, _ := Encrypt(credentials, "cluster", "clusterpass")

        Expect(a).ShouldNot(Equal(b))
    })

    It("should fail with the wrong credentials", func() {
        blob, _ := Encrypt(credentials, "cluster", "clusterpass")

        _, err := Decrypt(blob, "cluster", "wrong")

        Expect(err).Should(Equal(EIntegrityMismatch))
    })

    It("should fail on a tampered blob", func() {
        blob, _ := Encrypt(credentials, "cluster", "clusterpass")
        blob[len(blob) - 1] ^= 0xff

        _, err := Decrypt(blob, "cluster", "clusterpass")

        Expect(err).Should(Equal(EIntegrityMismatch))
    })

    It("should fail on a truncated blob", func() {
        _, err := Decrypt([]byte{ 1, 2, 3 }, "cluster", "clusterpass")

        Expect(err).Should(Equal(EIntegrityMismatch))
    })
})
