package routes_test

import (
    "bytes"
    "encoding/json"
    "io"
    "io/ioutil"
    "net/http"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/routes"
    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var _ = Describe("RebalanceEndpoint", func() {
    var facade *mockFacade
    var serverURL string
    var shutdown func()
    var transaction *rebalance.Transaction

    BeforeEach(func() {
        facade = newMockFacade()
        server := startEndpoint(&RebalanceEndpoint{ ClusterFacade: facade })
        serverURL = server.URL
        shutdown = server.Close
        transaction = rebalance.NewTransaction(testTable())
    })

    AfterEach(func() {
        shutdown()
    })

    Describe("internal protocol", func() {
        It("should prepare a proposed transaction", func() {
            facade.prepareRebalance = func(proposed *rebalance.Transaction) error {
                Expect(proposed.ID).Should(Equal(transaction.ID))

                return nil
            }

            status, _ := postJSON(serverURL + "/rebalance/prepare", RebalanceRequest{ Transaction: transaction })

            Expect(status).Should(Equal(http.StatusOK))
        })

        It("should reject a prepare without a transaction", func() {
            status, body := postJSON(serverURL + "/rebalance/prepare", RebalanceRequest{})

            Expect(status).Should(Equal(http.StatusBadRequest))
            Expect(decodeDBerror(body)).Should(Equal(ERequest))
        })

        It("should report a conflicting transaction as a conflict", func() {
            facade.prepareRebalance = func(proposed *rebalance.Transaction) error { return EAlreadyRebalancing }

            status, body := postJSON(serverURL + "/rebalance/prepare", RebalanceRequest{ Transaction: transaction })

            Expect(status).Should(Equal(http.StatusConflict))
            Expect(decodeDBerror(body)).Should(Equal(EAlreadyRebalancing))
        })

        It("should return the computed moving byte count", func() {
            facade.computeMovingBytes = func(proposed *rebalance.Transaction) (uint64, error) { return 4096, nil }

            status, body := postJSON(serverURL + "/rebalance/size", RebalanceRequest{ Transaction: transaction })

            Expect(status).Should(Equal(http.StatusOK))

            var sizeResponse SizeResponse

            Expect(json.Unmarshal(body, &sizeResponse)).Should(BeNil())
            Expect(sizeResponse.MovingBytes).Should(Equal(uint64(4096)))
        })

        It("should return the node state produced by a local commit", func() {
            facade.commitLocal = func(proposed *rebalance.Transaction) (partition.NodeState, error) {
                return partition.NodeState{ Status: partition.StatusAvailable, SizeBytes: 2048, NumComponents: 2 }, nil
            }

            status, body := postJSON(serverURL + "/rebalance/commit", RebalanceRequest{ Transaction: transaction })

            Expect(status).Should(Equal(http.StatusOK))

            var commitResponse CommitResponse

            Expect(json.Unmarshal(body, &commitResponse)).Should(BeNil())
            Expect(commitResponse.State.SizeBytes).Should(Equal(uint64(2048)))
        })

        postCopyStream := func(url string, body []byte) *http.Response {
            encodedToken, err := json.Marshal(auth.Token{ Nonce: "test-nonce" })

            Expect(err).Should(BeNil())

            request, err := http.NewRequest("POST", url, bytes.NewReader(body))

            Expect(err).Should(BeNil())

            request.Header.Set("Content-Type", "application/octet-stream")
            request.Header.Set(CopyStreamTokenHeader, string(encodedToken))

            response, err := http.DefaultClient.Do(request)

            Expect(err).Should(BeNil())

            return response
        }

        It("should hand the raw request body to the copy stream receiver", func() {
            var received []byte

            facade.receiveCopyStream = func(transactionID string, reader io.Reader) error {
                Expect(transactionID).Should(Equal("txn-42"))

                var err error
                received, err = ioutil.ReadAll(reader)

                return err
            }

            response := postCopyStream(serverURL + "/rebalance/records/txn-42", []byte("framed records"))

            response.Body.Close()

            Expect(response.StatusCode).Should(Equal(http.StatusOK))
            Expect(received).Should(Equal([]byte("framed records")))
        })

        It("should reject a copy stream for the wrong transaction", func() {
            facade.receiveCopyStream = func(transactionID string, reader io.Reader) error { return EWrongTransaction }

            response := postCopyStream(serverURL + "/rebalance/records/txn-42", []byte("framed records"))

            response.Body.Close()

            Expect(response.StatusCode).Should(Equal(http.StatusConflict))
        })

        It("should reject a copy stream without a token", func() {
            reached := false
            facade.receiveCopyStream = func(transactionID string, reader io.Reader) error {
                reached = true

                return nil
            }

            response, err := http.Post(serverURL + "/rebalance/records/txn-42", "application/octet-stream", bytes.NewReader([]byte("framed records")))

            Expect(err).Should(BeNil())

            body, _ := ioutil.ReadAll(response.Body)
            response.Body.Close()

            Expect(response.StatusCode).Should(Equal(http.StatusUnauthorized))
            Expect(decodeDBerror(body)).Should(Equal(ENotAuthorized))
            Expect(reached).Should(BeFalse())
        })

        It("should reject a copy stream whose token fails validation", func() {
            facade.validateServerToken = func(token auth.Token) bool { return false }

            reached := false
            facade.receiveCopyStream = func(transactionID string, reader io.Reader) error {
                reached = true

                return nil
            }

            response := postCopyStream(serverURL + "/rebalance/records/txn-42", []byte("framed records"))

            body, _ := ioutil.ReadAll(response.Body)
            response.Body.Close()

            Expect(response.StatusCode).Should(Equal(http.StatusUnauthorized))
            Expect(decodeDBerror(body)).Should(Equal(ENotAuthorized))
            Expect(reached).Should(BeFalse())
        })

        It("should abort the named transaction", func() {
            facade.abortLocal = func(transactionID string) error {
                Expect(transactionID).Should(Equal(transaction.ID))

                return nil
            }

            status, _ := postJSON(serverURL + "/rebalance/abort", TransactionRequest{ TransactionID: transaction.ID })

            Expect(status).Should(Equal(http.StatusOK))
        })
    })

    Describe("admin protocol", func() {
        It("should refuse every admin operation off the coordinator", func() {
            facade.isCoordinator = func() bool { return false }

            for _, path := range []string{
                "/cluster/rebalance/size",
                "/cluster/rebalance/copy",
                "/cluster/rebalance/commit",
                "/cluster/rebalance/abort",
                "/cluster/rebalance/recover",
            } {
                status, body := postJSON(serverURL + path, TransactionRequest{})

                Expect(status).Should(Equal(http.StatusForbidden))
                Expect(decodeDBerror(body)).Should(Equal(ENotMaster))
            }

            status, body := postJSON(serverURL + "/cluster/rebalance", ProposeRequest{ Even: true })

            Expect(status).Should(Equal(http.StatusForbidden))
            Expect(decodeDBerror(body)).Should(Equal(ENotMaster))
        })

        It("should propose an equal share target when asked", func() {
            facade.proposeRebalance = func(targetTable *partition.Table, even bool) (*rebalance.Transaction, error) {
                Expect(targetTable).Should(BeNil())
                Expect(even).Should(BeTrue())

                return transaction, nil
            }

            status, body := postJSON(serverURL + "/cluster/rebalance", ProposeRequest{ Even: true })

            Expect(status).Should(Equal(http.StatusOK))

            var proposed rebalance.Transaction

            Expect(json.Unmarshal(body, &proposed)).Should(BeNil())
            Expect(proposed.ID).Should(Equal(transaction.ID))
            Expect(proposed.Phase).Should(Equal(rebalance.PhaseProposed))
        })

        It("should return the sized transaction", func() {
            transaction.Phase = rebalance.PhaseSized
            transaction.MovingBytesPerNode = []uint64{ 100, 50 }
            facade.sizeRebalance = func() (*rebalance.Transaction, error) { return transaction, nil }

            status, body := postJSON(serverURL + "/cluster/rebalance/size", TransactionRequest{})

            Expect(status).Should(Equal(http.StatusOK))

            var sized rebalance.Transaction

            Expect(json.Unmarshal(body, &sized)).Should(BeNil())
            Expect(sized.TotalMovingBytes()).Should(Equal(uint64(150)))
        })

        It("should report the transaction status after the copy phase", func() {
            facade.copyRebalance = func() error { return nil }
            facade.rebalanceStatus = func() *rebalance.Transaction {
                transaction.Phase = rebalance.PhaseCopied

                return transaction
            }

            status, body := postJSON(serverURL + "/cluster/rebalance/copy", TransactionRequest{})

            Expect(status).Should(Equal(http.StatusOK))

            var copied rebalance.Transaction

            Expect(json.Unmarshal(body, &copied)).Should(BeNil())
            Expect(copied.Phase).Should(Equal(rebalance.PhaseCopied))
        })

        It("should publish the committed table", func() {
            facade.commitRebalance = func() (*partition.Table, error) { return testTable(), nil }

            status, body := postJSON(serverURL + "/cluster/rebalance/commit", TransactionRequest{})

            Expect(status).Should(Equal(http.StatusOK))

            var published partition.Table

            Expect(json.Unmarshal(body, &published)).Should(BeNil())
            Expect(published.Version).Should(Equal(uint64(4)))
        })

        It("should surface an interrupted commit with the recovery hint status", func() {
            facade.commitRebalance = func() (*partition.Table, error) { return nil, ENotCommitted }

            status, body := postJSON(serverURL + "/cluster/rebalance/commit", TransactionRequest{})

            Expect(status).Should(Equal(http.StatusConflict))
            Expect(decodeDBerror(body)).Should(Equal(ENotCommitted))
        })

        It("should re-drive an interrupted transaction by id", func() {
            facade.recoverRebalance = func(transactionID string) (*partition.Table, error) {
                Expect(transactionID).Should(Equal(transaction.ID))

                return testTable(), nil
            }

            status, _ := postJSON(serverURL + "/cluster/rebalance/recover", TransactionRequest{ TransactionID: transaction.ID })

            Expect(status).Should(Equal(http.StatusOK))
        })

        It("should report an unknown recovery id", func() {
            facade.recoverRebalance = func(transactionID string) (*partition.Table, error) { return nil, ETransactionNotFound }

            status, body := postJSON(serverURL + "/cluster/rebalance/recover", TransactionRequest{ TransactionID: "deadbeef" })

            Expect(status).Should(Equal(http.StatusNotFound))
            Expect(decodeDBerror(body)).Should(Equal(ETransactionNotFound))
        })

        It("should abort the active transaction", func() {
            facade.abortRebalance = func() error { return nil }

            status, _ := postJSON(serverURL + "/cluster/rebalance/abort", TransactionRequest{})

            Expect(status).Should(Equal(http.StatusOK))
        })
    })
})
