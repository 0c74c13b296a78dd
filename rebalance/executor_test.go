package rebalance_test

import (
    "bytes"
    "fmt"
    "io"
    "sync"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/cluster"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/storage"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

// loopbackTransport wires executors directly to each other through pipes so
// the full copy protocol runs without a network.
type loopbackTransport struct {
    executors map[uint64]*Executor
}

type loopbackStream struct {
    writer *io.PipeWriter
    done chan error
    closeOnce sync.Once
    closeErr error
}

func (stream *loopbackStream) Write(p []byte) (int, error) {
    return stream.writer.Write(p)
}

func (stream *loopbackStream) Close() error {
    stream.closeOnce.Do(func() {
        stream.writer.Close()
        stream.closeErr = <-stream.done
    })

    return stream.closeErr
}

func (transport *loopbackTransport) OpenCopyStream(node *partition.NodeRecord, transactionID string) (io.WriteCloser, error) {
    executor, ok := transport.executors[node.Index]

    if !ok {
        return nil, ENoSuchNode
    }

    reader, writer := io.Pipe()
    stream := &loopbackStream{
        writer: writer,
        done: make(chan error, 1),
    }

    go func() {
        err := executor.Receive(transactionID, reader)

        if err != nil {
            reader.CloseWithError(err)
        } else {
            reader.Close()
        }

        stream.done <- err
    }()

    return stream, nil
}

var _ = Describe("Executor", func() {
    var ctx0, ctx1 *cluster.ClusterContext
    var cache0, cache1 *cluster.TableCache
    var exec0, exec1 *Executor
    var currentTable, targetTable *partition.Table
    var transaction *Transaction
    var movingKeys, stayingKeys []string
    var movingBytes uint64

    record := func(key string) *storage.Record {
        return &storage.Record{ Key: key, Value: []byte("artifact payload"), Timestamp: 100 }
    }

    BeforeEach(func() {
        ctx0 = makeContext()
        ctx1 = makeContext()

        var err error
        cache0, err = cluster.NewTableCache(ctx0.Meta)

        Expect(err).Should(BeNil())

        cache1, err = cluster.NewTableCache(ctx1.Meta)

        Expect(err).Should(BeNil())

        // node 0 initially owns the entire hash space
        currentTable = &partition.Table{
            Version: 1,
            NumNodes: 2,
            Nodes: []*partition.NodeRecord{
                &partition.NodeRecord{ Index: 0, Address: "10.0.0.1", Port: 9090, Interval: partition.Interval{ Start: 0, End: partition.MaxRange } },
                &partition.NodeRecord{ Index: 1, Address: "10.0.0.2", Port: 9090, Interval: partition.Interval{} },
            },
        }

        Expect(cache0.Adopt(currentTable)).Should(BeNil())
        Expect(cache1.Adopt(currentTable)).Should(BeNil())

        targetTable = partition.EvenSplit(currentTable)
        transaction = NewTransaction(targetTable)

        exec0 = NewExecutor(ctx0, cache0, 0)
        exec1 = NewExecutor(ctx1, cache1, 1)

        movingKeys = nil
        stayingKeys = nil
        movingBytes = 0

        for i := 0; i < 32; i++ {
            key := fmt.Sprintf("case-%03d/artifact/%d", i, i)

            Expect(ctx0.Store.Put(record(key))).Should(BeNil())

            destination, err := targetTable.Route(key)

            Expect(err).Should(BeNil())

            if destination.Index == 0 {
                stayingKeys = append(stayingKeys, key)
            } else {
                movingKeys = append(movingKeys, key)
                movingBytes += record(key).SizeBytes()
            }
        }

        // the even split must actually move something for these specs
        // to mean anything
        Expect(len(movingKeys)).Should(Not(Equal(0)))
        Expect(len(stayingKeys)).Should(Not(Equal(0)))
    })

    Describe("Prepare", func() {
        It("should reject a target table that does not cover the hash space", func() {
            broken := targetTable.Clone()
            broken.Nodes[0].Interval.End -= 1

            Expect(exec0.Prepare(NewTransaction(broken))).Should(Equal(partition.ETableInvalid))
        })

        It("should reject a target table that is not newer than the current one", func() {
            stale := currentTable.Clone()

            Expect(exec0.Prepare(NewTransaction(stale))).Should(Equal(EStaleTable))
        })

        It("should admit only one transaction at a time but accept its own replay", func() {
            Expect(exec0.Prepare(transaction)).Should(BeNil())
            Expect(exec0.Prepare(transaction)).Should(BeNil())

            other := NewTransaction(targetTable)

            Expect(exec0.Prepare(other)).Should(Equal(EAlreadyRebalancing))
        })
    })

    Describe("ComputeMovingBytes", func() {
        It("should refuse when no matching transaction is active", func() {
            _, err := exec0.ComputeMovingBytes(transaction)

            Expect(err).Should(Equal(EWrongTransaction))
        })

        It("should sum the sizes of exactly the records that change owner", func() {
            Expect(exec0.Prepare(transaction)).Should(BeNil())

            computed, err := exec0.ComputeMovingBytes(transaction)

            Expect(err).Should(BeNil())
            Expect(computed).Should(Equal(movingBytes))
        })

        It("should report zero for a node that holds nothing", func() {
            Expect(exec1.Prepare(transaction)).Should(BeNil())

            computed, err := exec1.ComputeMovingBytes(transaction)

            Expect(err).Should(BeNil())
            Expect(computed).Should(Equal(uint64(0)))
        })
    })

    Describe("Receive", func() {
        It("should reject records addressed to another transaction or node", func() {
            Expect(exec1.Prepare(transaction)).Should(BeNil())

            var misdirected bytes.Buffer
            stream := NewOutgoingStream(&misdirected, transaction.ID, 0)

            Expect(stream.WriteRecord(record("case-000/artifact/0"))).Should(BeNil())
            Expect(stream.Close()).Should(BeNil())

            Expect(exec1.Receive(transaction.ID, &misdirected)).Should(Equal(EWrongTransaction))

            var wrongTransaction bytes.Buffer
            stream = NewOutgoingStream(&wrongTransaction, "some-other-transaction", 1)

            Expect(stream.WriteRecord(record("case-000/artifact/0"))).Should(BeNil())
            Expect(stream.Close()).Should(BeNil())

            Expect(exec1.Receive(transaction.ID, &wrongTransaction)).Should(Equal(EWrongTransaction))
        })

        It("should stage records outside the live data set", func() {
            Expect(exec1.Prepare(transaction)).Should(BeNil())

            var buffer bytes.Buffer
            stream := NewOutgoingStream(&buffer, transaction.ID, 1)

            Expect(stream.WriteRecord(record("case-000/artifact/0"))).Should(BeNil())
            Expect(stream.Close()).Should(BeNil())
            Expect(exec1.Receive(transaction.ID, &buffer)).Should(BeNil())

            // not visible through the record store yet
            fetched, err := ctx1.Store.Get("case-000/artifact/0")

            Expect(err).Should(BeNil())
            Expect(fetched).Should(BeNil())

            // but present in the staging section for this transaction
            staged, err := ctx1.StagingDriver(transaction.ID).Get([][]byte{ []byte("case-000/artifact/0") })

            Expect(err).Should(BeNil())
            Expect(staged[0]).Should(Not(BeNil()))
        })
    })

    Describe("Copy and Commit", func() {
        var transport *loopbackTransport

        BeforeEach(func() {
            transport = &loopbackTransport{
                executors: map[uint64]*Executor{ 1: exec1 },
            }

            Expect(exec0.Prepare(transaction)).Should(BeNil())
            Expect(exec1.Prepare(transaction)).Should(BeNil())
        })

        It("should move every relocated record and leave the rest untouched", func() {
            Expect(exec0.Copy(transaction, transport)).Should(BeNil())

            state1, err := exec1.Commit(transaction)

            Expect(err).Should(BeNil())
            Expect(state1.Status).Should(Equal(partition.StatusAvailable))
            Expect(state1.NumComponents).Should(Equal(uint64(len(movingKeys))))
            Expect(state1.SizeBytes).Should(Equal(movingBytes))

            state0, err := exec0.Commit(transaction)

            Expect(err).Should(BeNil())
            Expect(state0.NumComponents).Should(Equal(uint64(len(stayingKeys))))

            for _, key := range movingKeys {
                moved, err := ctx1.Store.Get(key)

                Expect(err).Should(BeNil())
                Expect(moved).Should(Not(BeNil()))
                Expect(moved.Value).Should(Equal([]byte("artifact payload")))

                deleted, err := ctx0.Store.Get(key)

                Expect(err).Should(BeNil())
                Expect(deleted).Should(BeNil())
            }

            for _, key := range stayingKeys {
                kept, err := ctx0.Store.Get(key)

                Expect(err).Should(BeNil())
                Expect(kept).Should(Not(BeNil()))
            }

            Expect(cache0.Table().Version).Should(Equal(targetTable.Version))
            Expect(cache1.Table().Version).Should(Equal(targetTable.Version))
        })

        It("should produce the same result when the commit is re-issued", func() {
            Expect(exec0.Copy(transaction, transport)).Should(BeNil())

            first, err := exec1.Commit(transaction)

            Expect(err).Should(BeNil())

            second, err := exec1.Commit(transaction)

            Expect(err).Should(BeNil())
            Expect(second).Should(Equal(first))

            first, err = exec0.Commit(transaction)

            Expect(err).Should(BeNil())

            second, err = exec0.Commit(transaction)

            Expect(err).Should(BeNil())
            Expect(second).Should(Equal(first))
        })

        It("should refuse to commit a transaction other than the active one", func() {
            other := NewTransaction(targetTable)

            _, err := exec0.Commit(other)

            Expect(err).Should(Equal(EWrongTransaction))

            // nothing was merged, deleted or adopted
            for _, key := range movingKeys {
                kept, err := ctx0.Store.Get(key)

                Expect(err).Should(BeNil())
                Expect(kept).Should(Not(BeNil()))
            }

            Expect(cache0.Table().Version).Should(Equal(currentTable.Version))
        })

        It("should clear the active transaction after commit", func() {
            Expect(exec0.Copy(transaction, transport)).Should(BeNil())

            _, err := exec1.Commit(transaction)

            Expect(err).Should(BeNil())

            var buffer bytes.Buffer
            stream := NewOutgoingStream(&buffer, transaction.ID, 1)

            Expect(stream.WriteRecord(record("case-000/artifact/0"))).Should(BeNil())
            Expect(stream.Close()).Should(BeNil())
            Expect(exec1.Receive(transaction.ID, &buffer)).Should(Equal(EWrongTransaction))
        })

        It("should do nothing on a node that receives no records", func() {
            emptyTransport := &loopbackTransport{
                executors: map[uint64]*Executor{ 0: exec0 },
            }

            Expect(exec1.Copy(transaction, emptyTransport)).Should(BeNil())
        })
    })

    Describe("Abort", func() {
        It("should clear the active transaction but keep staged records", func() {
            Expect(exec1.Prepare(transaction)).Should(BeNil())

            var buffer bytes.Buffer
            stream := NewOutgoingStream(&buffer, transaction.ID, 1)

            Expect(stream.WriteRecord(record("case-000/artifact/0"))).Should(BeNil())
            Expect(stream.Close()).Should(BeNil())
            Expect(exec1.Receive(transaction.ID, &buffer)).Should(BeNil())

            Expect(exec1.Abort(transaction.ID)).Should(BeNil())
            Expect(exec1.Receive(transaction.ID, &buffer)).Should(Equal(EWrongTransaction))

            staged, err := ctx1.StagingDriver(transaction.ID).Get([][]byte{ []byte("case-000/artifact/0") })

            Expect(err).Should(BeNil())
            Expect(staged[0]).Should(Not(BeNil()))
        })

        It("should refuse to abort a different transaction", func() {
            Expect(exec0.Prepare(transaction)).Should(BeNil())
            Expect(exec0.Abort("some-other-transaction")).Should(Equal(EWrongTransaction))
        })

        It("should tolerate an abort when nothing is active", func() {
            Expect(exec0.Abort(transaction.ID)).Should(BeNil())
        })
    })
})
