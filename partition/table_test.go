package partition_test

import (
    "fmt"

    . "github.com/forensix/evidencedb/partition"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

func tableWithIntervals(intervals []Interval) *Table {
    nodes := make([]*NodeRecord, 0, len(intervals))

    for i, interval := range intervals {
        nodes = append(nodes, &NodeRecord{
            Index: uint64(i),
            Address: fmt.Sprintf("10.0.0.%d", i + 1),
            Port: 9090,
            Interval: interval,
        })
    }

    return &Table{
        Version: 1,
        NumNodes: uint64(len(nodes)),
        Nodes: nodes,
    }
}

var _ = Describe("Table", func() {
    Describe("Hash", func() {
        It("should be deterministic", func() {
            Expect(Hash("evidence")).Should(Equal(Hash("evidence")))
            Expect(Hash("evidence")).Should(Equal(uint64(0x100ec4462dec34f6)))
            Expect(Hash("case-001/artifact/7")).Should(Equal(uint64(0xad67e6068d6dbe3c)))
        })

        It("should map distinct keys to distinct points", func() {
            Expect(Hash("evidence")).ShouldNot(Equal(Hash("evidence2")))
        })
    })

    Describe("Interval", func() {
        It("should treat intervals as half open", func() {
            interval := Interval{ Start: 100, End: 200 }

            Expect(interval.Contains(100)).Should(BeTrue())
            Expect(interval.Contains(199)).Should(BeTrue())
            Expect(interval.Contains(200)).Should(BeFalse())
            Expect(interval.Contains(99)).Should(BeFalse())
        })

        It("should give the top edge of the hash space to the interval ending at MaxRange", func() {
            top := Interval{ Start: 1000, End: MaxRange }
            below := Interval{ Start: 0, End: 1000 }

            Expect(top.Contains(MaxRange)).Should(BeTrue())
            Expect(below.Contains(MaxRange)).Should(BeFalse())
        })

        It("should contain nothing when empty", func() {
            empty := Interval{ Start: MaxRange, End: MaxRange }

            Expect(empty.IsEmpty()).Should(BeTrue())
            Expect(empty.Contains(MaxRange)).Should(BeFalse())
            Expect(empty.Contains(0)).Should(BeFalse())
        })
    })

    Describe("InitialSplit", func() {
        It("should produce a valid table covering the whole hash space", func() {
            for _, numNodes := range []uint64{ 1, 2, 3, 4, 7, 16 } {
                table := InitialSplit(numNodes)

                Expect(table.Version).Should(Equal(uint64(1)))
                Expect(table.NumNodes).Should(Equal(numNodes))
                Expect(table.Validate()).Should(BeNil())
                Expect(table.Nodes[numNodes - 1].Interval.End).Should(Equal(MaxRange))
            }
        })
    })

    Describe("Locate", func() {
        It("should resolve every point to exactly one node", func() {
            table := tableWithIntervals([]Interval{
                Interval{ 0, 1000 },
                Interval{ 1000, 2000 },
                Interval{ 2000, MaxRange },
            })

            for point, expectedIndex := range map[uint64]uint64{ 0: 0, 999: 0, 1000: 1, 1999: 1, 2000: 2, MaxRange - 1: 2, MaxRange: 2 } {
                nodeRecord, err := table.Locate(point)

                Expect(err).Should(BeNil())
                Expect(nodeRecord.Index).Should(Equal(expectedIndex), "point %d", point)
            }
        })

        It("should skip nodes with empty intervals", func() {
            table := tableWithIntervals([]Interval{
                Interval{ 0, MaxRange },
                Interval{ MaxRange, MaxRange },
            })

            nodeRecord, err := table.Locate(12345)

            Expect(err).Should(BeNil())
            Expect(nodeRecord.Index).Should(Equal(uint64(0)))
        })

        It("should agree with Route on hashed keys", func() {
            table := InitialSplit(5)

            for i := 0; i < 100; i++ {
                key := fmt.Sprintf("case-%03d", i)
                byKey, err := table.Route(key)

                Expect(err).Should(BeNil())

                byPoint, err := table.Locate(Hash(key))

                Expect(err).Should(BeNil())
                Expect(byKey.Index).Should(Equal(byPoint.Index))
            }
        })
    })

    Describe("Validate", func() {
        It("should accept a contiguous covering table", func() {
            Expect(tableWithIntervals([]Interval{
                Interval{ 0, 500 },
                Interval{ 500, MaxRange },
            }).Validate()).Should(BeNil())
        })

        It("should reject a gap in the hash space", func() {
            Expect(tableWithIntervals([]Interval{
                Interval{ 0, 400 },
                Interval{ 500, MaxRange },
            }).Validate()).Should(Equal(ETableInvalid))
        })

        It("should reject overlapping intervals", func() {
            Expect(tableWithIntervals([]Interval{
                Interval{ 0, 600 },
                Interval{ 500, MaxRange },
            }).Validate()).Should(Equal(ETableInvalid))
        })

        It("should reject a table not reaching the top of the hash space", func() {
            Expect(tableWithIntervals([]Interval{
                Interval{ 0, 500 },
                Interval{ 500, 1000 },
            }).Validate()).Should(Equal(ETableInvalid))
        })

        It("should reject non contiguous node indexes", func() {
            table := tableWithIntervals([]Interval{
                Interval{ 0, 500 },
                Interval{ 500, MaxRange },
            })
            table.Nodes[1].Index = 7

            Expect(table.Validate()).Should(Equal(ETableInvalid))
        })

        It("should reject a node count that disagrees with the node list", func() {
            table := tableWithIntervals([]Interval{
                Interval{ 0, MaxRange },
            })
            table.NumNodes = 2

            Expect(table.Validate()).Should(Equal(ETableInvalid))
        })

        It("should accept nodes owning nothing as long as the rest covers the space", func() {
            Expect(tableWithIntervals([]Interval{
                Interval{ 0, MaxRange },
                Interval{ MaxRange, MaxRange },
            }).Validate()).Should(BeNil())
        })
    })

    Describe("EvenSplit", func() {
        It("should spread the hash space across all nodes and advance the version", func() {
            current := tableWithIntervals([]Interval{
                Interval{ 0, MaxRange },
                Interval{ MaxRange, MaxRange },
                Interval{ MaxRange, MaxRange },
            })
            current.Version = 4

            target := EvenSplit(current)

            Expect(target.Version).Should(Equal(uint64(5)))
            Expect(target.NumNodes).Should(Equal(uint64(3)))
            Expect(target.Validate()).Should(BeNil())

            for _, nodeRecord := range target.Nodes {
                Expect(nodeRecord.Interval.IsEmpty()).Should(BeFalse())
            }
        })

        It("should leave the current table untouched", func() {
            current := tableWithIntervals([]Interval{
                Interval{ 0, MaxRange },
                Interval{ MaxRange, MaxRange },
            })

            EvenSplit(current)

            Expect(current.Nodes[0].Interval).Should(Equal(Interval{ 0, MaxRange }))
            Expect(current.Nodes[1].Interval.IsEmpty()).Should(BeTrue())
        })
    })

    Describe("Clone", func() {
        It("should produce an independent copy", func() {
            table := InitialSplit(3)
            clone := table.Clone()

            clone.Nodes[0].Address = "changed"
            clone.Nodes[0].Interval = Interval{ 1, 2 }

            Expect(table.Nodes[0].Address).ShouldNot(Equal("changed"))
            Expect(table.Nodes[0].Interval).ShouldNot(Equal(Interval{ 1, 2 }))
        })
    })

    Describe("JSON round trip", func() {
        It("should preserve routing behavior", func() {
            table := InitialSplit(4)
            decoded, err := TableFromJSON(table.ToJSON())

            Expect(err).Should(BeNil())
            Expect(decoded.Version).Should(Equal(table.Version))

            for i := 0; i < 20; i++ {
                key := fmt.Sprintf("artifact-%d", i)
                expected, _ := table.Route(key)
                actual, err := decoded.Route(key)

                Expect(err).Should(BeNil())
                Expect(actual.Index).Should(Equal(expected.Index))
            }
        })
    })
})
