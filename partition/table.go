package partition

import (
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "sync"
)

// MaxRange is the top edge of the hash space. Intervals are half-open
// [Start, End) except that the interval whose End == MaxRange also owns
// MaxRange itself, so the full 64 bit output range of the hash function
// always resolves to exactly one node.
const MaxRange uint64 = 0xffffffffffffffff

const (
    StatusAvailable string = "AVAILABLE"
    StatusOffline   string = "OFFLINE"
)

var ETableInvalid = errors.New("The partition table does not cover the hash space exactly")
var ENoOwner = errors.New("No node owns this portion of the hash space")

type Interval struct {
    Start uint64 `json:"start"`
    End uint64 `json:"end"`
}

func (interval Interval) IsEmpty() bool {
    return interval.Start == interval.End
}

func (interval Interval) Contains(h uint64) bool {
    if interval.IsEmpty() {
        return false
    }

    if h == MaxRange {
        return interval.End == MaxRange
    }

    return h >= interval.Start && h < interval.End
}

// NodeState carries the telemetry a node reports about itself. It is
// refreshed periodically and has no bearing on routing correctness.
type NodeState struct {
    Status string `json:"status"`
    SizeBytes uint64 `json:"sizeBytes"`
    Load uint64 `json:"load"`
    NumComponents uint64 `json:"numComponents"`
    AvgComponentSize uint64 `json:"avgComponentSize"`
}

type NodeRecord struct {
    Index uint64 `json:"index"`
    Address string `json:"address"`
    Port int `json:"port"`
    Interval Interval `json:"interval"`
    State NodeState `json:"state"`
    Registered bool `json:"registered"`
}

func (nodeRecord *NodeRecord) IsCoordinator() bool {
    return nodeRecord.Index == 0
}

func (nodeRecord *NodeRecord) HTTPURL(path string) string {
    return fmt.Sprintf("http://%s:%d%s", nodeRecord.Address, nodeRecord.Port, path)
}

// Table is an immutable snapshot of the assignment of hash intervals to
// nodes. It is replaced wholesale, never mutated field by field. Version
// numbers increase monotonically with every replacement.
type Table struct {
    Version uint64 `json:"version"`
    NumNodes uint64 `json:"numNodes"`
    Nodes []*NodeRecord `json:"nodes"`

    routeOnce sync.Once
    routeOrder []*NodeRecord
}

// InitialSplit builds the bootstrap table: numNodes equal width contiguous
// intervals with the final interval absorbing the division remainder so the
// union covers the hash space exactly.
func InitialSplit(numNodes uint64) *Table {
    width := MaxRange / numNodes
    nodes := make([]*NodeRecord, 0, numNodes)

    for i := uint64(0); i < numNodes; i++ {
        interval := Interval{ Start: i * width, End: (i + 1) * width }

        if i == numNodes - 1 {
            interval.End = MaxRange
        }

        nodes = append(nodes, &NodeRecord{
            Index: i,
            Interval: interval,
            State: NodeState{ Status: StatusOffline },
        })
    }

    return &Table{
        Version: 1,
        NumNodes: numNodes,
        Nodes: nodes,
    }
}

// Hash maps a key into the hash space: the first 64 bits of its SHA-1
// digest interpreted as a big endian unsigned integer.
func Hash(key string) uint64 {
    digest := sha1.Sum([]byte(key))

    return binary.BigEndian.Uint64(digest[:8])
}

func (table *Table) routing() []*NodeRecord {
    table.routeOnce.Do(func() {
        order := make([]*NodeRecord, 0, len(table.Nodes))

        for _, nodeRecord := range table.Nodes {
            if nodeRecord.Interval.IsEmpty() {
                continue
            }

            order = append(order, nodeRecord)
        }

        sort.Slice(order, func(i, j int) bool {
            return order[i].Interval.Start < order[j].Interval.Start
        })

        table.routeOrder = order
    })

    return table.routeOrder
}

// Locate returns the unique node whose interval contains h.
func (table *Table) Locate(h uint64) (*NodeRecord, error) {
    order := table.routing()

    if len(order) == 0 {
        return nil, ENoOwner
    }

    i := sort.Search(len(order), func(i int) bool {
        return order[i].Interval.End > h || (h == MaxRange && order[i].Interval.End == MaxRange)
    })

    if i == len(order) || !order[i].Interval.Contains(h) {
        return nil, ENoOwner
    }

    return order[i], nil
}

// Route maps an arbitrary key to its owning node.
func (table *Table) Route(key string) (*NodeRecord, error) {
    return table.Locate(Hash(key))
}

func (table *Table) Node(index uint64) *NodeRecord {
    for _, nodeRecord := range table.Nodes {
        if nodeRecord.Index == index {
            return nodeRecord
        }
    }

    return nil
}

// Validate checks that the table's non-empty intervals are contiguous,
// non-overlapping and together cover the whole hash space, and that node
// indexes run contiguously from zero.
func (table *Table) Validate() error {
    if table.NumNodes != uint64(len(table.Nodes)) {
        return ETableInvalid
    }

    for i, nodeRecord := range table.Nodes {
        if nodeRecord.Index != uint64(i) {
            return ETableInvalid
        }

        if nodeRecord.Interval.IsEmpty() {
            continue
        }

        if nodeRecord.Interval.End < nodeRecord.Interval.Start {
            return ETableInvalid
        }
    }

    order := make([]*NodeRecord, 0, len(table.Nodes))

    for _, nodeRecord := range table.Nodes {
        if !nodeRecord.Interval.IsEmpty() {
            order = append(order, nodeRecord)
        }
    }

    if len(order) == 0 {
        return ETableInvalid
    }

    sort.Slice(order, func(i, j int) bool {
        return order[i].Interval.Start < order[j].Interval.Start
    })

    if order[0].Interval.Start != 0 || order[len(order) - 1].Interval.End != MaxRange {
        return ETableInvalid
    }

    for i := 1; i < len(order); i++ {
        if order[i].Interval.Start != order[i - 1].Interval.End {
            return ETableInvalid
        }
    }

    return nil
}

func (table *Table) Clone() *Table {
    nodes := make([]*NodeRecord, 0, len(table.Nodes))

    for _, nodeRecord := range table.Nodes {
        nodeCopy := *nodeRecord
        nodes = append(nodes, &nodeCopy)
    }

    return &Table{
        Version: table.Version,
        NumNodes: table.NumNodes,
        Nodes: nodes,
    }
}

func (table *Table) ToJSON() []byte {
    encoded, _ := json.Marshal(table)

    return encoded
}

func TableFromJSON(encoded []byte) (*Table, error) {
    var table Table

    if err := json.Unmarshal(encoded, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

// EvenSplit derives a target table from the current one that spreads the
// hash space evenly across all nodes, including nodes that currently own
// nothing. Used by the rebalance CLI when the operator does not supply
// explicit intervals. The returned table carries the next version.
func EvenSplit(current *Table) *Table {
    target := current.Clone()
    target.Version = current.Version + 1
    width := MaxRange / target.NumNodes

    for i, nodeRecord := range target.Nodes {
        nodeRecord.Interval = Interval{ Start: uint64(i) * width, End: (uint64(i) + 1) * width }

        if uint64(i) == target.NumNodes - 1 {
            nodeRecord.Interval.End = MaxRange
        }
    }

    return target
}
