package metrics

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var storageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
    Namespace: "evidencedb",
    Subsystem: "storage",
    Name: "errors_total",
    Help: "Number of errors encountered by the local storage driver",
}, []string{ "operation", "file" })

var nodeSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
    Namespace: "evidencedb",
    Subsystem: "node",
    Name: "size_bytes",
    Help: "Total size in bytes of the records stored by this node",
})

var nodeComponents = promauto.NewGauge(prometheus.GaugeOpts{
    Namespace: "evidencedb",
    Subsystem: "node",
    Name: "components",
    Help: "Number of records stored by this node",
})

var nodeLoad = promauto.NewGauge(prometheus.GaugeOpts{
    Namespace: "evidencedb",
    Subsystem: "node",
    Name: "load",
    Help: "Number of data operations served since the last state report",
})

var rebalanceMovedBytes = promauto.NewCounter(prometheus.CounterOpts{
    Namespace: "evidencedb",
    Subsystem: "rebalance",
    Name: "moved_bytes_total",
    Help: "Bytes shipped to other nodes by rebalance transactions",
})

var rebalanceMovedRecords = promauto.NewCounter(prometheus.CounterOpts{
    Namespace: "evidencedb",
    Subsystem: "rebalance",
    Name: "moved_records_total",
    Help: "Records shipped to other nodes by rebalance transactions",
})

var rebalanceActive = promauto.NewGauge(prometheus.GaugeOpts{
    Namespace: "evidencedb",
    Subsystem: "rebalance",
    Name: "active",
    Help: "1 while a rebalance transaction is open on this coordinator",
})

func RecordStorageError(operation string, file string) {
    storageErrors.WithLabelValues(operation, file).Inc()
}

func RecordNodeState(sizeBytes uint64, numComponents uint64, load uint64) {
    nodeSizeBytes.Set(float64(sizeBytes))
    nodeComponents.Set(float64(numComponents))
    nodeLoad.Set(float64(load))
}

func RecordRebalanceMove(records uint64, bytes uint64) {
    rebalanceMovedRecords.Add(float64(records))
    rebalanceMovedBytes.Add(float64(bytes))
}

func SetRebalanceActive(active bool) {
    if active {
        rebalanceActive.Set(1)
    } else {
        rebalanceActive.Set(0)
    }
}

func Handler() http.Handler {
    return promhttp.Handler()
}
