package clusterio

import (
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/routes"
)

// AdminClient wraps the coordinator's administrative endpoints for the
// operator CLI. All operations authenticate with the coordinator's own
// credentials.
type AdminClient struct {
    client *Client
    coordinator *partition.NodeRecord
}

func NewAdminClient(client *Client, coordinatorAddress string, coordinatorPort int) *AdminClient {
    return &AdminClient{
        client: client,
        coordinator: &partition.NodeRecord{ Address: coordinatorAddress, Port: coordinatorPort },
    }
}

func (adminClient *AdminClient) Overview() (*partition.Table, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var table partition.Table

    if err := adminClient.client.post(adminClient.client.httpClient, adminClient.coordinator, "/cluster/overview", routes.FetchTableRequest{ Token: token }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

func (adminClient *AdminClient) AddNode(address string, port int, checkOnly bool) (*partition.NodeRecord, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    path := "/cluster/nodes"

    if checkOnly {
        path = "/cluster/nodes/check"
    }

    var nodeRecord partition.NodeRecord

    if err := adminClient.client.post(adminClient.client.httpClient, adminClient.coordinator, path, routes.AddNodeRequest{ Token: token, Address: address, Port: port }, &nodeRecord); err != nil {
        return nil, err
    }

    return &nodeRecord, nil
}

func (adminClient *AdminClient) RemoveNode(index uint64, checkOnly bool) (*partition.Table, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    path := "/cluster/nodes/remove"

    if checkOnly {
        path = "/cluster/nodes/removecheck"
    }

    var table partition.Table

    if err := adminClient.client.post(adminClient.client.httpClient, adminClient.coordinator, path, routes.RemoveNodeRequest{ Token: token, Index: index }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

func (adminClient *AdminClient) ProposeRebalance(targetTable *partition.Table, even bool) (*rebalance.Transaction, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var transaction rebalance.Transaction

    if err := adminClient.client.post(adminClient.client.httpClient, adminClient.coordinator, "/cluster/rebalance", routes.ProposeRequest{ Token: token, TargetTable: targetTable, Even: even }, &transaction); err != nil {
        return nil, err
    }

    return &transaction, nil
}

func (adminClient *AdminClient) SizeRebalance() (*rebalance.Transaction, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var transaction rebalance.Transaction

    if err := adminClient.client.post(adminClient.client.streamClient, adminClient.coordinator, "/cluster/rebalance/size", routes.TransactionRequest{ Token: token }, &transaction); err != nil {
        return nil, err
    }

    return &transaction, nil
}

func (adminClient *AdminClient) CopyRebalance() (*rebalance.Transaction, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var transaction rebalance.Transaction

    if err := adminClient.client.post(adminClient.client.streamClient, adminClient.coordinator, "/cluster/rebalance/copy", routes.TransactionRequest{ Token: token }, &transaction); err != nil {
        return nil, err
    }

    return &transaction, nil
}

func (adminClient *AdminClient) CommitRebalance() (*partition.Table, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var table partition.Table

    if err := adminClient.client.post(adminClient.client.streamClient, adminClient.coordinator, "/cluster/rebalance/commit", routes.TransactionRequest{ Token: token }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

func (adminClient *AdminClient) AbortRebalance() error {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return err
    }

    return adminClient.client.post(adminClient.client.httpClient, adminClient.coordinator, "/cluster/rebalance/abort", routes.TransactionRequest{ Token: token }, nil)
}

func (adminClient *AdminClient) RecoverRebalance(transactionID string) (*partition.Table, error) {
    token, err := adminClient.client.ServerToken(adminClient.coordinator)

    if err != nil {
        return nil, err
    }

    var table partition.Table

    if err := adminClient.client.post(adminClient.client.streamClient, adminClient.coordinator, "/cluster/rebalance/recover", routes.TransactionRequest{ Token: token, TransactionID: transactionID }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}
