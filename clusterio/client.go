package clusterio

import (
    "bytes"
    "encoding/json"
    "errors"
    "io"
    "io/ioutil"
    "net/http"
    "time"

    "github.com/cenkalti/backoff/v4"

    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/routes"
)

const DefaultRequestTimeout = time.Second * 30

var EBadResponse = errors.New("Node responded with a bad response")

type ClientConfig struct {
    // Credentials the client authenticates with. For inter node traffic
    // these are the coordinator's own credentials.
    Username string
    Password string
    RequestTimeout time.Duration
}

// Client speaks the inter node RPC protocol: a nonce handshake followed by
// a token carrying request. It implements rebalance.NodeClient and
// rebalance.CopyTransport so the coordinator's director and each node's
// executor share one transport.
type Client struct {
    config ClientConfig
    httpClient *http.Client
    // streamClient has no timeout: copy streams and commits of large
    // data sets legitimately outlive any fixed request deadline
    streamClient *http.Client
}

func NewClient(config ClientConfig) *Client {
    if config.RequestTimeout == 0 {
        config.RequestTimeout = DefaultRequestTimeout
    }

    return &Client{
        config: config,
        httpClient: &http.Client{ Timeout: config.RequestTimeout },
        streamClient: &http.Client{},
    }
}

func (client *Client) endpointURL(node *partition.NodeRecord, path string) string {
    return node.HTTPURL(path)
}

func (client *Client) decodeError(body []byte) error {
    dbError, err := DBerrorFromJSON(bytes.TrimSpace(body))

    if err != nil {
        return EBadResponse
    }

    return dbError
}

// Handshake obtains a fresh nonce from a node.
func (client *Client) Handshake(node *partition.NodeRecord) (string, error) {
    resp, err := client.httpClient.Get(client.endpointURL(node, "/handshake"))

    if err != nil {
        return "", err
    }

    defer resp.Body.Close()

    body, err := ioutil.ReadAll(resp.Body)

    if err != nil {
        return "", err
    }

    if resp.StatusCode != http.StatusOK {
        return "", client.decodeError(body)
    }

    var handshakeResponse routes.HandshakeResponse

    if err := json.Unmarshal(body, &handshakeResponse); err != nil {
        return "", EBadResponse
    }

    return handshakeResponse.Nonce, nil
}

// ServerToken performs a handshake and builds the token for the next
// request. Tokens are single use; every RPC needs a fresh one.
func (client *Client) ServerToken(node *partition.NodeRecord) (auth.Token, error) {
    nonce, err := client.Handshake(node)

    if err != nil {
        return auth.Token{}, err
    }

    return auth.NewToken(nonce, client.config.Username, client.config.Password), nil
}

func (client *Client) post(httpClient *http.Client, node *partition.NodeRecord, path string, body interface{}, out interface{}) error {
    encoded, err := json.Marshal(body)

    if err != nil {
        return err
    }

    resp, err := httpClient.Post(client.endpointURL(node, path), "application/json", bytes.NewReader(encoded))

    if err != nil {
        return err
    }

    defer resp.Body.Close()

    responseBody, err := ioutil.ReadAll(resp.Body)

    if err != nil {
        return err
    }

    if resp.StatusCode != http.StatusOK {
        return client.decodeError(responseBody)
    }

    if out == nil {
        return nil
    }

    return json.Unmarshal(responseBody, out)
}

// Register joins the cluster through the coordinator, retrying with
// exponential backoff while the coordinator is unreachable. It returns the
// assigned node index and the encrypted client credential set.
func (client *Client) Register(coordinator *partition.NodeRecord, localPort int) (uint64, []byte, error) {
    var registerResponse routes.RegisterResponse

    operation := func() error {
        token, err := client.ServerToken(coordinator)

        if err != nil {
            return err
        }

        err = client.post(client.httpClient, coordinator, "/register", routes.RegisterRequest{ Token: token, Port: localPort }, &registerResponse)

        if err != nil {
            if dbError, ok := err.(DBerror); ok {
                // protocol rejections will not resolve by retrying
                return backoff.Permanent(dbError)
            }

            return err
        }

        return nil
    }

    err := backoff.Retry(operation, backoff.NewExponentialBackOff())

    if err != nil {
        return 0, nil, err
    }

    return registerResponse.Index, registerResponse.Credentials, nil
}

// ReportState delivers a node's telemetry and returns the coordinator's
// current partition table.
func (client *Client) ReportState(coordinator *partition.NodeRecord, index uint64, state partition.NodeState) (*partition.Table, error) {
    token, err := client.ServerToken(coordinator)

    if err != nil {
        return nil, err
    }

    var table partition.Table

    if err := client.post(client.httpClient, coordinator, "/state", routes.ReportStateRequest{ Token: token, Index: index, State: state }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

// FetchTable pulls the current partition table from any node.
func (client *Client) FetchTable(node *partition.NodeRecord) (*partition.Table, error) {
    token, err := client.ServerToken(node)

    if err != nil {
        return nil, err
    }

    var table partition.Table

    if err := client.post(client.httpClient, node, "/partitiontable", routes.FetchTableRequest{ Token: token }, &table); err != nil {
        return nil, err
    }

    return &table, nil
}

// Ping verifies a node is reachable and serving the protocol.
func (client *Client) Ping(node *partition.NodeRecord) error {
    _, err := client.Handshake(node)

    return err
}

func (client *Client) Propose(node *partition.NodeRecord, transaction *rebalance.Transaction) error {
    token, err := client.ServerToken(node)

    if err != nil {
        return err
    }

    return client.post(client.httpClient, node, "/rebalance/prepare", routes.RebalanceRequest{ Token: token, Transaction: transaction }, nil)
}

func (client *Client) Size(node *partition.NodeRecord, transaction *rebalance.Transaction) (uint64, error) {
    token, err := client.ServerToken(node)

    if err != nil {
        return 0, err
    }

    var sizeResponse routes.SizeResponse

    if err := client.post(client.streamClient, node, "/rebalance/size", routes.RebalanceRequest{ Token: token, Transaction: transaction }, &sizeResponse); err != nil {
        return 0, err
    }

    return sizeResponse.MovingBytes, nil
}

func (client *Client) Copy(node *partition.NodeRecord, transaction *rebalance.Transaction) error {
    token, err := client.ServerToken(node)

    if err != nil {
        return err
    }

    return client.post(client.streamClient, node, "/rebalance/copy", routes.RebalanceRequest{ Token: token, Transaction: transaction }, nil)
}

func (client *Client) Commit(node *partition.NodeRecord, transaction *rebalance.Transaction) (partition.NodeState, error) {
    token, err := client.ServerToken(node)

    if err != nil {
        return partition.NodeState{}, err
    }

    var commitResponse routes.CommitResponse

    if err := client.post(client.streamClient, node, "/rebalance/commit", routes.RebalanceRequest{ Token: token, Transaction: transaction }, &commitResponse); err != nil {
        return partition.NodeState{}, err
    }

    return commitResponse.State, nil
}

func (client *Client) Abort(node *partition.NodeRecord, transactionID string) error {
    token, err := client.ServerToken(node)

    if err != nil {
        return err
    }

    return client.post(client.httpClient, node, "/rebalance/abort", routes.TransactionRequest{ Token: token, TransactionID: transactionID }, nil)
}

func (client *Client) Sync(node *partition.NodeRecord, table *partition.Table) error {
    token, err := client.ServerToken(node)

    if err != nil {
        return err
    }

    return client.post(client.httpClient, node, "/partitiontable/sync", routes.SyncTableRequest{ Token: token, Table: table }, nil)
}

type copyStreamWriter struct {
    pipeWriter *io.PipeWriter
    result chan error
}

func (writer *copyStreamWriter) Write(p []byte) (int, error) {
    return writer.pipeWriter.Write(p)
}

func (writer *copyStreamWriter) Close() error {
    writer.pipeWriter.Close()

    return <-writer.result
}

// OpenCopyStream opens a streaming upload of framed records into the
// destination node's staging area for the transaction. The returned
// writer's Close reports the destination's verdict on the whole stream.
func (client *Client) OpenCopyStream(node *partition.NodeRecord, transactionID string) (io.WriteCloser, error) {
    token, err := client.ServerToken(node)

    if err != nil {
        return nil, err
    }

    encodedToken, err := json.Marshal(token)

    if err != nil {
        return nil, err
    }

    pipeReader, pipeWriter := io.Pipe()
    writer := &copyStreamWriter{
        pipeWriter: pipeWriter,
        result: make(chan error, 1),
    }

    request, err := http.NewRequest("POST", client.endpointURL(node, "/rebalance/records/" + transactionID), pipeReader)

    if err != nil {
        return nil, err
    }

    request.Header.Set("Content-Type", "application/octet-stream")
    request.Header.Set(routes.CopyStreamTokenHeader, string(encodedToken))

    go func() {
        resp, err := client.streamClient.Do(request)

        if err != nil {
            pipeReader.CloseWithError(err)
            writer.result <- err

            return
        }

        defer resp.Body.Close()

        body, _ := ioutil.ReadAll(resp.Body)

        if resp.StatusCode != http.StatusOK {
            err := client.decodeError(body)
            pipeReader.CloseWithError(err)
            writer.result <- err

            return
        }

        writer.result <- nil
    }()

    return writer, nil
}
