package rebalance

import (
    "bufio"
    "encoding/binary"
    "encoding/json"
    "io"

    "github.com/golang/snappy"

    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/storage"
)

const maxFrameSize = 64 * 1024 * 1024

// ChunkHeader precedes every record on a copy stream. Size declares the
// uncompressed payload length; the receiver rejects any record whose
// decoded size differs.
type ChunkHeader struct {
    TransactionID string `json:"transactionId"`
    DestinationIndex uint64 `json:"destinationIndex"`
    RecordName string `json:"recordName"`
    Size uint64 `json:"size"`
}

// OutgoingStream frames records onto a copy connection: a length prefixed
// JSON header followed by a length prefixed snappy compressed record, with
// a zero length marker terminating the stream.
type OutgoingStream struct {
    writer *bufio.Writer
    transactionID string
    destinationIndex uint64
}

func NewOutgoingStream(writer io.Writer, transactionID string, destinationIndex uint64) *OutgoingStream {
    return &OutgoingStream{
        writer: bufio.NewWriter(writer),
        transactionID: transactionID,
        destinationIndex: destinationIndex,
    }
}

func (stream *OutgoingStream) writeFrame(frame []byte) error {
    var length [4]byte

    binary.BigEndian.PutUint32(length[:], uint32(len(frame)))

    if _, err := stream.writer.Write(length[:]); err != nil {
        return err
    }

    _, err := stream.writer.Write(frame)

    return err
}

func (stream *OutgoingStream) WriteRecord(record *storage.Record) error {
    payload := record.ToJSON()
    header := ChunkHeader{
        TransactionID: stream.transactionID,
        DestinationIndex: stream.destinationIndex,
        RecordName: record.Key,
        Size: uint64(len(payload)),
    }

    encodedHeader, err := json.Marshal(header)

    if err != nil {
        return err
    }

    if err := stream.writeFrame(encodedHeader); err != nil {
        return err
    }

    return stream.writeFrame(snappy.Encode(nil, payload))
}

// Close writes the end of stream marker and flushes. It does not close the
// underlying connection.
func (stream *OutgoingStream) Close() error {
    var zero [4]byte

    if _, err := stream.writer.Write(zero[:]); err != nil {
        return err
    }

    return stream.writer.Flush()
}

// IncomingStream is the receiving half of a copy connection.
type IncomingStream struct {
    reader *bufio.Reader
    err error
}

func NewIncomingStream(reader io.Reader) *IncomingStream {
    return &IncomingStream{
        reader: bufio.NewReader(reader),
    }
}

func (stream *IncomingStream) readFrame() ([]byte, error) {
    var length [4]byte

    if _, err := io.ReadFull(stream.reader, length[:]); err != nil {
        return nil, err
    }

    frameSize := binary.BigEndian.Uint32(length[:])

    if frameSize == 0 {
        return nil, io.EOF
    }

    if frameSize > maxFrameSize {
        return nil, EIntegrityMismatch
    }

    frame := make([]byte, frameSize)

    if _, err := io.ReadFull(stream.reader, frame); err != nil {
        return nil, err
    }

    return frame, nil
}

// NextRecord returns the next framed record. io.EOF indicates the zero
// length end of stream marker was reached cleanly; any truncation or size
// mismatch yields EIntegrityMismatch instead.
func (stream *IncomingStream) NextRecord() (*ChunkHeader, *storage.Record, error) {
    if stream.err != nil {
        return nil, nil, stream.err
    }

    encodedHeader, err := stream.readFrame()

    if err != nil {
        stream.err = err

        return nil, nil, err
    }

    var header ChunkHeader

    if err := json.Unmarshal(encodedHeader, &header); err != nil {
        stream.err = EIntegrityMismatch

        return nil, nil, stream.err
    }

    compressed, err := stream.readFrame()

    if err != nil {
        if err == io.EOF {
            err = EIntegrityMismatch
        }

        stream.err = err

        return nil, nil, stream.err
    }

    payload, err := snappy.Decode(nil, compressed)

    if err != nil {
        stream.err = EIntegrityMismatch

        return nil, nil, stream.err
    }

    if uint64(len(payload)) != header.Size {
        stream.err = EIntegrityMismatch

        return nil, nil, stream.err
    }

    record, err := storage.RecordFromJSON(payload)

    if err != nil {
        stream.err = EIntegrityMismatch

        return nil, nil, stream.err
    }

    return &header, record, nil
}
