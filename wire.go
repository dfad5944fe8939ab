package autotrail

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Request is the wire envelope a client sends over the control socket
// (spec.md §6).
type Request struct {
	Name      string          `json:"name"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Response is the wire envelope returned for every Request.
type Response struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
}

// WireError is the serialized form of an [Error].
type WireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// errorResponse builds a failure Response from a Go error, classifying it as
// an [*Error] if possible and [ErrInternal] otherwise.
func errorResponse(requestID string, err error) Response {
	if ae, ok := err.(*Error); ok {
		return Response{RequestID: requestID, OK: false, Error: &WireError{Kind: ae.Kind, Message: ae.Message}}
	}
	return Response{RequestID: requestID, OK: false, Error: &WireError{Kind: ErrInternal, Message: err.Error()}}
}

func okResponse(requestID string, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{RequestID: requestID, OK: true, Result: raw}, nil
}

// maxFrameSize bounds a single message to guard the socket server against a
// misbehaving client claiming an enormous length prefix.
const maxFrameSize = 16 << 20 // 16MiB

// readFrame reads one length-prefixed JSON message: a 4-byte big-endian
// length followed by that many bytes of JSON.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("autotrail: frame of %d bytes exceeds %d byte limit", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes payload as a length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRequest reads and decodes one Request frame.
func readRequest(r io.Reader) (Request, error) {
	raw, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("autotrail: decode request: %w", err)
	}
	return req, nil
}

// writeResponse encodes and writes one Response frame.
func writeResponse(w io.Writer, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(w, raw)
}
