package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Dicklesworthstone/tabled/internal/value"
)

// Codec limits. A frame exceeding them is malformed, not a resource to
// accommodate: the connection is answered with BAD_REQUEST and closed.
const (
	// MaxTextLen bounds one Text payload.
	MaxTextLen = 64 * 1024
	// MaxRowValues bounds the number of values in one row frame.
	MaxRowValues = 1024
	// MaxScanResults bounds the id count field of a scan response.
	MaxScanResults = 1 << 24
)

// ErrMalformed reports an undecodable frame. It wraps the specific
// decoding failure.
var ErrMalformed = errors.New("malformed frame")

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

// ReadRequest decodes one request frame. io.EOF is returned unchanged
// when the stream ends cleanly before the first byte; any other failure
// is ErrMalformed or an underlying I/O error.
func ReadRequest(r io.Reader) (Request, error) {
	cmd, err := readInt32(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Request{}, io.EOF
		}
		return Request{}, err
	}

	req := Request{Command: Command(cmd)}
	if !req.Command.Valid() {
		return Request{}, malformedf("unknown command %d", cmd)
	}

	if req.TableID, err = readInt32(r); err != nil {
		return Request{}, eofIsMalformed(err)
	}

	switch req.Command {
	case CmdInsert:
		req.Values, err = readRow(r)
	case CmdUpdate:
		if req.RowID, err = readInt64(r); err != nil {
			break
		}
		if req.Version, err = readInt64(r); err != nil {
			break
		}
		req.Values, err = readRow(r)
	case CmdDrop, CmdGet:
		req.RowID, err = readInt64(r)
	case CmdScan:
		if req.ColumnID, err = readInt32(r); err != nil {
			break
		}
		var op int32
		if op, err = readInt32(r); err != nil {
			break
		}
		req.Operator = Operator(op)
		req.Comparand, err = readValue(r)
	case CmdExit:
		// No payload.
	}
	if err != nil {
		return Request{}, eofIsMalformed(err)
	}
	return req, nil
}

// WriteRequest encodes one request frame.
func WriteRequest(w io.Writer, req Request) error {
	if err := writeInt32(w, int32(req.Command)); err != nil {
		return err
	}
	if err := writeInt32(w, req.TableID); err != nil {
		return err
	}
	switch req.Command {
	case CmdInsert:
		return writeRow(w, req.Values)
	case CmdUpdate:
		if err := writeInt64(w, req.RowID); err != nil {
			return err
		}
		if err := writeInt64(w, req.Version); err != nil {
			return err
		}
		return writeRow(w, req.Values)
	case CmdDrop, CmdGet:
		return writeInt64(w, req.RowID)
	case CmdScan:
		if err := writeInt32(w, req.ColumnID); err != nil {
			return err
		}
		if err := writeInt32(w, int32(req.Operator)); err != nil {
			return err
		}
		return writeValue(w, req.Comparand)
	case CmdExit:
		return nil
	default:
		return fmt.Errorf("cannot encode command %d", req.Command)
	}
}

// WriteResponse encodes one response frame.
func WriteResponse(w io.Writer, resp Response) error {
	if err := writeInt32(w, int32(resp.Code)); err != nil {
		return err
	}
	if resp.Code != OK {
		return nil
	}
	switch resp.payload {
	case payloadEmpty:
		return nil
	case payloadInsert:
		if err := writeInt64(w, resp.RowID); err != nil {
			return err
		}
		return writeInt64(w, resp.Version)
	case payloadUpdate:
		return writeInt64(w, resp.Version)
	case payloadGet:
		if err := writeInt64(w, resp.Version); err != nil {
			return err
		}
		return writeRow(w, resp.Values)
	case payloadScan:
		if err := writeInt32(w, int32(len(resp.RowIDs))); err != nil {
			return err
		}
		for _, id := range resp.RowIDs {
			if err := writeInt64(w, id); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode response payload %d", resp.payload)
	}
}

// ReadResponse decodes one response frame. The payload layout of an OK
// response depends on the command that elicited it; sent names that
// command. Pass CmdExit for the connection greeting.
func ReadResponse(r io.Reader, sent Command) (Response, error) {
	code, err := readInt32(r)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Code: Code(code)}
	if resp.Code != OK {
		return resp, nil
	}
	switch sent {
	case CmdInsert:
		resp.payload = payloadInsert
		if resp.RowID, err = readInt64(r); err != nil {
			return Response{}, eofIsMalformed(err)
		}
		if resp.Version, err = readInt64(r); err != nil {
			return Response{}, eofIsMalformed(err)
		}
	case CmdUpdate:
		resp.payload = payloadUpdate
		if resp.Version, err = readInt64(r); err != nil {
			return Response{}, eofIsMalformed(err)
		}
	case CmdGet:
		resp.payload = payloadGet
		if resp.Version, err = readInt64(r); err != nil {
			return Response{}, eofIsMalformed(err)
		}
		if resp.Values, err = readRow(r); err != nil {
			return Response{}, eofIsMalformed(err)
		}
	case CmdScan:
		resp.payload = payloadScan
		n, err := readInt32(r)
		if err != nil {
			return Response{}, eofIsMalformed(err)
		}
		if n < 0 || n > MaxScanResults {
			return Response{}, malformedf("scan result count %d out of range", n)
		}
		resp.RowIDs = make([]int64, 0, n)
		for i := int32(0); i < n; i++ {
			id, err := readInt64(r)
			if err != nil {
				return Response{}, eofIsMalformed(err)
			}
			resp.RowIDs = append(resp.RowIDs, id)
		}
	default:
		// Drop acknowledgements and the greeting carry no payload.
	}
	return resp, nil
}

func readRow(r io.Reader) ([]value.Value, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > MaxRowValues {
		return nil, malformedf("row value count %d out of range", n)
	}
	values := make([]value.Value, 0, n)
	for i := int32(0); i < n; i++ {
		v, err := readValue(r)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func writeRow(w io.Writer, values []value.Value) error {
	if err := writeInt32(w, int32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readValue(r io.Reader) (value.Value, error) {
	kind, err := readInt32(r)
	if err != nil {
		return value.Value{}, err
	}
	size, err := readInt32(r)
	if err != nil {
		return value.Value{}, err
	}

	switch value.Kind(kind) {
	case value.KindNull:
		if size != 0 {
			return value.Value{}, malformedf("null value with size %d", size)
		}
		return value.Null(), nil
	case value.KindInteger:
		if size != 8 {
			return value.Value{}, malformedf("integer value with size %d", size)
		}
		n, err := readInt64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewInt(n), nil
	case value.KindFloat:
		if size != 8 {
			return value.Value{}, malformedf("float value with size %d", size)
		}
		bits, err := readInt64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewFloat(math.Float64frombits(uint64(bits))), nil
	case value.KindText:
		if size < 0 || size > MaxTextLen {
			return value.Value{}, malformedf("text value size %d out of range", size)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Value{}, err
		}
		return value.NewText(string(buf)), nil
	case value.KindForeign:
		if size != 8 {
			return value.Value{}, malformedf("foreign value with size %d", size)
		}
		id, err := readInt64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewForeign(id), nil
	default:
		return value.Value{}, malformedf("unknown value kind %d", kind)
	}
}

func writeValue(w io.Writer, v value.Value) error {
	if err := writeInt32(w, int32(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case value.KindNull:
		return writeInt32(w, 0)
	case value.KindInteger, value.KindForeign:
		if err := writeInt32(w, 8); err != nil {
			return err
		}
		return writeInt64(w, v.Int)
	case value.KindFloat:
		if err := writeInt32(w, 8); err != nil {
			return err
		}
		return writeInt64(w, int64(math.Float64bits(v.Real)))
	case value.KindText:
		if len(v.Str) > MaxTextLen {
			return fmt.Errorf("text value of %d bytes exceeds limit", len(v.Str))
		}
		if err := writeInt32(w, int32(len(v.Str))); err != nil {
			return err
		}
		_, err := w.Write([]byte(v.Str))
		return err
	default:
		return fmt.Errorf("cannot encode value kind %d", v.Kind)
	}
}

// eofIsMalformed converts a truncated-frame EOF into ErrMalformed while
// leaving real I/O errors intact.
func eofIsMalformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return malformedf("truncated frame")
	}
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}
