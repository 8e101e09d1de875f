// sql.v1 message types, hand-written over the protobuf wire format.
//
// The service surface is small and stable (three methods, nine messages), so
// the messages are maintained by hand instead of generated: each type pairs a
// plain struct with protowire-based MarshalBinary/UnmarshalBinary. Field
// numbers are part of the protocol and must not change.

package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/litesql/litesql-go/errors"
)

// QueryType declares the caller's intent for a statement.
type QueryType int32

const (
	// QueryTypeUnspecified lets the server infer the statement class.
	QueryTypeUnspecified QueryType = 0
	// QueryTypeExecQuery marks a row-returning statement.
	QueryTypeExecQuery QueryType = 1
	// QueryTypeExecUpdate marks a mutating statement.
	QueryTypeExecUpdate QueryType = 2
)

// NamedValue is one positioned query parameter.
//
// Ordinal is 1-based; unnamed parameters carry an empty name and
// ordinal = position + 1.
type NamedValue struct {
	Name    string   // field 1
	Ordinal int64    // field 2
	Value   Envelope // field 3
}

// QueryRequest is the single client message of a Query stream.
type QueryRequest struct {
	ReplicationID string       // field 1
	SQL           string       // field 2
	Type          QueryType    // field 3
	Params        []NamedValue // field 4
}

// Row is one result row: values in column order.
type Row struct {
	Values []Envelope // field 1
}

// ResultSet carries column names and rows for a row-returning statement.
type ResultSet struct {
	Columns []string // field 1
	Rows    []Row    // field 2
}

// QueryResponse is a server message of a Query stream. A non-empty Error
// means the server rejected the statement; TxSeq, when positive, is the
// server's write sequence high-water mark after this statement.
type QueryResponse struct {
	Error        string     // field 1
	RowsAffected int64      // field 2
	TxSeq        int64      // field 3
	ResultSet    *ResultSet // field 4
}

// DownloadRequest names the replica file to stream.
type DownloadRequest struct {
	ReplicationID string // field 1
}

// DownloadResponse is one chunk of a replica file.
type DownloadResponse struct {
	Data []byte // field 1
}

// ReplicationIDsResponse lists the logical databases the server replicates.
type ReplicationIDsResponse struct {
	ReplicationID []string // field 1
}

// Empty is the argument of ReplicationIDs.
type Empty struct{}

// unmarshalError wraps a malformed inbound message.
func unmarshalError(msg string) error {
	return errors.New(errors.TypeConversion, "decode message", msg)
}

func appendEnvelope(b []byte, num protowire.Number, e Envelope) []byte {
	var inner []byte
	if e.TypeURL != "" {
		inner = protowire.AppendTag(inner, 1, protowire.BytesType)
		inner = protowire.AppendBytes(inner, []byte(e.TypeURL))
	}
	if len(e.Payload) > 0 {
		inner = protowire.AppendTag(inner, 2, protowire.BytesType)
		inner = protowire.AppendBytes(inner, e.Payload)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func consumeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, unmarshalError("truncated envelope")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, unmarshalError("truncated envelope type url")
			}
			e.TypeURL = string(v)
			data = data[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, unmarshalError("truncated envelope payload")
			}
			e.Payload = append([]byte(nil), v...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return e, unmarshalError("malformed envelope field")
			}
			data = data[m:]
		}
	}
	return e, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v *NamedValue) MarshalBinary() ([]byte, error) {
	return v.append(nil), nil
}

func (v *NamedValue) append(b []byte) []byte {
	if v.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.Name))
	}
	if v.Ordinal != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Ordinal))
	}
	return appendEnvelope(b, 3, v.Value)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *NamedValue) UnmarshalBinary(data []byte) error {
	*v = NamedValue{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated named value")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated named value name")
			}
			v.Name = string(s)
			data = data[m:]
		case num == 2 && typ == protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return unmarshalError("truncated named value ordinal")
			}
			v.Ordinal = int64(u)
			data = data[m:]
		case num == 3 && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated named value envelope")
			}
			e, err := consumeEnvelope(raw)
			if err != nil {
				return err
			}
			v.Value = e
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return unmarshalError("malformed named value field")
			}
			data = data[m:]
		}
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *QueryRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	if r.ReplicationID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.ReplicationID))
	}
	if r.SQL != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.SQL))
	}
	if r.Type != QueryTypeUnspecified {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Type))
	}
	for i := range r.Params {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Params[i].append(nil))
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *QueryRequest) UnmarshalBinary(data []byte) error {
	*r = QueryRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated query request")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated replication id")
			}
			r.ReplicationID = string(s)
			data = data[m:]
		case num == 2 && typ == protowire.BytesType:
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated sql")
			}
			r.SQL = string(s)
			data = data[m:]
		case num == 3 && typ == protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return unmarshalError("truncated query type")
			}
			r.Type = QueryType(int32(u))
			data = data[m:]
		case num == 4 && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated query parameter")
			}
			var nv NamedValue
			if err := nv.UnmarshalBinary(raw); err != nil {
				return err
			}
			r.Params = append(r.Params, nv)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return unmarshalError("malformed query request field")
			}
			data = data[m:]
		}
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Row) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, v := range r.Values {
		b = appendEnvelope(b, 1, v)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Row) UnmarshalBinary(data []byte) error {
	*r = Row{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated row")
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated row value")
			}
			e, err := consumeEnvelope(raw)
			if err != nil {
				return err
			}
			r.Values = append(r.Values, e)
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return unmarshalError("malformed row field")
		}
		data = data[m:]
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (rs *ResultSet) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, c := range rs.Columns {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(c))
	}
	for i := range rs.Rows {
		row, _ := rs.Rows[i].MarshalBinary()
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, row)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (rs *ResultSet) UnmarshalBinary(data []byte) error {
	*rs = ResultSet{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated result set")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated column name")
			}
			rs.Columns = append(rs.Columns, string(s))
			data = data[m:]
		case num == 2 && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated result row")
			}
			var row Row
			if err := row.UnmarshalBinary(raw); err != nil {
				return err
			}
			rs.Rows = append(rs.Rows, row)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return unmarshalError("malformed result set field")
			}
			data = data[m:]
		}
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *QueryResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	if r.Error != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.Error))
	}
	if r.RowsAffected != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.RowsAffected))
	}
	if r.TxSeq != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.TxSeq))
	}
	if r.ResultSet != nil {
		rs, _ := r.ResultSet.MarshalBinary()
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, rs)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *QueryResponse) UnmarshalBinary(data []byte) error {
	*r = QueryResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated query response")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated error string")
			}
			r.Error = string(s)
			data = data[m:]
		case num == 2 && typ == protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return unmarshalError("truncated rows affected")
			}
			r.RowsAffected = int64(u)
			data = data[m:]
		case num == 3 && typ == protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return unmarshalError("truncated tx seq")
			}
			r.TxSeq = int64(u)
			data = data[m:]
		case num == 4 && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated result set")
			}
			var rs ResultSet
			if err := rs.UnmarshalBinary(raw); err != nil {
				return err
			}
			r.ResultSet = &rs
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return unmarshalError("malformed query response field")
			}
			data = data[m:]
		}
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *DownloadRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	if r.ReplicationID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.ReplicationID))
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *DownloadRequest) UnmarshalBinary(data []byte) error {
	*r = DownloadRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated download request")
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated replication id")
			}
			r.ReplicationID = string(s)
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return unmarshalError("malformed download request field")
		}
		data = data[m:]
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *DownloadResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *DownloadResponse) UnmarshalBinary(data []byte) error {
	*r = DownloadResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated download response")
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated chunk data")
			}
			r.Data = append([]byte(nil), raw...)
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return unmarshalError("malformed download response field")
		}
		data = data[m:]
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *ReplicationIDsResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, id := range r.ReplicationID {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(id))
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *ReplicationIDsResponse) UnmarshalBinary(data []byte) error {
	*r = ReplicationIDsResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated replication ids response")
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			s, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return unmarshalError("truncated replication id")
			}
			r.ReplicationID = append(r.ReplicationID, string(s))
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return unmarshalError("malformed replication ids field")
		}
		data = data[m:]
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (Empty) MarshalBinary() ([]byte, error) {
	return nil, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Unknown fields are
// ignored so future server extensions remain compatible.
func (*Empty) UnmarshalBinary(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return unmarshalError("truncated empty message")
		}
		m := protowire.ConsumeFieldValue(num, typ, data[n:])
		if m < 0 {
			return unmarshalError("malformed empty message field")
		}
		data = data[n+m:]
	}
	return nil
}

// marshaler and unmarshaler are satisfied by every sql.v1 message above.
type marshaler interface {
	MarshalBinary() ([]byte, error)
}

type unmarshaler interface {
	UnmarshalBinary(data []byte) error
}

// Codec is the gRPC message codec for the hand-written sql.v1 types. It is
// installed per call with grpc.ForceCodec, so the process-global proto codec
// registry is left untouched.
type Codec struct{}

// Name implements grpc encoding.Codec. The wire encoding is standard
// protobuf, so the content-subtype stays "proto".
func (Codec) Name() string {
	return "proto"
}

// Marshal implements grpc encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(marshaler)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return m.MarshalBinary()
}

// Unmarshal implements grpc encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	u, ok := v.(unmarshaler)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return u.UnmarshalBinary(data)
}
