package cqlcore

import (
	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/arloliu/cqlcore/types"
)

// Driver identification sent in STARTUP.
const (
	DriverName    = "cqlcore"
	DriverVersion = "0.1.0"
	cqlVersion    = "3.0.0"
)

// newestProtocolVersion is the version negotiation starts from.
const newestProtocolVersion = primitive.ProtocolVersion4

// streamCapacity returns the number of stream ids of a protocol version.
func streamCapacity(v primitive.ProtocolVersion) int {
	if v <= primitive.ProtocolVersion2 {
		return 128
	}

	return 32768
}

// downgradeProtocol returns the next older version to try, or 0 when none is left.
func downgradeProtocol(v primitive.ProtocolVersion) primitive.ProtocolVersion {
	switch v {
	case primitive.ProtocolVersion4:
		return primitive.ProtocolVersion3
	case primitive.ProtocolVersion3:
		return primitive.ProtocolVersion2
	default:
		return 0
	}
}

func newFrameCodec(c frame.BodyCompressor) frame.Codec {
	if c == nil {
		return frame.NewCodec()
	}

	return frame.NewCodecWithCompression(c)
}

func toWireConsistency(c types.Consistency) primitive.ConsistencyLevel {
	return primitive.ConsistencyLevel(c)
}

func fromWireConsistency(c primitive.ConsistencyLevel) types.Consistency {
	return types.Consistency(c)
}

// toServerError converts an ERROR message to its structured form.
func toServerError(host string, msg message.Error) *types.ServerError {
	code := int32(msg.GetErrorCode())
	e := &types.ServerError{
		Kind:    types.ErrorKindFromCode(code),
		Code:    code,
		Message: msg.GetErrorMessage(),
		Host:    host,
	}

	switch m := msg.(type) {
	case *message.Unavailable:
		e.Consistency = fromWireConsistency(m.Consistency)
		e.Required = int(m.Required)
		e.Alive = int(m.Alive)
	case *message.ReadTimeout:
		e.Consistency = fromWireConsistency(m.Consistency)
		e.Received = int(m.Received)
		e.Required = int(m.BlockFor)
		e.DataPresent = m.DataPresent
	case *message.WriteTimeout:
		e.Consistency = fromWireConsistency(m.Consistency)
		e.Received = int(m.Received)
		e.Required = int(m.BlockFor)
		e.WriteType = types.WriteType(m.WriteType)
	case *message.Unprepared:
		e.StatementID = m.Id
	case *message.AlreadyExists:
		e.Keyspace = m.Keyspace
		e.Table = m.Table
	}

	return e
}

// responseError returns the error carried by a response message, if any.
//
// ProtocolError responses become *types.ProtocolError so version negotiation
// can recognize them; every other ERROR becomes *types.ServerError.
func responseError(host string, msg message.Message) error {
	errMsg, ok := msg.(message.Error)
	if !ok {
		return nil
	}

	if errMsg.GetErrorCode() == primitive.ErrorCodeProtocolError {
		return &types.ProtocolError{Host: host, Message: errMsg.GetErrorMessage()}
	}

	return toServerError(host, errMsg)
}
