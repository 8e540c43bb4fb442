package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyString(t *testing.T) {
	assert.Equal(t, "LOCAL_QUORUM", LocalQuorum.String())
	assert.Equal(t, "ALL", All.String())
	assert.Equal(t, "UNKNOWN", Consistency(0x42).String())
}

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		in   string
		want Consistency
		ok   bool
	}{
		{"one", One, true},
		{"LOCAL_QUORUM", LocalQuorum, true},
		{" local_serial ", LocalSerial, true},
		{"bogus", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseConsistency(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestConsistencyPredicates(t *testing.T) {
	assert.True(t, Serial.IsSerial())
	assert.True(t, LocalSerial.IsSerial())
	assert.False(t, Quorum.IsSerial())

	assert.True(t, LocalOne.IsDCLocal())
	assert.True(t, LocalQuorum.IsDCLocal())
	assert.False(t, EachQuorum.IsDCLocal())
}

func TestErrorKindFromCode(t *testing.T) {
	assert.Equal(t, ErrorKindUnavailable, ErrorKindFromCode(0x1000))
	assert.Equal(t, ErrorKindReadTimeout, ErrorKindFromCode(0x1200))
	assert.Equal(t, ErrorKindUnprepared, ErrorKindFromCode(0x2500))
	assert.Equal(t, ErrorKindUnknown, ErrorKindFromCode(0x7777))
	assert.Equal(t, "write_timeout", ErrorKindWriteTimeout.String())
	assert.True(t, ErrorKindUnavailable.IsConsistencyFailure())
	assert.False(t, ErrorKindSyntaxError.IsConsistencyFailure())
}

func TestServerError(t *testing.T) {
	err := &ServerError{
		Kind:        ErrorKindUnavailable,
		Code:        0x1000,
		Message:     "Cannot achieve consistency level ALL",
		Host:        "10.0.0.1:9042",
		Consistency: All,
		Required:    3,
		Alive:       2,
	}

	assert.Contains(t, err.Error(), "unavailable")
	assert.Contains(t, err.Error(), "10.0.0.1:9042")
	assert.Contains(t, err.Error(), "required=3 alive=2")
}

func TestNoHostsAvailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NoHostsAvailableError{Errors: map[string]error{
		"10.0.0.2:9042": cause,
		"10.0.0.1:9042": ErrNoConnection,
	}}

	assert.True(t, errors.Is(err, ErrNoHostsAvailable))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrNoConnection))
	assert.Contains(t, err.Error(), "10.0.0.1:9042: cqlcore: no connection available")

	empty := &NoHostsAvailableError{}
	assert.Equal(t, ErrNoHostsAvailable.Error(), empty.Error())
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &ConnectionError{Host: "h:9042", Op: "write", Cause: cause}

	assert.Contains(t, err.Error(), "during write")
	assert.True(t, errors.Is(err, cause))
}

func TestRequestTimeoutError(t *testing.T) {
	err := &RequestTimeoutError{Timeout: 2 * time.Second, Host: "h:9042", Cause: ErrRequestTimeout}

	assert.True(t, errors.Is(err, ErrRequestTimeout))
	assert.Contains(t, err.Error(), "after 2s")
}

func TestProtocolErrorVersionMismatch(t *testing.T) {
	err := &ProtocolError{Message: "Invalid or unsupported protocol version (5); supported versions are (3/v3, 4/v4)"}
	assert.True(t, err.IsVersionMismatch())

	other := &ProtocolError{Message: "unexpected opcode"}
	assert.False(t, other.IsVersionMismatch())
}

func TestDistanceString(t *testing.T) {
	assert.Equal(t, "LOCAL", DistanceLocal.String())
	assert.Equal(t, "REMOTE", DistanceRemote.String())
	assert.Equal(t, "IGNORE", DistanceIgnore.String())
}
