package cqlcore

import (
	"errors"
	"fmt"
)

// Authenticator creates SASL sessions for connections.
//
// One AuthSession is created per connection handshake.
type Authenticator interface {
	// NewSession starts an authentication exchange.
	//
	// Parameters:
	//   - host: Endpoint of the server
	//   - authenticatorClass: The server side authenticator from AUTHENTICATE
	//
	// Returns:
	//   - AuthSession: The exchange state
	//   - error: If the authenticator cannot be used with this server
	NewSession(host, authenticatorClass string) (AuthSession, error)
}

// AuthSession is one SASL exchange.
type AuthSession interface {
	// InitialResponse returns the token of the first AUTH_RESPONSE.
	InitialResponse() ([]byte, error)

	// EvaluateChallenge answers an AUTH_CHALLENGE.
	EvaluateChallenge(token []byte) ([]byte, error)

	// Success is called with the AUTH_SUCCESS token.
	Success(token []byte) error
}

// PasswordAuthenticator implements PLAIN authentication for
// org.apache.cassandra.auth.PasswordAuthenticator and compatible servers.
type PasswordAuthenticator struct {
	Username string
	Password string
}

var (
	_ Authenticator = PasswordAuthenticator{}
	_ AuthSession   = PasswordAuthenticator{}
)

// NewSession implements Authenticator.
func (a PasswordAuthenticator) NewSession(_, _ string) (AuthSession, error) {
	if a.Username == "" {
		return nil, errors.New("cqlcore: password authenticator requires a username")
	}

	return a, nil
}

// InitialResponse implements AuthSession.
func (a PasswordAuthenticator) InitialResponse() ([]byte, error) {
	token := make([]byte, 0, len(a.Username)+len(a.Password)+2)
	token = append(token, 0)
	token = append(token, a.Username...)
	token = append(token, 0)
	token = append(token, a.Password...)

	return token, nil
}

// EvaluateChallenge implements AuthSession.
func (a PasswordAuthenticator) EvaluateChallenge(_ []byte) ([]byte, error) {
	return nil, fmt.Errorf("cqlcore: unexpected authentication challenge for user %q", a.Username)
}

// Success implements AuthSession.
func (PasswordAuthenticator) Success(_ []byte) error {
	return nil
}
