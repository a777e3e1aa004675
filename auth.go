package shardclient

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
)

// Authenticator performs internal cluster user authentication on a freshly
// created connection. ConnHook consults it as the very first step of
// OnCreate.
type Authenticator interface {
	// Enabled reports whether process-wide authentication is switched on.
	Enabled() bool
	// AuthenticateInternal runs the credential exchange on the connection.
	AuthenticateInternal(conn *Connection) error
	// User returns the internal user name, for logging.
	User() string
}

// InternalAuthenticator authenticates the cluster-internal user with a
// chap-sha1 challenge-response over the greeting salt. The cleartext
// password never crosses the wire.
type InternalAuthenticator struct {
	user     string
	password string
}

// NewInternalAuthenticator builds an authenticator for the internal user.
// An empty user name produces a disabled authenticator.
func NewInternalAuthenticator(user, password string) *InternalAuthenticator {
	return &InternalAuthenticator{user: user, password: password}
}

// Enabled implements Authenticator.
func (a *InternalAuthenticator) Enabled() bool {
	return a != nil && a.user != ""
}

// User implements Authenticator.
func (a *InternalAuthenticator) User() string {
	if a == nil {
		return ""
	}
	return a.user
}

// AuthenticateInternal implements Authenticator.
func (a *InternalAuthenticator) AuthenticateInternal(conn *Connection) error {
	scr, err := scramble(conn.Greeting().Salt, a.password)
	if err != nil {
		return fmt.Errorf("scramble: %w", err)
	}

	_, err = conn.Call("auth", Document{
		"user":     a.user,
		"scramble": scr,
	})
	return err
}

const scrambleSize = sha1.Size // == 20

// scramble implements the chap-sha1 exchange:
//
//	salt = base64_decode(encoded_salt)
//	step1 = sha1(password)
//	step2 = sha1(step1)
//	step3 = sha1(first_20_bytes_of_salt, step2)
//	scramble = xor(step1, step3)
func scramble(encodedSalt, pass string) ([]byte, error) {
	if len(encodedSalt) < scrambleSize {
		return nil, errors.New("salt is too short")
	}

	salt, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if len(salt) < scrambleSize {
		return nil, errors.New("decoded salt is too short")
	}

	step1 := sha1.Sum([]byte(pass))
	step2 := sha1.Sum(step1[:])

	hash := sha1.New()
	hash.Write(salt[:scrambleSize])
	hash.Write(step2[:])
	step3 := hash.Sum(nil)

	out := make([]byte, scrambleSize)
	for i := range out {
		out[i] = step1[i] ^ step3[i]
	}
	return out, nil
}
