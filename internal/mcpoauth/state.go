package mcpoauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStateMaxAge bounds how long a user has to finish the provider consent screen.
const DefaultStateMaxAge = 10 * time.Minute

var ErrInvalidState = errors.New("mcpoauth: invalid or expired state")

// State is what the callback needs to finish a flow.
type State struct {
	CredentialID string
	UserID       string
}

// StateSigner produces HMAC-signed state values: "payload:timestamp_hex:hmac_hex".
type StateSigner struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewStateSigner returns a signer keyed by secret.
func NewStateSigner(secret string) (*StateSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("mcpoauth: state secret is required")
	}
	return &StateSigner{secret: []byte(secret), maxAge: DefaultStateMaxAge, now: time.Now}, nil
}

// Sign encodes st. Ids must not contain '.' or ':'.
func (s *StateSigner) Sign(st State) (string, error) {
	for _, v := range []string{st.CredentialID, st.UserID} {
		if v == "" || strings.ContainsAny(v, ".:") {
			return "", fmt.Errorf("mcpoauth: unsupported id %q in state", v)
		}
	}
	payload := st.CredentialID + "." + st.UserID
	ts := strconv.FormatInt(s.now().Unix(), 16)
	return payload + ":" + ts + ":" + s.mac(payload, ts), nil
}

// Verify checks the signature and freshness of raw and returns the state it carries.
func (s *StateSigner) Verify(raw string) (State, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return State{}, fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	payload, tsHex, sigHex := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(sigHex), []byte(s.mac(payload, tsHex))) {
		return State{}, fmt.Errorf("%w: bad signature", ErrInvalidState)
	}
	tsUnix, err := strconv.ParseInt(tsHex, 16, 64)
	if err != nil {
		return State{}, fmt.Errorf("%w: bad timestamp", ErrInvalidState)
	}
	if s.now().Sub(time.Unix(tsUnix, 0)) > s.maxAge {
		return State{}, fmt.Errorf("%w: expired", ErrInvalidState)
	}
	credID, userID, ok := strings.Cut(payload, ".")
	if !ok || credID == "" || userID == "" {
		return State{}, fmt.Errorf("%w: malformed payload", ErrInvalidState)
	}
	return State{CredentialID: credID, UserID: userID}, nil
}

func (s *StateSigner) mac(payload, ts string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(payload + ":" + ts))
	return hex.EncodeToString(m.Sum(nil))
}
