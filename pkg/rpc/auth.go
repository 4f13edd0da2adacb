package rpc

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// Authenticator decorates outgoing requests with credentials.
//
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// BasicAuth authenticates with a static `rpcuser` / `rpcpassword` pair.
//
type BasicAuth struct {
	User     string
	Password string
}

var _ Authenticator = BasicAuth{}

func (a BasicAuth) Authenticate(req *http.Request) error {
	req.SetBasicAuth(a.User, a.Password)
	return nil
}

// CookieAuth authenticates with the credentials bitcoind writes to its
// `.cookie` file.
//
// The file is read on every request as the daemon generates a new cookie
// each time it starts.
//
type CookieAuth struct {
	Path string
}

var _ Authenticator = CookieAuth{}

func (a CookieAuth) Authenticate(req *http.Request) error {
	user, password, err := ReadCookie(a.Path)
	if err != nil {
		return err
	}

	req.SetBasicAuth(user, password)
	return nil
}

// ReadCookie parses a bitcoind cookie file (`__cookie__:<password>`).
//
func ReadCookie(path string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("read '%s': %w",
				path, ErrCookieUnavailable)
		}

		return "", "", fmt.Errorf("read '%s': %v: %w",
			path, err, ErrUnauthorized)
	}

	user, password, found := strings.Cut(strings.TrimSpace(string(content)), ":")
	if !found || user == "" {
		return "", "", fmt.Errorf("malformed cookie '%s': %w",
			path, ErrUnauthorized)
	}

	return user, password, nil
}
