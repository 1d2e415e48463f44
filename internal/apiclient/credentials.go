// Package apiclient resolves object names to upload/download URLs for a
// single bucket and supplies the request builders and URL finalizer the
// transfer engines call into. Token minting and refresh are a caller
// concern; this package only attaches whatever bearer token it is handed.
package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrNotLoggedIn means the credential file referenced does not exist.
var ErrNotLoggedIn = errors.New("apiclient: not logged in")

// credentialFile is the on-disk format for a saved bearer token.
type credentialFile struct {
	AccessToken string `json:"access_token"`
}

// StaticTokenSource hands back a bearer token loaded once from disk. It
// never refreshes; a token that expires mid-run needs whatever minted it
// re-run and the credential file rewritten.
type StaticTokenSource struct {
	token string
}

// TokenSourceFromPath loads a bearer token from a JSON credential file of
// the form {"access_token": "..."}.
func TokenSourceFromPath(path string) (*StaticTokenSource, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no credential file at %s", ErrNotLoggedIn, path)
	}

	if err != nil {
		return nil, fmt.Errorf("apiclient: reading %s: %w", path, err)
	}

	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("apiclient: decoding %s: %w", path, err)
	}

	if cf.AccessToken == "" {
		return nil, fmt.Errorf("apiclient: %s has no access_token", path)
	}

	return &StaticTokenSource{token: cf.AccessToken}, nil
}

// Token implements transport.TokenSource.
func (s *StaticTokenSource) Token() (string, error) {
	return s.token, nil
}
