// Package gist talks to the GitHub gists API on behalf of a single token.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MediaType is sent in the Accept header of every request.
const MediaType = "application/vnd.github+json"

var (
	// ErrUnexpectedStatus is wrapped by errors caused by a non-2xx API response.
	ErrUnexpectedStatus = errors.New("unexpected GitHub API status")
	// ErrDecode is wrapped by errors caused by a response body of the wrong shape.
	ErrDecode = errors.New("failed to decode GitHub API response")
)

// API is the subset of the gists API the backup provider needs.
type API interface {
	// List returns the gists of the authenticated user.
	List(ctx context.Context) ([]Gist, error)
	// Create creates a gist and returns it as stored by GitHub.
	Create(ctx context.Context, g NewGist) (Gist, error)
	// Get fetches a single gist including file contents.
	Get(ctx context.Context, id string) (Gist, error)
	// UpdateFile replaces the content of one file in a gist, creating it if needed.
	UpdateFile(ctx context.Context, id, name, content string) (Gist, error)
}

// Gist is a remote gist as seen by this package.
type Gist struct {
	ID             string
	Description    string
	Public         bool
	OwnerLogin     string
	OwnerAvatarURL string
	// Files keeps the order GitHub returned them in.
	Files []File
}

// File is one named file of a gist. Content may be empty in list responses.
type File struct {
	Name    string
	Content string
}

// FirstFileName returns the name of the first file, or "" for a gist without files.
func (g Gist) FirstFileName() string {
	if len(g.Files) == 0 {
		return ""
	}
	return g.Files[0].Name
}

// File looks up a file by name.
func (g Gist) File(name string) (File, bool) {
	for _, f := range g.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// NewGist describes a gist to create.
type NewGist struct {
	Description string
	Public      bool
	// Files maps file name to content.
	Files map[string]string
}

// wireGist mirrors the JSON GitHub returns for a gist.
type wireGist struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Public      bool         `json:"public"`
	Owner       *wireOwner   `json:"owner"`
	Files       orderedFiles `json:"files"`
}

type wireOwner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

func (w wireGist) toGist() Gist {
	g := Gist{
		ID:          w.ID,
		Description: w.Description,
		Public:      w.Public,
		Files:       []File(w.Files),
	}
	if w.Owner != nil {
		g.OwnerLogin = w.Owner.Login
		g.OwnerAvatarURL = w.Owner.AvatarURL
	}
	return g
}

// orderedFiles decodes the "files" object without losing key order.
type orderedFiles []File

func (o *orderedFiles) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: files: %v", ErrDecode, err)
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: files: expected object, got %v", ErrDecode, tok)
	}

	files := orderedFiles{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: files: %v", ErrDecode, err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: files: unexpected key %v", ErrDecode, keyTok)
		}
		var body struct {
			Content *string `json:"content"`
		}
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("%w: files[%s]: %v", ErrDecode, name, err)
		}
		f := File{Name: name}
		if body.Content != nil {
			f.Content = *body.Content
		}
		files = append(files, f)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: files: %v", ErrDecode, err)
	}
	*o = files
	return nil
}
