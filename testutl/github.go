// Package testutl provides an in-process fake of the GitHub gists API for tests.
package testutl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-michi/michi"
)

// FakeFile is a gist file as stored by FakeGitHub.
type FakeFile struct {
	Name    string
	Content string
}

type fakeGist struct {
	id          string
	description string
	public      bool
	files       []FakeFile
}

// CreateRequest is a decoded POST /gists body.
type CreateRequest struct {
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Files       map[string]struct {
		Content string `json:"content"`
	} `json:"files"`
}

// FakeGitHub serves GET/POST /gists and GET/PATCH /gists/{id} for one token.
type FakeGitHub struct {
	Server *httptest.Server

	mu           sync.Mutex
	token        string
	login        string
	avatarURL    string
	gists        []*fakeGist
	nextID       int
	listStatus   int
	createStatus int
	listBody     string
	listQueries  []string
	creates      []CreateRequest
	accepts      []string
	authHeaders  []string
}

// NewFakeGitHub starts a fake accepting token and owned by login. It is closed on test cleanup.
func NewFakeGitHub(t *testing.T, token, login, avatarURL string) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{token: token, login: login, avatarURL: avatarURL, nextID: 1}

	mux := michi.NewRouter()
	mux.Handle("GET /gists", http.HandlerFunc(f.handleList))
	mux.Handle("POST /gists", http.HandlerFunc(f.handleCreate))
	mux.Handle("GET /gists/{id}", http.HandlerFunc(f.handleGet))
	mux.Handle("PATCH /gists/{id}", http.HandlerFunc(f.handleUpdate))

	f.Server = httptest.NewServer(f.authenticate(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to configure a gist client with.
func (f *FakeGitHub) URL() string {
	return f.Server.URL + "/"
}

// AddGist seeds a gist owned by the fake user and returns its id.
func (f *FakeGitHub) AddGist(files ...FakeFile) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &fakeGist{id: f.newID(), description: "seeded", files: files}
	f.gists = append(f.gists, g)
	return g.id
}

// FailList makes GET /gists answer with status.
func (f *FakeGitHub) FailList(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listStatus = status
}

// FailCreate makes POST /gists answer with status.
func (f *FakeGitHub) FailCreate(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createStatus = status
}

// ListBody replaces the GET /gists response body verbatim.
func (f *FakeGitHub) ListBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listBody = body
}

// Creates returns every POST /gists body received so far.
func (f *FakeGitHub) Creates() []CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateRequest(nil), f.creates...)
}

// ListQueries returns the raw query of every GET /gists received so far.
func (f *FakeGitHub) ListQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.listQueries...)
}

// Accepts returns the Accept header of every request received so far.
func (f *FakeGitHub) Accepts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accepts...)
}

// AuthHeaders returns the Authorization header of every request received so far.
func (f *FakeGitHub) AuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

// FileContent returns the content of a file of a stored gist.
func (f *FakeGitHub) FileContent(id, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.find(id)
	if g == nil {
		return "", false
	}
	for _, file := range g.files {
		if file.Name == name {
			return file.Content, true
		}
	}
	return "", false
}

func (f *FakeGitHub) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.accepts = append(f.accepts, r.Header.Get("Accept"))
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		token := f.token
		f.mu.Unlock()

		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+token && auth != "token "+token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listQueries = append(f.listQueries, r.URL.RawQuery)
	if f.listStatus != 0 {
		writeError(w, f.listStatus, "list failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if f.listBody != "" {
		w.Write([]byte(f.listBody))
		return
	}

	// Pages are 1-based; without per_page everything is one page.
	gists := f.gists
	if perPage, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && perPage > 0 {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}
		start := min((page-1)*perPage, len(gists))
		end := min(start+perPage, len(gists))
		if end < len(gists) {
			next := fmt.Sprintf("%s/gists?per_page=%d&page=%d", f.Server.URL, perPage, page+1)
			w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
		}
		gists = gists[start:end]
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, g := range gists {
		if i > 0 {
			buf.WriteByte(',')
		}
		// Listings omit file contents, like the real API.
		f.writeGist(&buf, g, false)
	}
	buf.WriteByte(']')
	w.Write(buf.Bytes())
}

func (f *FakeGitHub) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.createStatus != 0 {
		writeError(w, f.createStatus, "create failed")
		return
	}

	g := &fakeGist{id: f.newID(), description: req.Description, public: req.Public}
	for name, file := range req.Files {
		g.files = append(g.files, FakeFile{Name: name, Content: file.Content})
	}
	f.gists = append(f.gists, g)

	var buf bytes.Buffer
	f.writeGist(&buf, g, true)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(buf.Bytes())
}

func (f *FakeGitHub) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.find(r.PathValue("id"))
	if g == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	var buf bytes.Buffer
	f.writeGist(&buf, g, true)
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func (f *FakeGitHub) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.find(r.PathValue("id"))
	if g == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	for name, file := range req.Files {
		replaced := false
		for i := range g.files {
			if g.files[i].Name == name {
				g.files[i].Content = file.Content
				replaced = true
			}
		}
		if !replaced {
			g.files = append(g.files, FakeFile{Name: name, Content: file.Content})
		}
	}
	var buf bytes.Buffer
	f.writeGist(&buf, g, true)
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

// writeGist encodes g with its files in insertion order.
func (f *FakeGitHub) writeGist(buf *bytes.Buffer, g *fakeGist, withContent bool) {
	head, _ := json.Marshal(map[string]any{
		"id":          g.id,
		"description": g.description,
		"public":      g.public,
		"owner": map[string]string{
			"login":      f.login,
			"avatar_url": f.avatarURL,
		},
	})
	// Reopen the object to append an ordered "files" member.
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"files":{`)
	for i, file := range g.files {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(file.Name)
		body := map[string]any{"filename": file.Name, "size": len(file.Content)}
		if withContent {
			body["content"] = file.Content
		}
		value, _ := json.Marshal(body)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}}")
}

func (f *FakeGitHub) find(id string) *fakeGist {
	for _, g := range f.gists {
		if g.id == id {
			return g
		}
	}
	return nil
}

func (f *FakeGitHub) newID() string {
	id := fmt.Sprintf("g%d", f.nextID)
	f.nextID++
	return id
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"message":%q}`, strings.ReplaceAll(msg, `"`, `'`))
}
