package vcs

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

type fakeFile struct {
	sha     string
	content []byte
}

type fakePull struct {
	Number int
	Title  string
	Head   string
	Base   string
	Body   string
	Merged bool
}

// fakeGitHub is an in-memory stand-in for the subset of the GitHub REST API
// the adapter uses.
type fakeGitHub struct {
	mu sync.Mutex

	repoExists    bool
	defaultBranch string
	refs          map[string]string
	files         map[string]map[string]fakeFile
	pulls         []*fakePull
	deleted       []string
	authHeaders   []string
	tokenExchange int

	// fail maps "METHOD /path-prefix-fragment" to a status to return.
	fail map[string]int
	// mergeFailures makes the first N merge calls respond 405.
	mergeFailures int

	server *httptest.Server
}

func newFakeGitHub() *fakeGitHub {
	f := &fakeGitHub{
		repoExists:    true,
		defaultBranch: "main",
		refs:          map[string]string{"main": "sha-main"},
		files:         map[string]map[string]fakeFile{},
		fail:          map[string]int{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *fakeGitHub) Close() { f.server.Close() }

func (f *fakeGitHub) failOn(method, fragment string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method+" "+fragment] = status
}

func (f *fakeGitHub) file(branch, path string) (fakeFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[branch][path]
	return file, ok
}

func (f *fakeGitHub) hasBranch(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.refs[name]
	return ok
}

func (f *fakeGitHub) branchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func blobSHA(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func (f *fakeGitHub) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	for key, status := range f.fail {
		method, fragment, _ := strings.Cut(key, " ")
		if r.Method == method && strings.Contains(r.URL.Path, fragment) {
			writeMessage(w, status, "injected failure")
			return
		}
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/app/installations/"):
		f.tokenExchange++
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":      fmt.Sprintf("ghs_installation_%d", f.tokenExchange),
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	case path == "/rate_limit":
		writeJSON(w, http.StatusOK, map[string]any{"resources": map[string]any{}})
	case r.Method == http.MethodPost && (path == "/user/repos" || strings.HasPrefix(path, "/orgs/")):
		f.repoExists = true
		writeJSON(w, http.StatusCreated, map[string]any{"name": "contacts", "default_branch": f.defaultBranch})
	case strings.HasPrefix(path, "/repos/acme/contacts"):
		if !f.repoExists {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		f.serveRepo(w, r, strings.TrimPrefix(path, "/repos/acme/contacts"))
	default:
		writeMessage(w, http.StatusNotFound, "Not Found")
	}
}

func (f *fakeGitHub) serveRepo(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case path == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"name": "contacts", "full_name": "acme/contacts", "default_branch": f.defaultBranch})

	case strings.HasPrefix(path, "/git/ref/heads/") && r.Method == http.MethodGet:
		name := strings.TrimPrefix(path, "/git/ref/heads/")
		sha, ok := f.refs[name]
		if !ok {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + name, "object": map[string]string{"sha": sha}})

	case path == "/git/refs" && r.Method == http.MethodPost:
		var req struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		name := strings.TrimPrefix(req.Ref, "refs/heads/")
		if _, exists := f.refs[name]; exists {
			writeMessage(w, http.StatusUnprocessableEntity, "Reference already exists")
			return
		}
		f.refs[name] = req.SHA
		writeJSON(w, http.StatusCreated, map[string]any{"ref": req.Ref})

	case strings.HasPrefix(path, "/git/refs/heads/") && r.Method == http.MethodDelete:
		name := strings.TrimPrefix(path, "/git/refs/heads/")
		if _, ok := f.refs[name]; !ok {
			writeMessage(w, http.StatusUnprocessableEntity, "Reference does not exist")
			return
		}
		delete(f.refs, name)
		delete(f.files, name)
		f.deleted = append(f.deleted, name)
		w.WriteHeader(http.StatusNoContent)

	case strings.HasPrefix(path, "/contents/"):
		f.serveContents(w, r, strings.TrimPrefix(path, "/contents/"))

	case path == "/pulls" && r.Method == http.MethodPost:
		var req struct {
			Title string `json:"title"`
			Head  string `json:"head"`
			Base  string `json:"base"`
			Body  string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		pr := &fakePull{Number: len(f.pulls) + 1, Title: req.Title, Head: req.Head, Base: req.Base, Body: req.Body}
		f.pulls = append(f.pulls, pr)
		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   pr.Number,
			"html_url": fmt.Sprintf("https://github.example/acme/contacts/pull/%d", pr.Number),
			"state":    "open",
		})

	case strings.HasPrefix(path, "/pulls/") && strings.HasSuffix(path, "/merge") && r.Method == http.MethodPut:
		var number int
		_, _ = fmt.Sscanf(path, "/pulls/%d/merge", &number)
		if number < 1 || number > len(f.pulls) {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		if f.mergeFailures > 0 {
			f.mergeFailures--
			writeMessage(w, http.StatusMethodNotAllowed, "Pull Request is not mergeable")
			return
		}
		f.pulls[number-1].Merged = true
		writeJSON(w, http.StatusOK, map[string]any{"merged": true, "sha": "merge-sha", "message": "Pull Request successfully merged"})

	default:
		writeMessage(w, http.StatusNotFound, "Not Found")
	}
}

func (f *fakeGitHub) serveContents(w http.ResponseWriter, r *http.Request, path string) {
	switch r.Method {
	case http.MethodGet:
		branch := r.URL.Query().Get("ref")
		file, ok := f.files[branch][path]
		if !ok {
			writeMessage(w, http.StatusNotFound, "Not Found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":     path,
			"sha":      file.sha,
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(file.content),
		})

	case http.MethodPut:
		var req struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
			SHA     string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := f.refs[req.Branch]; !ok {
			writeMessage(w, http.StatusNotFound, "Branch not found")
			return
		}
		existing, exists := f.files[req.Branch][path]
		switch {
		case exists && req.SHA == "":
			writeMessage(w, http.StatusUnprocessableEntity, "\"sha\" wasn't supplied.")
			return
		case exists && req.SHA != existing.sha:
			writeMessage(w, http.StatusConflict, "sha does not match")
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "content is not valid Base64")
			return
		}
		if f.files[req.Branch] == nil {
			f.files[req.Branch] = map[string]fakeFile{}
		}
		file := fakeFile{sha: blobSHA(content), content: content}
		f.files[req.Branch][path] = file
		status := http.StatusCreated
		if exists {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{
			"content": map[string]string{"path": path, "sha": file.sha},
			"commit":  map[string]string{"sha": "commit-" + file.sha[:7]},
		})

	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}
