package pos

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

const (
	pathToken  = "/api/1/access_token"
	pathMenu   = "/api/1/nomenclature"
	pathCreate = "/api/1/orders/create"
	pathStatus = "/api/1/orders/by_id"
)

const defaultMenu = `{
	"revision": 7,
	"groups": [
		{"id": "pizza", "name": "Pizza"},
		{"id": "old", "name": "Old", "isDeleted": true}
	],
	"products": [
		{"id": "p1", "name": "Margherita", "price": 250, "parentGroup": "pizza"},
		{"id": "p2", "name": "Diavola", "price": "310.50", "parentGroup": "pizza"},
		{"id": "p3", "name": "Lemonade", "price": 110, "parentGroup": null},
		{"id": "p4", "name": "Gone", "price": 1, "parentGroup": "pizza", "isDeleted": true}
	]
}`

// fakePOS serves the POS endpoints. Handlers can be overridden per path and
// every request is counted.
type fakePOS struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
	issued   int
	valid    map[string]bool
	bodies   map[string][]byte
}

func newFakePOS(t *testing.T) (*fakePOS, *httptest.Server) {
	t.Helper()
	f := &fakePOS{
		calls:    make(map[string]int),
		handlers: make(map[string]http.HandlerFunc),
		valid:    make(map[string]bool),
		bodies:   make(map[string][]byte),
	}
	f.handlers[pathToken] = f.issueToken
	f.handlers[pathMenu] = f.authorized(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, defaultMenu)
	})

	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePOS) serve(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.bodies[r.URL.Path] = body
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakePOS) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakePOS) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakePOS) lastBody(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakePOS) issueToken(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.issued++
	tok := fmt.Sprintf("tok-%d", f.issued)
	f.valid[tok] = true
	f.mu.Unlock()
	fmt.Fprintf(w, `{"token": %q, "expiresIn": 3600}`, tok)
}

// revokeAll makes every token issued so far invalid.
func (f *fakePOS) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = make(map[string]bool)
}

func (f *fakePOS) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.Header.Get("Authorization")
		f.mu.Lock()
		ok := len(tok) > 7 && f.valid[tok[7:]]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"errorDescription":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:         baseURL,
		APILogin:        "login",
		OrganizationID:  "org-1",
		AuthBackoff:     5 * time.Millisecond,
		CallTimeout:     300 * time.Millisecond,
		BreakerFailures: 100,
	}, logger.Nop())
}
