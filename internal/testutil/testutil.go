package testutil

import (
	"animeagg/internal/components/db"
	"animeagg/lib/telemetry"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// SetupService prepares telemetry for a test and opens a private in-memory
// database with the application schema.
func SetupService(t testing.TB, name string) *sql.DB {
	t.Helper()

	cleanup := telemetry.SetupForTesting(fmt.Sprintf("test:%s", name))
	t.Cleanup(cleanup)

	conn, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// PageServer serves fixed bodies by request path and counts hits per path.
type PageServer struct {
	*httptest.Server

	mutex sync.Mutex
	pages map[string]Page
	hits  map[string]int
}

type Page struct {
	Status int
	Body   string
}

// NewPageServer starts a server that answers with pages[path], paths without
// a page get a 404. The server is closed when the test ends.
func NewPageServer(t testing.TB, pages map[string]Page) *PageServer {
	t.Helper()

	s := &PageServer{
		pages: pages,
		hits:  map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *PageServer) serve(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	s.mutex.Lock()
	s.hits[key]++
	page, ok := s.pages[key]
	if !ok {
		page, ok = s.pages[r.URL.Path]
	}
	s.mutex.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(page.Body))
}

// Hits returns how many times a path (with its query, if any) was requested.
func (s *PageServer) Hits(key string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[key]
}

// TotalHits returns the number of requests served.
func (s *PageServer) TotalHits() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}
