package fetchsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/solus-project/eopkg-core/internal/model"
)

type recordingSink struct {
	updates []Progress
}

func (s *recordingSink) Report(p Progress) { s.updates = append(s.updates, p) }

func TestFetchDownloadsFullFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.eopkg")
	sink := &recordingSink{}
	f := &Fetcher{Sink: sink}

	if err := f.Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package-bytes" {
		t.Errorf("unexpected content: %q", data)
	}
	if len(sink.updates) == 0 {
		t.Errorf("expected at least one progress update")
	}
}

func TestFetchResumesPartialDownload(t *testing.T) {
	full := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write([]byte(full))
			return
		}
		var start int
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[start:]))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.eopkg")
	if err := os.WriteFile(dest, []byte(full[:4]), 0644); err != nil {
		t.Fatal(err)
	}

	f := &Fetcher{}
	if err := f.Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != full {
		t.Errorf("expected resumed download to equal full content, got %q", data)
	}
}

func TestFetchNotFoundReturnsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.eopkg")
	f := &Fetcher{}
	err := f.Fetch(context.Background(), srv.URL, dest)
	fe, ok := err.(*model.FetchError)
	if !ok {
		t.Fatalf("expected *model.FetchError, got %v", err)
	}
	if fe.Kind != model.FetchNotFound {
		t.Errorf("expected NotFound kind, got %s", fe.Kind)
	}
}

func TestFetchAuthRefusedReturnsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.eopkg")
	f := &Fetcher{}
	err := f.Fetch(context.Background(), srv.URL, dest)
	fe, ok := err.(*model.FetchError)
	if !ok || fe.Kind != model.FetchAuthRefused {
		t.Fatalf("expected AuthRefused FetchError, got %v", err)
	}
}

