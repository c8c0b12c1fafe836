package drive_test

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledgerback/internal/drive"
	"ledgerback/internal/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *drive.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return drive.NewClient(drive.Options{
		BaseURL:       srv.URL,
		UploadBaseURL: srv.URL + "/upload",
		FilePrefix:    "ledger-backup",
		PageSize:      10,
	})
}

func TestClient_Upload(t *testing.T) {
	t.Run("sends a multipart related body", func(t *testing.T) {
		var (
			gotAuth  string
			gotMeta  string
			gotData  string
			gotParts int
		)
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/upload/files") {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if got := r.URL.Query().Get("uploadType"); got != "multipart" {
				t.Errorf("uploadType = %q, want multipart", got)
			}
			gotAuth = r.Header.Get("Authorization")

			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "multipart/related" {
				t.Fatalf("content type = %q (%v), want multipart/related", mediaType, err)
			}

			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("reading part: %v", err)
				}
				raw, _ := io.ReadAll(part)
				gotParts++
				if gotParts == 1 {
					gotMeta = string(raw)
				} else {
					gotData = string(raw)
				}
			}

			w.Write([]byte(`{"id":"f1","name":"ledger-backup-x.json","createdTime":"2024-01-15T10:30:00Z","size":"17"}`))
		})

		file, err := c.Upload(context.Background(), "tok-1", "ledger-backup-x.json", []byte(`{"meta":{},"data":{}}`))
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}

		if gotAuth != "Bearer tok-1" {
			t.Errorf("authorization = %q, want Bearer tok-1", gotAuth)
		}
		if gotParts != 2 {
			t.Fatalf("parts = %d, want metadata and content", gotParts)
		}
		if !strings.Contains(gotMeta, `"name":"ledger-backup-x.json"`) {
			t.Errorf("metadata part = %q, missing file name", gotMeta)
		}
		if gotData != `{"meta":{},"data":{}}` {
			t.Errorf("content part = %q", gotData)
		}

		if file.ID != "f1" || file.SizeBytes != 17 {
			t.Errorf("file = %+v", file)
		}
		if file.CreatedAt.IsZero() {
			t.Error("created time not parsed")
		}
	})

	t.Run("maps a 401 to an auth failure", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Invalid Credentials"}}`))
		})

		_, err := c.Upload(context.Background(), "bad-tok", "f.json", []byte("{}"))
		if err == nil {
			t.Fatal("Upload() expected error")
		}
		if !engine.IsAuthFailure(err) {
			t.Fatalf("error = %v, want auth failure", err)
		}
		if !strings.Contains(err.Error(), "Invalid Credentials") {
			t.Errorf("error = %v, want provider message", err)
		}
	})

	t.Run("other statuses are not auth failures", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"message":"Rate limit exceeded"}}`))
		})

		_, err := c.Upload(context.Background(), "tok-1", "f.json", []byte("{}"))
		if err == nil {
			t.Fatal("Upload() expected error")
		}
		if engine.IsAuthFailure(err) {
			t.Errorf("403 classified as auth failure: %v", err)
		}
	})
}

func TestClient_List(t *testing.T) {
	t.Run("filters by prefix and orders newest first", func(t *testing.T) {
		var gotQuery map[string]string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/files" {
				t.Errorf("path = %s, want /files", r.URL.Path)
			}
			gotQuery = map[string]string{
				"q":        r.URL.Query().Get("q"),
				"orderBy":  r.URL.Query().Get("orderBy"),
				"pageSize": r.URL.Query().Get("pageSize"),
			}
			w.Write([]byte(`{"files":[
				{"id":"f2","name":"ledger-backup-2.json","createdTime":"2024-01-16T10:00:00Z","size":"20"},
				{"id":"f1","name":"ledger-backup-1.json","createdTime":"2024-01-15T10:00:00Z","size":"10"}
			]}`))
		})

		files, err := c.List(context.Background(), "tok-1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}

		if want := "trashed = false and name contains 'ledger-backup'"; gotQuery["q"] != want {
			t.Errorf("q = %q, want %q", gotQuery["q"], want)
		}
		if gotQuery["orderBy"] != "createdTime desc" {
			t.Errorf("orderBy = %q, want createdTime desc", gotQuery["orderBy"])
		}
		if gotQuery["pageSize"] != "10" {
			t.Errorf("pageSize = %q, want 10", gotQuery["pageSize"])
		}

		if len(files) != 2 {
			t.Fatalf("files = %d, want 2", len(files))
		}
		if files[0].ID != "f2" || files[0].SizeBytes != 20 {
			t.Errorf("files[0] = %+v", files[0])
		}
	})

	t.Run("empty listing is not an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"files":[]}`))
		})

		files, err := c.List(context.Background(), "tok-1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(files) != 0 {
			t.Errorf("files = %d, want 0", len(files))
		}
	})
}

func TestClient_Download(t *testing.T) {
	t.Run("fetches raw content", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/files/f1" {
				t.Errorf("path = %s, want /files/f1", r.URL.Path)
			}
			if got := r.URL.Query().Get("alt"); got != "media" {
				t.Errorf("alt = %q, want media", got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("authorization = %q", got)
			}
			w.Write([]byte(`{"meta":{},"data":{}}`))
		})

		data, err := c.Download(context.Background(), "tok-1", "f1")
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if string(data) != `{"meta":{},"data":{}}` {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("maps a 401 to an auth failure", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.Download(context.Background(), "bad-tok", "f1")
		if !engine.IsAuthFailure(err) {
			t.Fatalf("error = %v, want auth failure", err)
		}
	})

	t.Run("missing file is a transport error with status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"File not found"}}`))
		})

		_, err := c.Download(context.Background(), "tok-1", "missing")
		var transportErr *engine.TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("error = %T, want *TransportError", err)
		}
		if transportErr.Status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", transportErr.Status)
		}
	})
}
