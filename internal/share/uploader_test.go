package share

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

func writeClipFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fastUploader(baseURL string) *Uploader {
	u := New(baseURL, "tester")
	u.retry.BaseDelay = time.Millisecond
	u.retry.MaxDelay = 2 * time.Millisecond
	return u
}

func TestUploadHappyPath(t *testing.T) {
	var sawAuth, sawUpload bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			sawAuth = true
			if got := r.FormValue("username"); got != "tester" {
				t.Errorf("username = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		case "/upload":
			sawUpload = true
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("Authorization = %q", got)
			}
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("multipart file missing: %v", err)
			}
			// The server rejects uploads without these form fields.
			if got := r.FormValue("username"); got != "tester" {
				t.Errorf("upload username = %q, want %q", got, "tester")
			}
			if got := r.FormValue("duration"); got != "30.000" {
				t.Errorf("upload duration = %q, want %q", got, "30.000")
			}
			json.NewEncoder(w).Encode(map[string]string{"link": "https://share.example/c/abc"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	link, err := fastUploader(srv.URL).Upload(context.Background(), writeClipFile(t), 30*time.Second)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if link != "https://share.example/c/abc" {
		t.Errorf("link = %q", link)
	}
	if !sawAuth || !sawUpload {
		t.Error("expected both auth and upload requests")
	}
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			attempts++
			if attempts < 3 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"link": "https://share.example/c/x"})
	}))
	defer srv.Close()

	link, err := fastUploader(srv.URL).Upload(context.Background(), writeClipFile(t), 10*time.Second)
	if err != nil {
		t.Fatalf("Upload after retries: %v", err)
	}
	if link == "" || attempts != 3 {
		t.Errorf("link = %q, attempts = %d, want success on third try", link, attempts)
	}
}

func TestUploadDoesNotRetryRejection(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad user", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := fastUploader(srv.URL).Upload(context.Background(), writeClipFile(t), 10*time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, rejections must not be retried", attempts)
	}
}

func TestUploadUnconfigured(t *testing.T) {
	var u *Uploader
	if u.Enabled() {
		t.Error("nil uploader must report disabled")
	}

	_, err := u.Upload(context.Background(), "/nowhere.mp4", 10*time.Second)
	if !apperrors.IsCode(err, apperrors.CodeUpload) {
		t.Errorf("Upload = %v, want upload error", err)
	}
}

func TestNewEmptyBaseURL(t *testing.T) {
	if New("", "user") != nil {
		t.Error("empty base URL must yield nil uploader")
	}
}
