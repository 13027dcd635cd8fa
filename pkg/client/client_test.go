package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fslongjin/flutterbox/pkg/model"
)

func TestReadFileSendsQueryAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workspaces/abcd1234/file" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("path"); got != "lib/main.dart" {
			t.Errorf("path query = %q", got)
		}
		json.NewEncoder(w).Encode(model.FileResponse{Path: "lib/main.dart", Content: "void main() {}"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Workspaces.ReadFile(context.Background(), "abcd1234", "lib/main.dart")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got != "void main() {}" {
		t.Fatalf("ReadFile() = %q", got)
	}
}

func TestErrorsMapToAPIError(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, IsNotFound},
		{http.StatusBadRequest, IsBadRequest},
		{http.StatusConflict, IsConflict},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			fmt.Fprint(w, `{"error":"boom"}`)
		}))
		err := New(srv.URL).Workspaces.WriteFile(context.Background(), "abcd1234", "x.dart", "")
		srv.Close()

		if !tt.check(err) {
			t.Fatalf("status %d: error %v not classified", tt.status, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
			t.Fatalf("status %d: error = %#v", tt.status, err)
		}
	}
}

func TestStreamBuildLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/workspaces/abcd1234/build/logs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: Running flutter pub get...\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: two\ndata: lines\n\n")
		fmt.Fprint(w, "data: Building web...\r\n\r\n")
		fmt.Fprint(w, "data: __EXIT__ 1\n\n")
		fmt.Fprint(w, "data: ignored\n\n")
	}))
	defer srv.Close()

	var lines []string
	code, err := New(srv.URL).Workspaces.StreamBuildLogs(context.Background(), "abcd1234", func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("StreamBuildLogs() error = %v", err)
	}
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	want := "Running flutter pub get...|two\nlines|Building web..."
	if got := strings.Join(lines, "|"); got != want {
		t.Fatalf("lines = %q, want %q", got, want)
	}
}

func TestStreamBuildLogsWithoutExitMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: partial\n\n")
	}))
	defer srv.Close()

	_, err := New(srv.URL).Workspaces.StreamBuildLogs(context.Background(), "abcd1234", nil)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("error = %v, want ErrStreamEnded", err)
	}
}

func TestStreamBuildLogsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"workspace not found"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Workspaces.StreamBuildLogs(context.Background(), "doesnotexist", nil)
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestBaseURLWithPathPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flutterbox/api/workspaces" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"workspaceId":"0a1b2c3d"}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL + "/flutterbox/").Workspaces.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if resp.WorkspaceID != "0a1b2c3d" {
		t.Fatalf("WorkspaceID = %q", resp.WorkspaceID)
	}
}
