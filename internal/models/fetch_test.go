package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://example.com/ppe.onnx", true},
		{"http://10.0.0.2/best.onnx", true},
		{"models/best.onnx", false},
		{"/abs/best.onnx", false},
		{"ftp://example.com/best.onnx", false},
	}
	for _, tt := range tests {
		if got := IsRemote(tt.ref); got != tt.want {
			t.Errorf("IsRemote(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestResolve_LocalFile(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "best.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(filepath.Join(dir, "models"))
	got, err := f.Resolve(context.Background(), model)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != model {
		t.Errorf("Expected %s, got %s", model, got)
	}

	if _, err := f.Resolve(context.Background(), filepath.Join(dir, "missing.onnx")); err == nil {
		t.Error("Expected error for missing local model")
	}
}

func TestResolve_DownloadsOnce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("fake model data"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "models")
	f := NewFetcher(dir)
	ref := server.URL + "/weights/ppe-yolov8n.onnx"

	for i := 0; i < 2; i++ {
		got, err := f.Resolve(context.Background(), ref)
		if err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
		if got != filepath.Join(dir, "ppe-yolov8n.onnx") {
			t.Errorf("Unexpected path %s", got)
		}
	}

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("Expected 1 download, got %d", n)
	}
	data, err := os.ReadFile(filepath.Join(dir, "ppe-yolov8n.onnx"))
	if err != nil || string(data) != "fake model data" {
		t.Errorf("Unexpected model contents %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ppe-yolov8n.onnx.tmp")); !os.IsNotExist(err) {
		t.Error("Temp file should be removed")
	}
}

func TestResolve_DownloadFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	f := NewFetcher(dir)
	if _, err := f.Resolve(context.Background(), server.URL+"/best.onnx"); err == nil {
		t.Fatal("Expected error for failed download")
	}
	if _, err := os.Stat(filepath.Join(dir, "best.onnx")); !os.IsNotExist(err) {
		t.Error("No model file should be left behind")
	}
}

func TestResolve_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(t.TempDir())
	if _, err := f.Resolve(ctx, server.URL+"/best.onnx"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestLocalPath_NoName(t *testing.T) {
	f := NewFetcher(t.TempDir())
	if _, err := f.LocalPath("https://example.com/"); err == nil {
		t.Error("Expected error for URL without file name")
	}
}
