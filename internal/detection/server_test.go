package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServer_RoundTripWithClient(t *testing.T) {
	var gotBounds image.Rectangle
	det := DetectorFunc(func(ctx context.Context, img image.Image) ([]Detection, error) {
		gotBounds = img.Bounds()
		return []Detection{
			{ClassName: "no-mask", Confidence: 0.8, Box: Box{X1: 1, Y1: 1, X2: 10, Y2: 10}},
			{ClassName: "helmet", Confidence: 0.2},
		}, nil
	})

	srv := NewServer(ServerConfig{Detector: det, ModelID: "ppe-test"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := NewClient(ClientConfig{Address: ts.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	dets, err := client.Detect(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if gotBounds.Dx() != 64 || gotBounds.Dy() != 48 {
		t.Errorf("Server decoded image with bounds %v", gotBounds)
	}
	if len(dets) != 1 {
		t.Fatalf("Expected 1 detection above threshold, got %d", len(dets))
	}
	if dets[0].ClassName != "no-mask" || dets[0].Box.X2 != 10 {
		t.Errorf("Unexpected detection: %+v", dets[0])
	}
}

func TestServer_DetectorError(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, img image.Image) ([]Detection, error) {
		return nil, errors.New("inference failed")
	})

	ts := httptest.NewServer(NewServer(ServerConfig{Detector: det}).Handler())
	defer ts.Close()

	client, _ := NewClient(ClientConfig{Address: ts.URL})
	if _, err := client.Detect(context.Background(), testImage()); err == nil {
		t.Error("Expected error from failing detector")
	}
}

func TestServer_InvalidBody(t *testing.T) {
	srv := NewServer(ServerConfig{Detector: DetectorFunc(func(ctx context.Context, img image.Image) ([]Detection, error) {
		t.Error("Detector should not be called")
		return nil, nil
	})})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"bad base64", `{"image_data":"***"}`},
		{"not an image", `{"image_data":"aGVsbG8="}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(ServerConfig{Address: "127.0.0.1:0", Detector: DetectorFunc(func(ctx context.Context, img image.Image) ([]Detection, error) {
		return nil, nil
	})})

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop(context.Background())

	client, _ := NewClient(ClientConfig{Address: srv.Address()})
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health against started server failed: %v", err)
	}
}
