package media

import (
	"errors"
	"testing"
)

var (
	pngHeader  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 0x49, 0x48, 0x44, 0x52}
	jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01}
)

func TestDetectImageMIME(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"png", pngHeader, "image/png", false},
		{"jpeg", jpegHeader, "image/jpeg", false},
		{"text", []byte("hello, this is not an image"), "", true},
		{"empty", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectImageMIME(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedImage) {
					t.Errorf("expected ErrUnsupportedImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectImageMIME() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveImageMIME(t *testing.T) {
	if got := ResolveImageMIME("image/png", jpegHeader); got != "image/png" {
		t.Errorf("declared type should win, got %q", got)
	}
	if got := ResolveImageMIME("", pngHeader); got != "image/png" {
		t.Errorf("expected sniffed png, got %q", got)
	}
	if got := ResolveImageMIME("application/octet-stream", jpegHeader); got != "image/jpeg" {
		t.Errorf("expected sniffed jpeg, got %q", got)
	}
	if got := ResolveImageMIME("", []byte("text")); got != "" {
		t.Errorf("expected empty for unknown bytes, got %q", got)
	}
}
