package main

import (
	"strings"
	"testing"
)

// TestBuildHealthURL verifies URL construction for different ports
func TestBuildHealthURL(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		expected string
	}{
		{
			name:     "default port",
			port:     "9999",
			expected: "http://127.0.0.1:9999/health",
		},
		{
			name:     "custom port",
			port:     "8080",
			expected: "http://127.0.0.1:8080/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildHealthURL(tt.port)
			if result != tt.expected {
				t.Errorf("buildHealthURL(%q) = %q, want %q", tt.port, result, tt.expected)
			}
		})
	}
}

// TestBuildHealthURLUsesIPv4 ensures the URL never uses 'localhost', which has
// no resolver in scratch images
func TestBuildHealthURLUsesIPv4(t *testing.T) {
	url := buildHealthURL("9999")
	if !strings.Contains(url, "127.0.0.1") {
		t.Errorf("buildHealthURL must use 127.0.0.1, got %q", url)
	}
	if strings.Contains(url, "localhost") {
		t.Error("buildHealthURL must not use 'localhost' for scratch image compatibility")
	}
}
