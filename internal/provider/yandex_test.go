package provider

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestYandexProvider_Zones(t *testing.T) {
	p := &YandexProvider{}

	zones, err := p.Zones(context.Background(), "ru-central1")
	if err != nil {
		t.Fatalf("Zones() failed: %v", err)
	}
	want := []string{"ru-central1-a", "ru-central1-b", "ru-central1-d"}
	if len(zones) != len(want) {
		t.Fatalf("got %d zones, want %d", len(zones), len(want))
	}
	for i := range want {
		if zones[i] != want[i] {
			t.Errorf("zones[%d] = %q, want %q", i, zones[i], want[i])
		}
	}
}

func TestYandexProvider_MapInstanceClass(t *testing.T) {
	p := &YandexProvider{}
	tests := []struct {
		cores    int
		memoryGB int
		gpuClass string
		wantID   string
		wantCore int
	}{
		{1, 2, "", "standard-v3", 2},
		{3, 8, "", "standard-v3", 4},
		{6, 24, "", "standard-v3", 8},
		{2, 4, "T4", "standard-v3-t4", 8},
		{2, 4, "V100", "gpu-standard-v1", 8},
		{2, 4, "A100", "gpu-standard-v3", 28},
	}
	for _, tt := range tests {
		got := p.MapInstanceClass(tt.cores, tt.memoryGB, tt.gpuClass)
		if got.ID != tt.wantID || got.Cores != tt.wantCore {
			t.Errorf("MapInstanceClass(%v, %v, %q) = %v/%v cores, want %v/%v",
				tt.cores, tt.memoryGB, tt.gpuClass, got.ID, got.Cores, tt.wantID, tt.wantCore)
		}
	}
}

func TestYandexProvider_MapDatabaseClass(t *testing.T) {
	p := &YandexProvider{}
	tests := []struct {
		memoryMB int
		want     string
	}{
		{2048, "b2.medium"},
		{8000, "s2.micro"},
		{16000, "s2.small"},
		{32768, "s2.medium"},
		{65536, "s2.large"},
	}
	for _, tt := range tests {
		if got := p.MapDatabaseClass(2, tt.memoryMB); got.ID != tt.want {
			t.Errorf("MapDatabaseClass(2, %v) = %v, want %v", tt.memoryMB, got.ID, tt.want)
		}
	}
}

func TestClassifyYandex(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"exhausted", status.Error(codes.ResourceExhausted, "quota"), ErrZoneUnavailable},
		{"missing", status.Error(codes.NotFound, "gone"), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyYandex(tt.err, "test"); !errors.Is(got, tt.want) {
				t.Errorf("classifyYandex(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	plain := classifyYandex(status.Error(codes.PermissionDenied, "denied"), "test")
	if errors.Is(plain, ErrZoneUnavailable) || errors.Is(plain, ErrNotFound) {
		t.Errorf("permission error misclassified: %v", plain)
	}
}
