package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestAWSProvider_MapInstanceClass(t *testing.T) {
	p := &AWSProvider{}
	tests := []struct {
		cores    int
		memoryGB int
		gpuClass string
		want     string
	}{
		{2, 4, "", "t3.medium"},
		{2, 8, "", "t3.large"},
		{4, 16, "", "m5.xlarge"},
		{8, 32, "", "m5.2xlarge"},
		{16, 64, "", "m5.4xlarge"},
		{32, 128, "", "m5.8xlarge"},
		{64, 512, "", "m5.8xlarge"},
		{2, 4, "T4", "g4dn.2xlarge"},
		{2, 4, "V100", "p3.2xlarge"},
		{2, 4, "A10", "g5.2xlarge"},
		{2, 4, "A100", "p4d.24xlarge"},
		{2, 4, "t4", "g4dn.2xlarge"},
		{2, 4, "H100", "g4dn.2xlarge"},
	}
	for _, tt := range tests {
		got := p.MapInstanceClass(tt.cores, tt.memoryGB, tt.gpuClass)
		if got.ID != tt.want {
			t.Errorf("MapInstanceClass(%v, %v, %q) = %v, want %v", tt.cores, tt.memoryGB, tt.gpuClass, got.ID, tt.want)
		}
	}
}

func TestAWSProvider_MapInstanceClassMonotonic(t *testing.T) {
	p := &AWSProvider{}
	for cores := 1; cores <= 32; cores *= 2 {
		for memoryGB := 1; memoryGB <= 128; memoryGB *= 2 {
			got := p.MapInstanceClass(cores, memoryGB, "")
			if got.Cores < cores && got.ID != "m5.8xlarge" {
				t.Errorf("MapInstanceClass(%v, %v, \"\") = %v with %v cores", cores, memoryGB, got.ID, got.Cores)
			}
			if got.MemoryGB < memoryGB && got.ID != "m5.8xlarge" {
				t.Errorf("MapInstanceClass(%v, %v, \"\") = %v with %vGB", cores, memoryGB, got.ID, got.MemoryGB)
			}
		}
	}
}

func TestAWSProvider_MapDatabaseClass(t *testing.T) {
	p := &AWSProvider{}
	tests := []struct {
		memoryMB int
		want     string
	}{
		{512, "db.t3.micro"},
		{2048, "db.t3.small"},
		{4000, "db.t3.medium"},
		{8192, "db.m5.large"},
		{32768, "db.m5.2xlarge"},
		{65536, "db.m5.4xlarge"},
	}
	for _, tt := range tests {
		if got := p.MapDatabaseClass(2, tt.memoryMB); got.ID != tt.want {
			t.Errorf("MapDatabaseClass(2, %v) = %v, want %v", tt.memoryMB, got.ID, tt.want)
		}
	}
}

type fakeAPIError struct {
	code string
}

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestClassifyAWS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"capacity", &fakeAPIError{code: "InsufficientInstanceCapacity"}, ErrZoneUnavailable},
		{"db capacity", &fakeAPIError{code: "InsufficientDBInstanceCapacity"}, ErrZoneUnavailable},
		{"unsupported", &fakeAPIError{code: "Unsupported"}, ErrZoneUnavailable},
		{"instance missing", &fakeAPIError{code: "InvalidInstanceID.NotFound"}, ErrNotFound},
		{"db missing", &fakeAPIError{code: "DBInstanceNotFound"}, ErrNotFound},
		{"wrapped", fmt.Errorf("call failed: %w", &fakeAPIError{code: "InsufficientCapacity"}), ErrZoneUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAWS(tt.err, "test")
			if tt.want == nil {
				if got != nil {
					t.Errorf("classifyAWS() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyAWS(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyAWSPassthrough(t *testing.T) {
	err := classifyAWS(&fakeAPIError{code: "AuthFailure"}, "test")
	if errors.Is(err, ErrZoneUnavailable) || errors.Is(err, ErrNotFound) {
		t.Errorf("auth failure misclassified: %v", err)
	}
}
