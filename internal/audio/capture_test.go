package audio

import (
	"errors"
	"testing"
)

func TestClassifyDeviceError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"permission", errors.New("Input stream permission denied"), ErrPermissionDenied},
		{"not allowed", errors.New("operation not allowed by OS"), ErrPermissionDenied},
		{"no default", errors.New("no default input device"), ErrDeviceNotFound},
		{"invalid device", errors.New("Invalid device"), ErrDeviceNotFound},
		{"busy", errors.New("device unavailable"), ErrDeviceBusy},
		{"in use", errors.New("resource in use by another process"), ErrDeviceBusy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyDeviceError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Errorf("classifyDeviceError(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	if classifyDeviceError(nil) != nil {
		t.Error("nil error should classify to nil")
	}

	opaque := errors.New("host api initialization failed")
	got := classifyDeviceError(opaque)
	if errors.Is(got, ErrPermissionDenied) || errors.Is(got, ErrDeviceNotFound) || errors.Is(got, ErrDeviceBusy) {
		t.Errorf("opaque error should not map to a sentinel, got %v", got)
	}
	if !errors.Is(got, opaque) {
		t.Error("opaque error should wrap the original")
	}
}
