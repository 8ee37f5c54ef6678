package limits

import (
	"errors"
	"testing"
)

// TestValidateDatagram covers the empty, in-range and oversize cases.
func TestValidateDatagram(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		mtu     int
		wantErr error
	}{
		{"empty", 0, MaxLinkPayload, ErrDatagramEmpty},
		{"one byte", 1, MaxLinkPayload, nil},
		{"exactly mtu", MaxLinkPayload, MaxLinkPayload, nil},
		{"over mtu", MaxLinkPayload + 1, MaxLinkPayload, ErrDatagramTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatagram(make([]byte, tt.size), tt.mtu)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateDatagram() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateDatagram() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestPayloadSize verifies header reservation against the MTU.
func TestPayloadSize(t *testing.T) {
	size, err := PayloadSize(MaxLinkPayload, 0)
	if err != nil || size != MaxLinkPayload {
		t.Errorf("PayloadSize(raw) = %d, %v; want %d, nil", size, err, MaxLinkPayload)
	}

	size, err = PayloadSize(MaxLinkPayload, SequenceHeaderSize)
	if err != nil || size != MaxLinkPayload-SequenceHeaderSize {
		t.Errorf("PayloadSize(sequenced) = %d, %v; want %d, nil", size, err, MaxLinkPayload-SequenceHeaderSize)
	}

	if _, err := PayloadSize(MinPayload+SequenceHeaderSize-1, SequenceHeaderSize); !errors.Is(err, ErrInvalidMTU) {
		t.Errorf("PayloadSize(tiny) error = %v, want ErrInvalidMTU", err)
	}

	if _, err := PayloadSize(MaxUDPPayload+1, 0); !errors.Is(err, ErrInvalidMTU) {
		t.Errorf("PayloadSize(oversize) error = %v, want ErrInvalidMTU", err)
	}
}
