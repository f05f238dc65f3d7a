package x11

import (
	"errors"
	"testing"
)

func TestCheckGeometry(t *testing.T) {
	tests := []struct {
		name          string
		x, y, w, h    int
		wantRangeFail bool
	}{
		{"origin", 0, 0, 0, 0, false},
		{"int16 edges", -32768, 32767, 65535, 1, false},
		{"x past int16", 32768, 0, 10, 10, true},
		{"y below int16", 0, -32769, 10, 10, true},
		{"wraps to small x", 65536 + 5, 0, 10, 10, true},
		{"width past uint16", 0, 0, 65536, 10, true},
		{"height past uint16", 0, 0, 10, 1<<20 + 1, true},
		{"negative width", 0, 0, -1, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckGeometry(tt.x, tt.y, tt.w, tt.h)
			if got := errors.Is(err, ErrGeometryRange); got != tt.wantRangeFail {
				t.Fatalf("CheckGeometry(%d, %d, %d, %d) = %v", tt.x, tt.y, tt.w, tt.h, err)
			}
		})
	}
}
