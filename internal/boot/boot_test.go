package boot

import (
	"testing"
	"time"

	"github.com/fpang/page-restyle/internal/restyle"
)

func TestCallTimeout(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", restyle.DefaultCallTimeout},
		{"45s", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", restyle.DefaultCallTimeout},
		{"-5s", restyle.DefaultCallTimeout},
		{"0", restyle.DefaultCallTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(EnvCallTimeout, tt.value)
			if got := CallTimeout(); got != tt.want {
				t.Errorf("CallTimeout() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
