package rfcomm

import "testing"

func TestValidMAC(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"00:11:22:33:44:55", true},
		{"aa:bb:cc:dd:ee:ff", true},
		{"AA:BB:CC:DD:EE", false},
		{"AA-BB-CC-DD-EE-FF", false},
		{"AA:BB:CC:DD:EE:FG", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidMAC(tt.in); got != tt.want {
			t.Errorf("ValidMAC(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
