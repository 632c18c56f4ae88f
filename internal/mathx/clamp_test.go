package mathx

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"inside", 5, 0, 10, 5},
		{"below", -1, 0, 10, 0},
		{"above", 11, 0, 10, 10},
		{"swapped bounds", 11, 10, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
				t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	if !Between(uint16(4200), 3000, 4500) {
		t.Error("4200 should be within [3000, 4500]")
	}
	if !Between(uint16(4200), 4500, 3000) {
		t.Error("Between should be order-insensitive")
	}
	if Between(uint16(5000), 3000, 4500) {
		t.Error("5000 should be outside [3000, 4500]")
	}
}

func TestMin(t *testing.T) {
	if got := Min(uint16(90), 500); got != 90 {
		t.Errorf("Min = %d, want 90", got)
	}
	if got := Min(uint16(45), 90); got != 45 {
		t.Errorf("Min = %d, want 45", got)
	}
}
