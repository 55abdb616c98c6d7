package riscv

import "testing"

// Directed table checking that a handful of compressed forms expand to
// the exact 32-bit instruction an assembler would have chosen directly.
func TestExpandCompressedMatchesDirectEncoding(t *testing.T) {
	cases := []struct {
		name string
		raw  uint16
		want uint32
	}{
		{
			// c.li x5, -1
			name: "C.LI",
			raw:  0x1 | (0x1F << 2) | (5 << 7) | (1 << 12) | (0b010 << 13),
			want: asmADDI(5, 0, uint32(int32(-1))&0xFFF),
		},
		{
			// c.mv x10, x5 (quadrant2, f3=100, bit12=0, rs2!=0)
			name: "C.MV",
			raw:  0x2 | (5 << 2) | (10 << 7) | (0b100 << 13),
			want: asmADD(10, 0, 5),
		},
		{
			// c.addi x8, 3 (quadrant1, f3=000)
			name: "C.ADDI",
			raw:  0x1 | (3 << 2) | (8 << 7) | (0b000 << 13),
			want: asmADDI(8, 8, 3),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandCompressed(tc.raw)
			if err != nil {
				t.Fatalf("expand: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expanded %#x, want %#x", got, tc.want)
			}
		})
	}
}
