package gattcodec

import "testing"

func TestEncodeDecodeU8(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero", 0, 0},
		{"max", 255, 255},
		{"overflow clamps", 300, 255},
		{"negative clamps", -10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeU8(tt.in)
			got, err := DecodeU8(data)
			if err != nil {
				t.Fatalf("DecodeU8() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeU8(%d) roundtrip = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeI8(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero", 0, 0},
		{"min", -128, -128},
		{"max", 127, 127},
		{"overflow clamps", 200, 127},
		{"underflow clamps", -200, -128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeI8(tt.in)
			got, err := DecodeI8(data)
			if err != nil {
				t.Fatalf("DecodeI8() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeI8(%d) roundtrip = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeBoolAnyNonzero(t *testing.T) {
	tests := []struct {
		name string
		in   byte
		want bool
	}{
		{"zero is false", 0x00, false},
		{"one is true", 0x01, true},
		{"any nonzero is true", 0x7F, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBool([]byte{tt.in})
			if err != nil {
				t.Fatalf("DecodeBool() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeBool(0x%02x) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	in := "RL-CAR-cc:ba:97:0d:8c:b5"
	data := EncodeString(in)
	got, err := DecodeString(data)
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	if got != in {
		t.Errorf("string roundtrip = %q, want %q", got, in)
	}
}

func TestDecodeStringInvalidUTF8Substitutes(t *testing.T) {
	got, err := DecodeString([]byte{0xff, 0xfe, 'o', 'k'})
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	if got == "" || got[len(got)-2:] != "ok" {
		t.Errorf("DecodeString() = %q, want suffix %q", got, "ok")
	}
}

func TestShortReadErrors(t *testing.T) {
	if _, err := DecodeU8(nil); err != ErrShortRead {
		t.Errorf("DecodeU8(nil) error = %v, want ErrShortRead", err)
	}
	if _, err := DecodeI8([]byte{}); err != ErrShortRead {
		t.Errorf("DecodeI8([]) error = %v, want ErrShortRead", err)
	}
	if _, err := DecodeBool(nil); err != ErrShortRead {
		t.Errorf("DecodeBool(nil) error = %v, want ErrShortRead", err)
	}
}
