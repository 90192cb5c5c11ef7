package s7

import (
	"errors"
	"testing"
)

func TestParseItem(t *testing.T) {
	tests := []struct {
		input    string
		wantErr  bool
		wantKey  string
		wantDB   int
		wantOff  int
		wantBit  int
		wantKind Kind
	}{
		{"DB1,X0.0", false, "DB1,X0.0", 1, 0, 0, KindBit},
		{"DB1,X58.7", false, "DB1,X58.7", 1, 58, 7, KindBit},
		{"db6,x1.5", false, "DB6,X1.5", 6, 1, 5, KindBit},
		{"DB1,INT30", false, "DB1,INT30", 1, 30, -1, KindInt},
		{"DB1,REAL32", false, "DB1,REAL32", 1, 32, -1, KindReal},
		{"DB1,B3", false, "DB1,BYTE3", 1, 3, -1, KindByte},
		{"DB2,WORD4", false, "DB2,WORD4", 2, 4, -1, KindWord},
		{"DB2,DINT8", false, "DB2,DINT8", 2, 8, -1, KindDInt},
		{"DB2,DWORD8", false, "DB2,DWORD8", 2, 8, -1, KindDWord},
		{" DB1,REAL46 ", false, "DB1,REAL46", 1, 46, -1, KindReal},

		// Symbolic aliases
		{"DB1.DBX0.1", false, "DB1,X0.1", 1, 0, 1, KindBit},
		{"DB1.DBB2", false, "DB1,BYTE2", 1, 2, -1, KindByte},
		{"DB1.DBW30", false, "DB1,WORD30", 1, 30, -1, KindWord},
		{"DB1.DBD32", false, "DB1,REAL32", 1, 32, -1, KindReal},

		// Invalid
		{"", true, "", 0, 0, 0, 0},
		{"DB1", true, "", 0, 0, 0, 0},
		{"DB1,X0", true, "", 0, 0, 0, 0},
		{"DB1,X0.8", true, "", 0, 0, 0, 0},
		{"DB1,INT30.1", true, "", 0, 0, 0, 0},
		{"DB1,FOO3", true, "", 0, 0, 0, 0},
		{"DB0,X0.0", true, "", 0, 0, 0, 0},
		{"M0.0", true, "", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			it, err := ParseItem(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseItem(%q) expected error, got %+v", tt.input, it)
				}
				var ae *AddressError
				if !errors.As(err, &ae) {
					t.Errorf("ParseItem(%q) error type = %T, want *AddressError", tt.input, err)
				}
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseItem(%q) error does not match ErrInvalidAddress", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseItem(%q) unexpected error: %v", tt.input, err)
			}
			if it.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", it.Key, tt.wantKey)
			}
			if it.DB != tt.wantDB || it.Offset != tt.wantOff || it.Bit != tt.wantBit {
				t.Errorf("got DB%d off %d bit %d, want DB%d off %d bit %d",
					it.DB, it.Offset, it.Bit, tt.wantDB, tt.wantOff, tt.wantBit)
			}
			if it.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", it.Kind, tt.wantKind)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	items := []Item{
		MustParseItem("DB6,X0.0"),
		MustParseItem("DB1,REAL32"),
		MustParseItem("DB1,X0.1"),
		MustParseItem("DB1,X58.0"),
		MustParseItem("DB6,X1.5"),
	}

	spans := Plan(items)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].DB != 1 || spans[0].Offset != 0 || spans[0].Size != 59 {
		t.Errorf("DB1 span = DB%d [%d+%d], want DB1 [0+59]", spans[0].DB, spans[0].Offset, spans[0].Size)
	}
	if len(spans[0].Items) != 3 {
		t.Errorf("DB1 span has %d items, want 3", len(spans[0].Items))
	}
	if spans[1].DB != 6 || spans[1].Offset != 0 || spans[1].Size != 2 {
		t.Errorf("DB6 span = DB%d [%d+%d], want DB6 [0+2]", spans[1].DB, spans[1].Offset, spans[1].Size)
	}
}

func TestPlanSplitsLargeSpans(t *testing.T) {
	items := []Item{
		MustParseItem("DB1,X0.0"),
		MustParseItem("DB1,REAL400"),
	}
	spans := Plan(items)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[1].Offset != 400 || spans[1].Size != 4 {
		t.Errorf("second span = [%d+%d], want [400+4]", spans[1].Offset, spans[1].Size)
	}
}
