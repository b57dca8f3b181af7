package sender

import "testing"

func TestTranslateLogicalKeyEnter(t *testing.T) {
	raw, err := translateLogicalKey("Enter")
	if err != nil || string(raw) != "\r" {
		t.Fatalf("raw=%q err=%v", raw, err)
	}
}

func TestTranslateLogicalKeyControlMask(t *testing.T) {
	cases := map[string]byte{
		"C-A": 0x01,
		"C-[": 0x1b,
		"C-@": 0x00,
	}
	for logical, want := range cases {
		raw, err := translateLogicalKey(logical)
		if err != nil || len(raw) != 1 || raw[0] != want {
			t.Fatalf("%s: raw=%v err=%v, want %#x", logical, raw, err, want)
		}
	}
}

func TestTranslateLogicalKeyUnknown(t *testing.T) {
	if _, err := translateLogicalKey("NotAKey"); err == nil {
		t.Fatal("expected an error for an unrecognized logical key")
	}
}
