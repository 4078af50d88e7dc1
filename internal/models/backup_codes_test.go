package models

import "testing"

func TestBackupCodesScan(t *testing.T) {
	var codes BackupCodes
	if err := codes.Scan(`["a","","b","a"]`); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(codes) != 2 || codes[0] != "a" || codes[1] != "b" {
		t.Fatalf("unexpected codes: %v", codes)
	}

	if err := codes.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if len(codes) != 0 {
		t.Fatalf("expected empty codes, got %v", codes)
	}

	if err := codes.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if err := codes.Scan([]byte("{")); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestBackupCodesValue(t *testing.T) {
	value, err := BackupCodes{"x", "y"}.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != `["x","y"]` {
		t.Fatalf("unexpected value: %v", value)
	}

	empty, err := BackupCodes(nil).Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if empty != `[]` {
		t.Fatalf("expected empty array, got %v", empty)
	}
}

func TestBackupCodesWithout(t *testing.T) {
	codes := BackupCodes{"a", "b", "c"}
	rest, found := codes.Without("b")
	if !found {
		t.Fatalf("expected b to be found")
	}
	if len(rest) != 2 || rest[0] != "a" || rest[1] != "c" {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if _, found := rest.Without("b"); found {
		t.Fatalf("expected b to be gone")
	}
	if len(codes) != 3 {
		t.Fatalf("original slice must not be mutated")
	}
}
