package flags

import (
	"strings"
	"testing"
)

// TestParse_KnownBits verifies that every defined flag bit decodes to
// itself.
func TestParse_KnownBits(t *testing.T) {
	raw := uint32(ItemCreated | ItemModified | ItemIsFile)
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(0x%x): %v", raw, err)
	}
	if got != ItemCreated|ItemModified|ItemIsFile {
		t.Errorf("Parse(0x%x) = %v", raw, got)
	}
}

// TestParse_ZeroIsNone verifies that an empty bit pattern is valid.
func TestParse_ZeroIsNone(t *testing.T) {
	got, err := Parse(0)
	if err != nil {
		t.Fatalf("Parse(0): %v", err)
	}
	if got != None {
		t.Errorf("Parse(0) = %v, want None", got)
	}
}

// TestParse_UnknownBits verifies that bits outside the known vocabulary
// are rejected rather than silently dropped.
func TestParse_UnknownBits(t *testing.T) {
	raw := uint32(ItemCreated) | 0x80000000
	if _, err := Parse(raw); err == nil {
		t.Fatalf("Parse(0x%x) succeeded, want error for unknown bit", raw)
	}
}

func TestHas(t *testing.T) {
	f := ItemCreated | ItemIsDir
	if !f.Has(ItemCreated) {
		t.Error("Has(ItemCreated) = false")
	}
	if !f.Has(ItemCreated | ItemIsDir) {
		t.Error("Has(ItemCreated|ItemIsDir) = false")
	}
	if f.Has(ItemRemoved) {
		t.Error("Has(ItemRemoved) = true")
	}
}

func TestString(t *testing.T) {
	if got := None.String(); got != "None" {
		t.Errorf("None.String() = %q", got)
	}
	got := (ItemCreated | ItemIsFile).String()
	for _, want := range []string{"ItemCreated", "ItemIsFile"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
