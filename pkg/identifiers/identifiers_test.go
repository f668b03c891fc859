package identifiers

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestOrderNumberFormatAndOrdering(t *testing.T) {
	gen, err := NewGenerator(Options{NodeID: 3, OrderPrefix: "lh"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	gen.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var numbers []string
	for i := 0; i < 20; i++ {
		numbers = append(numbers, gen.OrderNumber())
	}
	if !strings.HasPrefix(numbers[0], "LH20260301100001") {
		t.Fatalf("unexpected order number %s", numbers[0])
	}
	if len(numbers[0]) != 2+14+19 {
		t.Fatalf("unexpected length %d", len(numbers[0]))
	}
	if !sort.StringsAreSorted(numbers) {
		t.Fatalf("order numbers must sort chronologically: %v", numbers)
	}
	seen := map[string]struct{}{}
	for _, n := range numbers {
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate order number %s", n)
		}
		seen[n] = struct{}{}
	}
}

func TestGroupNumberUnique(t *testing.T) {
	gen, err := NewGenerator(Options{NodeID: 1, GroupSalt: "salt"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	a, err := gen.GroupNumber()
	if err != nil {
		t.Fatalf("group number: %v", err)
	}
	b, _ := gen.GroupNumber()
	if a == b {
		t.Fatal("expected distinct group numbers")
	}
	if len(a) < groupCodeMinLen {
		t.Fatalf("group number too short: %s", a)
	}
}

func TestVoucherCode(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		code, err := VoucherCode()
		if err != nil {
			t.Fatalf("voucher code: %v", err)
		}
		if len(code) != voucherCodeLength {
			t.Fatalf("unexpected length %d", len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("unexpected symbol %q in %s", r, code)
			}
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate voucher code %s", code)
		}
		seen[code] = struct{}{}
	}
}

func TestNewGeneratorRejectsBadNode(t *testing.T) {
	if _, err := NewGenerator(Options{NodeID: 5000}); err == nil {
		t.Fatal("expected error for out of range node id")
	}
}
