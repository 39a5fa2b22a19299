package tier

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func writePriceTable(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.json")
	if err := ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPriceTableFromFile(t *testing.T) {
	path := writePriceTable(t, `[
		{"priceId": "price_monthly", "tier": "premium"},
		{"priceId": "price_campus", "tier": "university"}
	]`)

	table, err := LoadPriceTableFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Resolve("price_monthly"); got != TierPremium {
		t.Fatalf("Resolve(price_monthly) = %q, want premium", got)
	}
	if got := table.Resolve("price_campus"); got != TierUniversity {
		t.Fatalf("Resolve(price_campus) = %q, want university", got)
	}
	if got := table.Resolve("price_nope"); got != TierFree {
		t.Fatalf("unmapped price must resolve to free, got %q", got)
	}
	if got := table.Resolve(""); got != TierFree {
		t.Fatalf("empty price must resolve to free, got %q", got)
	}
}

func TestLoadPriceTableRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "free is not purchasable", contents: `[{"priceId": "p", "tier": "free"}]`},
		{name: "unknown tier", contents: `[{"priceId": "p", "tier": "gold"}]`},
		{name: "empty price id", contents: `[{"priceId": "", "tier": "premium"}]`},
		{name: "not json", contents: `{{{`},
	}
	for _, tt := range tests {
		path := writePriceTable(t, tt.contents)
		if _, err := LoadPriceTableFromFile(path); err == nil {
			t.Fatalf("%s: expected an error", tt.name)
		}
	}
}

func TestLoadPriceTableMissingFile(t *testing.T) {
	if _, err := LoadPriceTableFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
