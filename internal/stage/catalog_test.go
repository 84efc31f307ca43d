package stage

import (
	"testing"
	"time"
)

func TestCatalog_Order(t *testing.T) {
	want := []string{SourceCheckout, BuildAndTest, Containerize, Deploy}
	got := Catalog()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(got))
	}
	for i, d := range got {
		if d.Key != want[i] {
			t.Errorf("stage %d: key = %q, want %q", i, d.Key, want[i])
		}
		if d.ID == "" || d.Name == "" || d.Tool == "" {
			t.Errorf("stage %d has empty identity fields: %+v", i, d)
		}
		if len(d.Summary) == 0 {
			t.Errorf("stage %q has no summary", d.Key)
		}
	}
}

func TestCatalog_OnlyBuildCanFail(t *testing.T) {
	for _, d := range Catalog() {
		if (d.Failure != nil) != (d.Key == BuildAndTest) {
			t.Errorf("stage %q: unexpected failure branch presence", d.Key)
		}
	}
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	a := Catalog()
	a[0].Name = "mutated"
	a[1].Steps[0].Lines[0] = "mutated"

	b := Catalog()
	if b[0].Name != "Source Code" {
		t.Errorf("catalog name leaked mutation: %q", b[0].Name)
	}
	if b[1].Steps[0].Lines[0] != "mvn clean package -DskipTests=false" {
		t.Errorf("catalog lines leaked mutation: %q", b[1].Steps[0].Lines[0])
	}
}

func TestDefinition_Waits(t *testing.T) {
	cases := map[string]struct {
		waits int
		total time.Duration
	}{
		SourceCheckout: {1, 1500 * time.Millisecond},
		BuildAndTest:   {2, 2500 * time.Millisecond},
		Containerize:   {1, 2 * time.Second},
		Deploy:         {1, 2 * time.Second},
	}
	for _, d := range Catalog() {
		c := cases[d.Key]
		if d.Waits() != c.waits {
			t.Errorf("%s: Waits() = %d, want %d", d.Key, d.Waits(), c.waits)
		}
		if d.TotalWait() != c.total {
			t.Errorf("%s: TotalWait() = %v, want %v", d.Key, d.TotalWait(), c.total)
		}
	}
}
