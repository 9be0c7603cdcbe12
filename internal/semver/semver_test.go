package semver

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.2.3", "1.2.4", -1},
		{"1.10.0", "1.9.9", 1},
		{"2.0.0", "1.99.99", 1},
		{"0.9", "1.0.0", -1},
		{"", "0.0.0", 0},
		{"abc", "0.0.0", 0},
		{"1.x.0", "1.0.0", 0},
	}
	for _, tc := range cases {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast("1.4.2", "1.4.0") {
		t.Fatal("1.4.2 should satisfy min 1.4.0")
	}
	if AtLeast("1.3.9", "1.4.0") {
		t.Fatal("1.3.9 should not satisfy min 1.4.0")
	}
	if !AtLeast("garbage", "0.0.0") {
		t.Fatal("unparseable versions must not lock anyone out at min 0.0.0")
	}
}
