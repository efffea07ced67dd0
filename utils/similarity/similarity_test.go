package similarity

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "The Matrix", "The Matrix", 100, 100},
		{"case insensitive", "The Matrix", "the matrix", 100, 100},
		{"dots vs spaces", "The.Matrix", "The Matrix", 100, 100},
		{"leading article", "The Dark Knight", "Dark Knight", 100, 100},
		{"ampersand", "Me, MYSELF & I", "Me Myself and I", 100, 100},
		{"diacritics", "Amélie", "Amelie", 100, 100},
		{"year suffix", "The Matrix 1999", "The Matrix", 50, 70},
		{"unrelated", "The Matrix", "Inception", 0, 30},
		{"empty", "", "Inception", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Fatalf("Score(%q, %q) = %v, want [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	pairs := [][2]string{{"Breaking Bad", "Breaking Badd"}, {"Dune Part Two", "Dune"}}
	for _, p := range pairs {
		if Score(p[0], p[1]) != Score(p[1], p[0]) {
			t.Fatalf("Score not symmetric for %v", p)
		}
	}
}

func TestDistance(t *testing.T) {
	if d := distance([]rune("kitten"), []rune("sitting")); d != 3 {
		t.Fatalf("distance = %d, want 3", d)
	}
	if d := distance([]rune(""), []rune("abc")); d != 3 {
		t.Fatalf("distance = %d, want 3", d)
	}
}
