package postgres

import "testing"

func TestRegconfig(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"", "simple"},
		{"en", "english"},
		{"en-US", "english"},
		{"EN", "english"},
		{"de", "german"},
		{"pt-BR", "portuguese"},
		{"ja", "simple"},
		{"not a tag", "simple"},
	}
	for _, tt := range tests {
		if got := regconfig(tt.tag); got != tt.want {
			t.Errorf("regconfig(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestLexemeQuery(t *testing.T) {
	if got := lexemeQuery("dune"); got != "'dune'" {
		t.Errorf("got %s", got)
	}
	if got := lexemeQuery("o'brien"); got != "'o''brien'" {
		t.Errorf("quote escaping: got %s", got)
	}
}

func TestAndQuery(t *testing.T) {
	got := andQuery([]string{"spice", "sand"})
	if got != "'spice' & 'sand'" {
		t.Errorf("got %s", got)
	}
}
