package model

import "testing"

func TestNewIndex_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	ix := NewIndex([]Record{
		{ClassName: "A", MethodName: "M", Original: "hi", Translated: "第一"},
		{ClassName: "A", MethodName: "M", Original: "hi", Translated: "第二"},
		{ClassName: "A", MethodName: "M", Original: "bye", Translated: "再见"},
	})
	if ix.Len() != 2 {
		t.Fatalf("Len want=2 got=%d", ix.Len())
	}
	r, ok := ix.Lookup("A", "M", "hi")
	if !ok || r.Translated != "第一" {
		t.Fatalf("duplicate key should keep first record, got %+v ok=%v", r, ok)
	}
}

func TestIndex_Lookup_KeyIsExact(t *testing.T) {
	t.Parallel()

	ix := NewIndex([]Record{
		{ClassName: "Game.UI", MethodName: "Show", Original: "開始"},
	})
	if _, ok := ix.Lookup("Game.UI", "Show", "開始"); !ok {
		t.Fatalf("exact triple should match")
	}
	if _, ok := ix.Lookup("Game.UI", "Show", "开始"); ok {
		t.Fatalf("different original must not match")
	}
	if _, ok := ix.Lookup("Game.UI", "Hide", "開始"); ok {
		t.Fatalf("different method must not match")
	}
}

func TestContainsCJK(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"hello", false},
		{"你好", true},
		{"mixed 文本 text", true},
		{"一", true}, // 区段下界
		{"鿿", true}, // 区段上界
		{"䷿", false},
		{"カタカナ", false},
		{"한국어", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ContainsCJK(c.in); got != c.want {
			t.Fatalf("ContainsCJK(%q) want=%v got=%v", c.in, c.want, got)
		}
	}
}
