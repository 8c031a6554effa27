package ai

import (
	"strings"
	"testing"
)

func TestParseSlideAnalyses(t *testing.T) {
	raw := `[
		{"structure_type": "Title Slide", "key_message": "全社戦略の概要", "description": "タイトルと日付のみのシンプルな構成。"},
		{"structure_type": "2x2 Matrix", "key_message": "市場成長率とシェアで事業を分類", "description": "横軸にシェア、縦軸に成長率をとったマトリクス。"}
	]`

	got := parseSlideAnalyses(raw, 2)
	if len(got) != 2 {
		t.Fatalf("got %d analyses, want 2", len(got))
	}
	if got[0].StructureType != "Title Slide" {
		t.Errorf("structure_type = %q", got[0].StructureType)
	}
	if got[1].KeyMessage != "市場成長率とシェアで事業を分類" {
		t.Errorf("key_message = %q", got[1].KeyMessage)
	}
}

func TestParseSlideAnalysesStripsFences(t *testing.T) {
	raw := "```json\n[{\"structure_type\": \"Agenda\", \"key_message\": \"本日の議題\", \"description\": \"箇条書き\"}]\n```"

	got := parseSlideAnalyses(raw, 1)
	if got[0].StructureType != "Agenda" {
		t.Errorf("structure_type = %q, want Agenda", got[0].StructureType)
	}
}

func TestParseSlideAnalysesPadsMissing(t *testing.T) {
	raw := `[{"structure_type": "Agenda", "key_message": "m", "description": "d"}]`

	got := parseSlideAnalyses(raw, 3)
	if len(got) != 3 {
		t.Fatalf("got %d analyses, want 3", len(got))
	}
	for i := 1; i < 3; i++ {
		if got[i].StructureType != "Error" || got[i].KeyMessage != "Analysis missing" {
			t.Errorf("analysis %d = %+v, want error placeholder", i, got[i])
		}
	}
}

func TestParseSlideAnalysesTruncatesExtra(t *testing.T) {
	raw := `[
		{"structure_type": "A", "key_message": "1", "description": ""},
		{"structure_type": "B", "key_message": "2", "description": ""}
	]`

	got := parseSlideAnalyses(raw, 1)
	if len(got) != 1 {
		t.Fatalf("got %d analyses, want 1", len(got))
	}
	if got[0].StructureType != "A" {
		t.Errorf("structure_type = %q, want A", got[0].StructureType)
	}
}

func TestParseSlideAnalysesGarbage(t *testing.T) {
	got := parseSlideAnalyses("not json at all", 2)
	if len(got) != 2 {
		t.Fatalf("got %d analyses, want 2", len(got))
	}
	for _, a := range got {
		if a.StructureType != "Error" {
			t.Errorf("expected error placeholder, got %+v", a)
		}
	}
}

func TestParseSlideAnalysesSingleObject(t *testing.T) {
	raw := `{"structure_type": "Title Slide", "key_message": "表紙", "description": "ロゴ入り"}`

	got := parseSlideAnalyses(raw, 1)
	if got[0].StructureType != "Title Slide" {
		t.Errorf("structure_type = %q, want Title Slide", got[0].StructureType)
	}
}

func TestClampAnalysisLimits(t *testing.T) {
	long := strings.Repeat("あ", 300)
	a := clampAnalysis(SlideAnalysis{
		StructureType: "  Chart ",
		KeyMessage:    long,
		Description:   long,
	})
	if a.StructureType != "Chart" {
		t.Errorf("structure_type = %q", a.StructureType)
	}
	if n := len([]rune(a.KeyMessage)); n != maxKeyMessageRunes {
		t.Errorf("key_message length = %d, want %d", n, maxKeyMessageRunes)
	}
	if n := len([]rune(a.Description)); n != maxDescriptionRunes {
		t.Errorf("description length = %d, want %d", n, maxDescriptionRunes)
	}
}

func TestClampAnalysisEmptyType(t *testing.T) {
	a := clampAnalysis(SlideAnalysis{KeyMessage: "m"})
	if a.StructureType != "Unknown" {
		t.Errorf("structure_type = %q, want Unknown", a.StructureType)
	}
}
