package phonetic_test

import (
	"testing"

	"github.com/MrWong99/voxscribe/internal/transcript/phonetic"
)

var vocabulary = []string{"Snowflake", "Snowpark", "Cortex", "Snowpark Container Services"}

func TestMatcher_Matches(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		input   string
		want    string
		minConf float64
	}{
		// Split compound word: the space-stripped forms are identical.
		{"snow flake", "Snowflake", 0.95},
		{"SNOWPARK", "Snowpark", 0.99},
		{"cortecks", "Cortex", 0.85},
		{"snow park container services", "Snowpark Container Services", 0.95},
	}
	for _, tc := range tests {
		got, conf, ok := m.Match(tc.input, vocabulary)
		if !ok {
			t.Errorf("Match(%q): matched=false, want %q", tc.input, tc.want)
			continue
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %q, want %q", tc.input, got, tc.want)
		}
		if conf < tc.minConf {
			t.Errorf("Match(%q): confidence=%f, want >= %f", tc.input, conf, tc.minConf)
		}
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, input := range []string{"hello", "snow"} {
		got, conf, ok := m.Match(input, vocabulary)
		if ok {
			t.Errorf("Match(%q) matched %q, want no match", input, got)
		}
		if got != input || conf != 0 {
			t.Errorf("Match(%q) = (%q, %f), want input unchanged and 0", input, got, conf)
		}
	}
}

func TestMatcher_ShortInputIsNotExpanded(t *testing.T) {
	t.Parallel()

	// "snow" scores 0.89 against "snowflake" but is less than half its length.
	if got, _, ok := phonetic.New().Match("snow", []string{"Snowflake"}); ok {
		t.Errorf("Match(snow) = %q, want no match", got)
	}
	if _, _, ok := phonetic.New(phonetic.WithMinLengthRatio(0)).Match("snow", []string{"Snowflake"}); !ok {
		t.Error("with the length guard disabled, snow should reach Snowflake on similarity alone")
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, ok := m.Match("cortecks", vocabulary); ok {
		t.Fatal("Match with threshold=0.99 should reject near-matches")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if got, conf, ok := m.Match("snowpark", nil); ok || got != "snowpark" || conf != 0 {
		t.Errorf("nil vocabulary: got (%q, %f, %v)", got, conf, ok)
	}
	if got, conf, ok := m.Match("", vocabulary); ok || got != "" || conf != 0 {
		t.Errorf("empty word: got (%q, %f, %v)", got, conf, ok)
	}
	if got, _, ok := m.MatchPrepared("snowpark", nil); ok || got != "snowpark" {
		t.Errorf("nil prepared vocabulary: got (%q, %v)", got, ok)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"  ", "Cortex", "Snowpark Container Services", ""})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", v.MaxWords())
	}
	if phonetic.Prepare(nil).MaxWords() != 0 {
		t.Error("empty vocabulary should have MaxWords 0")
	}

	got, _, ok := phonetic.New().MatchPrepared("cortecks", v)
	if !ok || got != "Cortex" {
		t.Errorf("MatchPrepared(cortecks) = %q, %v", got, ok)
	}
}
