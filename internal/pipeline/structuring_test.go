package pipeline

import (
	"testing"

	"github.com/jackzampolin/stacks/internal/work"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"The methods used in this study include a two-step protocol.", work.SegmentMethodology},
		{"Our results show a significant effect.", work.SegmentResults},
		{"This paper introduces a new framework; background follows.", work.SegmentIntroduction},
		{"We discuss limitations and future work.", work.SegmentDiscussion},
		{"Miscellaneous notes about the dataset.", work.SegmentGeneral},
	}
	for _, tt := range tests {
		if got := classify(tt.text); got != tt.want {
			t.Errorf("classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestSegmentize(t *testing.T) {
	t.Run("classifies each provided segment", func(t *testing.T) {
		segs := segmentize(&work.AnalysisResult{
			Summary: "overall",
			Segments: []string{
				"The methodology applied a standard protocol.",
				"Results indicate improvement.",
				"We discuss the implications.",
			},
		})
		if len(segs) != 3 {
			t.Fatalf("got %d segments, want 3", len(segs))
		}
		wantKinds := []string{work.SegmentMethodology, work.SegmentResults, work.SegmentDiscussion}
		for i, seg := range segs {
			if seg.Kind != wantKinds[i] {
				t.Errorf("segment %d kind = %s, want %s", i, seg.Kind, wantKinds[i])
			}
			if seg.Index != i {
				t.Errorf("segment %d index = %d", i, seg.Index)
			}
		}
	})

	t.Run("fewer than two segments collapse to summary", func(t *testing.T) {
		segs := segmentize(&work.AnalysisResult{
			Summary:  "A single-paragraph summary.",
			Segments: []string{"Only one part."},
		})
		if len(segs) != 1 {
			t.Fatalf("got %d segments, want 1", len(segs))
		}
		if segs[0].Kind != work.SegmentSummary {
			t.Errorf("kind = %s, want summary", segs[0].Kind)
		}
		if segs[0].Text != "A single-paragraph summary." {
			t.Errorf("text = %q, want the analysis summary", segs[0].Text)
		}
	})

	t.Run("summary split into paragraphs when no segments given", func(t *testing.T) {
		segs := segmentize(&work.AnalysisResult{
			Summary: "The method was simple.\n\nThe results were clear.",
		})
		if len(segs) != 2 {
			t.Fatalf("got %d segments, want 2", len(segs))
		}
	})

	t.Run("blank parts are dropped", func(t *testing.T) {
		segs := segmentize(&work.AnalysisResult{
			Summary:  "s",
			Segments: []string{"  ", "", "The results were measured.", "Discussion of limitations."},
		})
		if len(segs) != 2 {
			t.Fatalf("got %d segments, want 2", len(segs))
		}
	})
}
