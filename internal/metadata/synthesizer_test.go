package metadata

import (
	"reflect"
	"strings"
	"testing"
)

func newTestSynth(opts Options) *Synthesizer {
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	return NewSynthesizer(opts)
}

func TestSynthesizer_SeedIsDeterministic(t *testing.T) {
	a := newTestSynth(Options{Seed: 7})
	b := newTestSynth(Options{Seed: 7})
	if a.Title() != b.Title() {
		t.Error("titles differ for the same seed")
	}
	if a.Description() != b.Description() {
		t.Error("descriptions differ for the same seed")
	}
	if ta, tb := a.Tags(5, "music"), b.Tags(5, "music"); !reflect.DeepEqual(ta, tb) {
		t.Errorf("tags differ for the same seed: %v vs %v", ta, tb)
	}
}

func TestSynthesizer_OutputsVary(t *testing.T) {
	s := newTestSynth(Options{})
	titles := map[string]bool{}
	for i := 0; i < 20; i++ {
		title := s.Title()
		if title == "" || strings.Contains(title, "{") {
			t.Fatalf("bad title %q", title)
		}
		titles[title] = true
	}
	if len(titles) < 2 {
		t.Errorf("20 titles, %d distinct", len(titles))
	}
	if s.Description() == "" {
		t.Error("empty description")
	}
}

func TestSynthesizer_Tags(t *testing.T) {
	s := newTestSynth(Options{MinTags: 3, MaxTags: 8})

	for i := 0; i < 20; i++ {
		tags := s.Tags(0, "")
		if len(tags) < 3 || len(tags) > 8 {
			t.Errorf("got %d tags, want 3..8", len(tags))
		}

		seen := map[string]bool{}
		for _, tag := range tags {
			if strings.ToLower(tag) != tag {
				t.Errorf("tag %q is not lowercase", tag)
			}
			if seen[tag] {
				t.Errorf("duplicate tag %q", tag)
			}
			seen[tag] = true
		}
	}

	if n := len(s.Tags(5, "tech")); n != 5 {
		t.Errorf("Tags(5) returned %d", n)
	}
}

func TestSynthesizer_CategoryPool(t *testing.T) {
	s := newTestSynth(Options{})
	tags := s.Tags(6, "Gaming")

	pool := map[string]bool{}
	for _, tag := range categoryTags["gaming"] {
		pool[tag] = true
	}
	for _, tag := range tags {
		if pool[tag] {
			return
		}
	}
	t.Errorf("no gaming tag in %v", tags)
}

func TestSynthesizer_Complete(t *testing.T) {
	c := newTestSynth(Options{Category: "travel"}).Complete("")
	if c.Title == "" || c.Description == "" || len(c.Tags) == 0 {
		t.Errorf("incomplete caption %+v", c)
	}
}

func TestSynthesizer_FillKeepsUserParts(t *testing.T) {
	s := newTestSynth(Options{RandomTitles: true, RandomDescriptions: true, RandomTags: true})
	in := Caption{Title: "Mine", Description: "My words", Tags: []string{"Keep"}}

	if out := s.Fill(in, "clip.mp4"); !reflect.DeepEqual(out, in) {
		t.Errorf("Fill = %+v, want %+v", out, in)
	}
}

func TestSynthesizer_FillGaps(t *testing.T) {
	s := newTestSynth(Options{RandomTitles: true, RandomDescriptions: true, RandomTags: true})
	out := s.Fill(Caption{Title: "Only a title"}, "")
	if out.Title != "Only a title" {
		t.Errorf("title = %q", out.Title)
	}
	if out.Description == "" || len(out.Tags) == 0 {
		t.Errorf("gaps not filled: %+v", out)
	}
}

func TestSynthesizer_FillWithoutRandomness(t *testing.T) {
	s := newTestSynth(Options{})

	out := s.Fill(Caption{}, "holiday.mp4")
	if out.Title != "holiday.mp4" || out.Description != "" {
		t.Errorf("Fill = %+v", out)
	}
	if !reflect.DeepEqual(out.Tags, []string{"video"}) {
		t.Errorf("tags = %v, want [video]", out.Tags)
	}

	if out = s.Fill(Caption{}, "  "); out.Title == "" {
		t.Error("title must never be empty")
	}
}
