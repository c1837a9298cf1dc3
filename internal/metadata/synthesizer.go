package metadata

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titlePatterns = []string{
	"Must See: {adj} {noun}",
	"{adj} {noun} of the Day",
	"Upload #{num}",
	"Today's {noun}: {adj} and Unfiltered",
	"The {adj} {noun} You Missed",
	"{noun} Drop #{num}",
	"Recorded {date}",
	"A {adj} Little {noun}",
	"Fresh {noun}, {adj} Edition",
	"Clip #{num}: {adj} {noun}",
	"Straight From the Camera: {noun}",
	"{adj} Moments, Part {small}",
}

var adjectives = []string{
	"Wild", "Quiet", "Unexpected", "Bold", "Rare", "Honest", "Raw", "Classic",
	"Bright", "Curious", "Lucky", "Brilliant", "Golden", "Restless", "Vivid",
	"Epic", "Simple", "Strange", "Fearless", "Calm",
}

var nouns = []string{
	"Clip", "Footage", "Moment", "Story", "Take", "Scene", "Recording",
	"Highlight", "Session", "Episode", "Reel", "Adventure", "Walkthrough",
	"Review", "Journey", "Snapshot", "Segment", "Short",
}

var descriptionPatterns = []string{
	"{s1} {s2} Thanks for watching!",
	"Shared straight from the phone. {s1} {s2}",
	"{s1} {s2} Let us know what you think in the comments.",
	"Another upload for the collection. {s1} {s2} More soon.",
	"{s1} {s2} Like and follow for more videos like this.",
	"Quick one today. {s1} {s2}",
}

var commonTags = []string{
	"video", "clip", "daily", "upload", "new", "watch", "original", "footage",
	"fun", "trending", "share", "moments", "highlights", "community", "live",
	"real", "today", "fresh", "story", "hd",
}

var categoryTags = map[string][]string{
	"gaming":    {"gaming", "gameplay", "gamer", "stream", "esports", "letsplay", "console"},
	"music":     {"music", "song", "cover", "beat", "live", "acoustic", "melody"},
	"comedy":    {"funny", "comedy", "humor", "prank", "jokes", "meme", "laugh"},
	"education": {"learn", "tutorial", "howto", "explained", "tips", "lesson", "science"},
	"tech":      {"tech", "gadgets", "review", "unboxing", "setup", "software", "hardware"},
	"lifestyle": {"vlog", "lifestyle", "routine", "dayinthelife", "home", "food", "family"},
	"sports":    {"sports", "fitness", "workout", "training", "match", "goals", "athlete"},
	"travel":    {"travel", "explore", "roadtrip", "adventure", "citywalk", "nature", "vacation"},
}

// Categories returns the names of the category tag pools.
func Categories() []string {
	out := make([]string, 0, len(categoryTags))
	for k := range categoryTags {
		out = append(out, k)
	}
	return out
}

// Options configures a Synthesizer. A zero Seed picks a time-based seed.
type Options struct {
	Seed               int64
	RandomTitles       bool
	RandomDescriptions bool
	RandomTags         bool
	MinTags            int
	MaxTags            int
	Category           string
	Logger             *slog.Logger
}

// Synthesizer makes up filler titles, descriptions and tags.
type Synthesizer struct {
	mu     sync.Mutex
	fake   *gofakeit.Faker
	opts   Options
	lower  cases.Caser
	logger *slog.Logger
}

func NewSynthesizer(opts Options) *Synthesizer {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.MinTags < 1 {
		opts.MinTags = 3
	}
	if opts.MaxTags < opts.MinTags {
		opts.MaxTags = max(8, opts.MinTags)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Synthesizer{
		fake:   gofakeit.New(opts.Seed),
		opts:   opts,
		lower:  cases.Lower(language.Und),
		logger: opts.Logger,
	}
}

func (s *Synthesizer) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title()
}

func (s *Synthesizer) title() string {
	r := strings.NewReplacer(
		"{adj}", s.pick(adjectives),
		"{noun}", s.pick(nouns),
		"{num}", fmt.Sprint(s.fake.IntRange(1, 9999)),
		"{small}", fmt.Sprint(s.fake.IntRange(2, 12)),
		"{date}", s.fake.Date().Format("January 2, 2006"),
	)
	return r.Replace(s.pick(titlePatterns))
}

func (s *Synthesizer) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.description()
}

func (s *Synthesizer) description() string {
	r := strings.NewReplacer(
		"{s1}", s.fake.Sentence(s.fake.IntRange(6, 12)),
		"{s2}", s.fake.Sentence(s.fake.IntRange(6, 12)),
	)
	return r.Replace(s.pick(descriptionPatterns))
}

// Tags returns count distinct lowercase tags; count <= 0 picks a random count
// within the configured range. Up to three come from the category pool when
// category is known.
func (s *Synthesizer) Tags(count int, category string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags(count, category)
}

func (s *Synthesizer) tags(count int, category string) []string {
	if count <= 0 {
		count = s.fake.IntRange(s.opts.MinTags, s.opts.MaxTags)
	}
	seen := make(map[string]bool, count)
	out := make([]string, 0, count)
	add := func(t string) {
		t = s.lower.String(strings.TrimSpace(t))
		if len(t) < 3 || seen[t] || len(out) >= count {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	for _, t := range s.sample(commonTags, min(count/2, 4)) {
		add(t)
	}
	if pool, ok := categoryTags[s.lower.String(category)]; ok {
		for _, t := range s.sample(pool, min(count-len(out), 3)) {
			add(t)
		}
	}
	for guard := 0; len(out) < count && guard < count*20; guard++ {
		if s.fake.Bool() {
			add(s.pick(commonTags))
		} else {
			add(s.fake.Word())
		}
	}
	if len(out) == 0 {
		out = append(out, "video")
	}
	return out
}

// Complete makes up a full caption.
func (s *Synthesizer) Complete(category string) Caption {
	s.mu.Lock()
	defer s.mu.Unlock()
	if category == "" {
		category = s.opts.Category
	}
	return Caption{
		Title:       s.title(),
		Description: s.description(),
		Tags:        s.tags(0, category),
	}
}

// Fill keeps every part the user supplied and fills the gaps according to
// the Random* switches. The title is never empty: without random titles it
// falls back to fallbackTitle. At least one tag is always returned.
func (s *Synthesizer) Fill(c Caption, fallbackTitle string) Caption {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Caption{Title: c.Title, Description: c.Description, Tags: append([]string(nil), c.Tags...)}
	if out.Title == "" {
		fallbackTitle = strings.TrimSpace(fallbackTitle)
		if s.opts.RandomTitles || fallbackTitle == "" {
			out.Title = s.title()
		} else {
			out.Title = fallbackTitle
		}
	}
	if out.Description == "" && s.opts.RandomDescriptions {
		out.Description = s.description()
	}
	if len(out.Tags) == 0 {
		if s.opts.RandomTags {
			out.Tags = s.tags(0, s.opts.Category)
		} else {
			out.Tags = []string{"video"}
		}
	}
	s.logger.Debug("metadata ready",
		"title_from_user", c.Title != "",
		"description_from_user", c.Description != "",
		"tags_from_user", len(c.Tags) > 0,
	)
	return out
}

func (s *Synthesizer) pick(list []string) string {
	return list[s.fake.IntRange(0, len(list)-1)]
}

// sample returns n distinct entries of list in random order.
func (s *Synthesizer) sample(list []string, n int) []string {
	if n <= 0 {
		return nil
	}
	idx := make([]int, len(list))
	for i := range idx {
		idx[i] = i
	}
	s.fake.ShuffleInts(idx)
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = list[idx[i]]
	}
	return out
}
