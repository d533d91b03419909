// Package chunker splits raw chapter text into bounded-size records with
// deterministic metadata, so re-ingesting the same source yields the same
// records.
package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

// Source is one raw input document plus its provenance.
type Source struct {
	Name    string // file identifier, e.g. "The Cardiovascular System.txt"
	Chapter string // chapter label; derived from Name when empty
	Text    string
}

// Chunker produces Record drafts (no embedding yet) from source text.
type Chunker struct {
	minChars int
	maxChars int
	sentence *regexp.Regexp
	cleaners []*regexp.Regexp
	now      func() time.Time
}

// Boundary artifacts stripped before chunking: page headers, copyright
// notices, figure and table references left over from PDF extraction.
var defaultCleaners = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*Page\s+\d+\s*$`),
	regexp.MustCompile(`(?m)^\s*\d+\s*$`),
	regexp.MustCompile(`(?mi)^.*copyright\s+©?.*$`),
	regexp.MustCompile(`(?mi)^.*all rights reserved.*$`),
	regexp.MustCompile(`(?i)\((?:see\s+)?(?:fig|figure|table)\.?\s*[\d.-]+\)`),
}

func New(minChars, maxChars int) *Chunker {
	if minChars <= 0 {
		minChars = 150
	}
	if maxChars <= minChars {
		maxChars = 1200
	}
	return &Chunker{
		minChars: minChars,
		maxChars: maxChars,
		sentence: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
		cleaners: defaultCleaners,
		now:      time.Now,
	}
}

// Chunk splits the source into records whose content falls within the
// configured window, preferring sentence boundaries over hard cuts.
// Whitespace-only input yields no records and no error.
func (c *Chunker) Chunk(src Source) ([]domain.Record, error) {
	chapter := src.Chapter
	if chapter == "" {
		chapter = ChapterLabel(src.Name)
	}
	text := c.clean(src.Text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pieces := c.split(text)
	records := make([]domain.Record, 0, len(pieces))
	now := c.now().UTC()
	for i, content := range pieces {
		rec := domain.Record{
			ID:         domain.RecordID(src.Name, chapter, i),
			Kind:       domain.KindTextbook,
			Source:     "Nelson Textbook of Pediatrics",
			Content:    content,
			Chapter:    chapter,
			Section:    sectionTitle(content, chapter, i),
			PageNumber: i + 1,
			Category:   CategoryFor(chapter),
			AgeGroup:   AgeGroupFor(content),
			Keywords:   ExtractKeywords(content),
			Metadata:   contentFlags(content),
		}
		rec.Touch(now)
		records = append(records, rec)
	}
	return records, nil
}

func (c *Chunker) clean(text string) string {
	for _, re := range c.cleaners {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

// split accumulates sentences into windows of minChars to maxChars. A window
// still below minChars when the next sentence would overflow it is carried
// into that sentence rather than emitted, so only the trailing chunk of a
// degenerate input may fall short. Oversized stretches fall back to hard
// character cuts.
func (c *Chunker) split(text string) []string {
	sentences := c.sentence.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}

	var chunks []string
	cur := ""
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		joined := s
		if cur != "" {
			joined = cur + " " + s
		}
		if len(joined) <= c.maxChars {
			cur = joined
			continue
		}
		if len(cur) >= c.minChars {
			chunks = append(chunks, cur)
			joined = s
		}
		if len(joined) > c.maxChars {
			pieces := c.hardCut(joined)
			chunks = append(chunks, pieces[:len(pieces)-1]...)
			joined = pieces[len(pieces)-1]
		}
		cur = joined
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}

	if n := len(chunks); n > 1 && len(chunks[n-1]) < c.minChars {
		merged := chunks[n-2] + " " + chunks[n-1]
		if len(merged) <= c.maxChars {
			chunks = append(chunks[:n-2], merged)
		}
	}
	return chunks
}

// hardCut splits an oversized stretch at character boundaries, preferring
// spaces. The cut is pulled back when it would strand a remainder shorter
// than minChars.
func (c *Chunker) hardCut(s string) []string {
	var out []string
	for len(s) > c.maxChars {
		cut := c.maxChars
		if rest := len(s) - cut; rest < c.minChars && len(s)-c.minChars > c.minChars {
			cut = len(s) - c.minChars
		}
		if idx := strings.LastIndexByte(s[:cut], ' '); idx > cut/2 {
			cut = idx
		}
		out = append(out, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

var sectionHintRe = regexp.MustCompile(`(?i)\b(treatment|diagnosis|symptoms|pathophysiology|epidemiology|management|prognosis)\b`)

// sectionTitle promotes a short leading line naming a clinical section;
// otherwise it falls back to a positional label.
func sectionTitle(content, chapter string, index int) string {
	firstLine := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		firstLine = content[:i]
	}
	firstLine = strings.TrimSpace(firstLine)
	if len(firstLine) > 0 && len(firstLine) < 100 && sectionHintRe.MatchString(firstLine) {
		return firstLine
	}
	return chapter + " - Part " + strconv.Itoa(index+1)
}

func contentFlags(content string) map[string]any {
	lower := strings.ToLower(content)
	has := func(terms ...string) bool {
		for _, t := range terms {
			if strings.Contains(lower, t) {
				return true
			}
		}
		return false
	}
	return map[string]any{
		"word_count":          len(strings.Fields(content)),
		"has_dosing_info":     has("dose", "dosage", "mg/kg", "administration"),
		"has_diagnostic_info": has("diagnosis", "symptoms", "signs", "clinical"),
		"has_treatment_info":  has("treatment", "therapy", "management", "intervention"),
	}
}

// ChapterLabel turns a source file name into a chapter label.
func ChapterLabel(name string) string {
	name = strings.TrimSuffix(name, ".txt")
	return strings.ReplaceAll(name, "_", " ")
}
