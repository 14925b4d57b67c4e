package processor

import (
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

const (
	// maxTokenLength is the longest token kept; longer ones are truncated.
	maxTokenLength = 50

	defaultSpacesClass = `\p{Z}\p{Cc}\p{Cf}\p{Co}\p{P}\p{S}`
	numbersClass       = `\p{Nd}\p{Nl}\p{No}`
	punctuationClass   = `\p{P}`
	cjkClass           = `\x{1100}-\x{11FF}\x{3040}-\x{309F}\x{30A1}-\x{318E}\x{31A0}-\x{31B7}\x{31F0}-\x{31FF}` +
		`\x{3400}-\x{4DBF}\x{4E00}-\x{9FCF}\x{A000}-\x{A48F}\x{A4D0}-\x{A4FD}\x{A960}-\x{A97F}\x{AC00}-\x{D7FF}` +
		`\x{F900}-\x{FAFF}\x{FF21}-\x{FF3A}\x{FF41}-\x{FF5A}\x{FF66}-\x{FFDC}\x{20000}-\x{2FFFD}\x{30000}-\x{3FFFD}`
)

var (
	cjkRunRe      = regexp.MustCompile(`[` + cjkClass + `]+`)
	numberGlueRe  = regexp.MustCompile(`([` + numbersClass + `]+)[` + punctuationClass + `]+([` + numbersClass + `])`)
	multiDotRe    = regexp.MustCompile(`[.-]{2,}`)
	defaultSpaces = regexp.MustCompile(`[` + defaultSpacesClass + `]+`)
)

func tokenizerDescriptor() Descriptor {
	return Descriptor{
		ID:          "tokenizer",
		Label:       "Tokenizer",
		Description: "Splits text into individual words for searching.",
		Stages:      map[Stage]int{StagePreprocessIndex: -6, StagePreprocessQuery: -6},
	}
}

// Tokenizer splits fulltext values into words.
type Tokenizer struct {
	fieldProcessing
	spaces        *regexp.Regexp
	ignored       *regexp.Regexp
	minWordSize   int
	overlapCJK    bool
	minimumCJKLen int
}

func newTokenizer(deps Deps, s Settings) (Processor, error) {
	t := &Tokenizer{
		spaces:      defaultSpaces,
		minWordSize: s.Int("minimum_word_size", 3),
		overlapCJK:  s.Bool("overlap_cjk", true),
	}
	t.minimumCJKLen = t.minWordSize
	if spaces := s.String("spaces", ""); spaces != "" {
		re, err := regexp.Compile(`[` + spaces + `]+`)
		if err != nil {
			return nil, invalidSetting("tokenizer", "spaces", err)
		}
		t.spaces = re
	}
	ignored := s.String("ignored", "._-")
	if ignored != "" {
		re, err := regexp.Compile(`[` + regexp.QuoteMeta(ignored) + `]+`)
		if err != nil {
			return nil, invalidSetting("tokenizer", "ignored", err)
		}
		t.ignored = re
	}
	t.fieldProcessing = newFieldProcessing(deps.Index, s, nil, t)
	return t, nil
}

func (t *Tokenizer) ID() string { return "tokenizer" }

func (t *Tokenizer) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	return t.preprocessIndexItems(ctx, items)
}

func (t *Tokenizer) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	t.preprocessSearchQuery(q)
	return nil
}

func (t *Tokenizer) processFieldValue(value string, _ field.Type) result {
	words := t.Tokenize(value)
	tokens := make([]field.TextToken, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, field.NewToken(w, 1))
	}
	return result{tokens: tokens}
}

func (t *Tokenizer) processKey(key string) result {
	return t.processFieldValue(key, field.TypeText)
}

func (t *Tokenizer) processConditionValue(value string) string {
	return value
}

// Tokenize simplifies text and returns the words long enough to index.
func (t *Tokenizer) Tokenize(text string) []string {
	simplified := t.simplifyText(text)
	var out []string
	for _, w := range strings.Split(simplified, " ") {
		if w == "" {
			continue
		}
		if isNumeric(w) || utf8.RuneCountInString(w) >= t.minWordSize {
			out = append(out, w)
		}
	}
	return out
}

func (t *Tokenizer) simplifyText(text string) string {
	text = html.UnescapeString(text)
	if t.overlapCJK {
		text = cjkRunRe.ReplaceAllStringFunc(text, t.expandCJK)
	}
	for {
		glued := numberGlueRe.ReplaceAllString(text, "$1$2")
		if glued == text {
			break
		}
		text = glued
	}
	text = multiDotRe.ReplaceAllString(text, " ")
	if t.ignored != nil {
		text = t.ignored.ReplaceAllString(text, "")
	}
	text = t.spaces.ReplaceAllString(text, " ")

	words := strings.Split(text, " ")
	for i, w := range words {
		if utf8.RuneCountInString(w) > maxTokenLength {
			words[i] = string([]rune(w)[:maxTokenLength])
		}
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// expandCJK splits a run of CJK characters into overlapping windows, since
// those scripts do not separate words with spaces.
func (t *Tokenizer) expandCJK(run string) string {
	chars := []rune(run)
	n := t.minimumCJKLen
	if n < 1 {
		n = 1
	}
	if len(chars) <= n {
		return " " + run + " "
	}
	windows := make([]string, 0, len(chars)-n+1)
	for i := 0; i+n <= len(chars); i++ {
		windows = append(windows, string(chars[i:i+n]))
	}
	return " " + strings.Join(windows, " ") + " "
}

func isNumeric(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	for _, r := range s {
		if !unicode.IsNumber(r) {
			return false
		}
	}
	return s != ""
}
