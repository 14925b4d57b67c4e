package processor

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

var invisibleTags = []string{
	"applet", "audio", "canvas", "command", "embed", "iframe", "map", "menu",
	"noembed", "noframes", "noscript", "script", "style", "svg", "video",
}

var (
	invisibleRes = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(invisibleTags))
		for i, tag := range invisibleTags {
			out[i] = regexp.MustCompile(`(?is)<` + tag + `\b[^>]*>.*?</` + tag + `\s*>`)
		}
		return out
	}()
	titleAttrRe  = regexp.MustCompile(`(?i)(<[-a-z_]+[^>]*)\stitle\s*=\s*("([^"]+)"|'([^']+)')([^>]*>)`)
	altAttrRe    = regexp.MustCompile(`(?i)<img\s[^>]*alt\s*=\s*("([^"]+)"|'([^']+)')[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func htmlFilterDescriptor() Descriptor {
	return Descriptor{
		ID:          "html_filter",
		Label:       "HTML filter",
		Description: "Strips HTML tags from fulltext fields and decodes HTML entities.",
		Stages:      map[Stage]int{StagePreIndexSave: -15, StagePreprocessIndex: -15, StagePreprocessQuery: -15},
	}
}

func defaultTagBoosts() map[string]float64 {
	return map[string]float64{"b": 2, "h1": 5, "h2": 3, "h3": 2, "strong": 2}
}

// HTMLFilter removes markup, optionally boosting text inside selected tags.
type HTMLFilter struct {
	fieldProcessing
	title  bool
	alt    bool
	tags   map[string]float64
	policy *bluemonday.Policy
}

func newHTMLFilter(deps Deps, s Settings) (Processor, error) {
	h := &HTMLFilter{
		title:  s.Bool("title", false),
		alt:    s.Bool("alt", true),
		tags:   s.Floats("tags", defaultTagBoosts()),
		policy: bluemonday.StrictPolicy(),
	}
	for tag, boost := range h.tags {
		if boost < 0 {
			return nil, invalidSetting("html_filter", "tags", errNegativeBoost(tag))
		}
	}
	h.fieldProcessing = newFieldProcessing(deps.Index, s, nil, h)
	return h, nil
}

type errNegativeBoost string

func (e errNegativeBoost) Error() string { return "negative boost for tag " + string(e) }

func (h *HTMLFilter) ID() string { return "html_filter" }

// PreIndexSave drops configured fields that no longer exist.
func (h *HTMLFilter) PreIndexSave(idx Index) error {
	for id := range h.fields {
		if _, ok := idx.Field(id); !ok {
			delete(h.fields, id)
		}
	}
	return nil
}

func (h *HTMLFilter) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	return h.preprocessIndexItems(ctx, items)
}

func (h *HTMLFilter) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	h.preprocessSearchQuery(q)
	return nil
}

func (h *HTMLFilter) processFieldValue(value string, t field.Type) result {
	text := value
	for _, re := range invisibleRes {
		text = re.ReplaceAllString(text, " ")
	}
	isText := t.IsText()
	if isText {
		text = strings.NewReplacer("<", " <", ">", "> ").Replace(text)
		if h.title {
			text = titleAttrRe.ReplaceAllString(text, "${1} ${5} ${3}${4} ")
		}
		if h.alt {
			text = altAttrRe.ReplaceAllString(text, " <img>${2}${3}</img> ")
		}
	}
	if isText && len(h.tags) > 0 {
		return result{tokens: h.parseHTML(text)}
	}
	return textResult(h.stripTags(text))
}

func (h *HTMLFilter) processKey(key string) result {
	return textResult(h.stripTags(key))
}

func (h *HTMLFilter) processConditionValue(value string) string {
	return h.stripTags(value)
}

func (h *HTMLFilter) stripTags(text string) string {
	return normalizeText(h.policy.Sanitize(text))
}

type boostFrame struct {
	tag   string
	boost float64
}

// parseHTML emits one token per text run, boosted by the enclosing
// configured tags. Text under a tag with boost 0 is dropped.
func (h *HTMLFilter) parseHTML(text string) []field.TextToken {
	tokens := []field.TextToken{}
	stack := []boostFrame{{boost: 1}}
	z := nethtml.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return tokens
		case nethtml.TextToken:
			boost := stack[len(stack)-1].boost
			if s := normalizeText(string(z.Text())); s != "" && boost > 0 {
				tokens = append(tokens, field.NewToken(s, boost))
			}
		case nethtml.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if b, ok := h.tags[tag]; ok {
				stack = append(stack, boostFrame{tag: tag, boost: stack[len(stack)-1].boost * b})
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].tag == tag {
					stack = stack[:i]
					break
				}
			}
		}
	}
}

func normalizeText(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
