// Package skills routes utterances to auxiliary lookups and builds the
// prompt the model answers.
package skills

import (
	"regexp"
	"strings"
)

// Capability is one optional skill backend.
type Capability uint8

const (
	Weather Capability = 1 << iota
	News
	Search
	Tasks
)

func (c Capability) String() string {
	switch c {
	case Weather:
		return "weather"
	case News:
		return "news"
	case Search:
		return "search"
	case Tasks:
		return "tasks"
	default:
		return "unknown"
	}
}

// Capabilities is the set of skill backends configured for a session.
type Capabilities uint8

func NewCapabilities(cs ...Capability) Capabilities {
	var out Capabilities
	for _, c := range cs {
		out |= Capabilities(c)
	}
	return out
}

func (cs Capabilities) Has(c Capability) bool {
	return cs&Capabilities(c) != 0
}

func (cs Capabilities) List() []string {
	var out []string
	for _, c := range []Capability{Weather, News, Search, Tasks} {
		if cs.Has(c) {
			out = append(out, c.String())
		}
	}
	return out
}

type Kind int

const (
	KindNone Kind = iota
	KindWeather
	KindCreateTask
	KindNews
	KindSearch
)

func (k Kind) String() string {
	switch k {
	case KindWeather:
		return "weather"
	case KindCreateTask:
		return "create_task"
	case KindNews:
		return "news"
	case KindSearch:
		return "search"
	default:
		return "none"
	}
}

// Intent is the skill chosen for one utterance. Only the field for Kind is set.
type Intent struct {
	Kind     Kind
	Location string
	Query    string
	Content  string
}

var (
	weatherKeywords = []string{"weather", "temperature", "forecast", "how hot", "is it raining", "how cold"}
	// Ordered longest first so removal never leaves a fragment of a longer phrase.
	taskKeywords   = []string{"add to my list", "set a reminder to", "reminder to", "remind me to", "remember to", "create task", "make a note", "add task", "reminder", "todo"}
	newsKeywords   = []string{"news", "headlines", "latest", "what's happening", "what's new"}
	searchKeywords = []string{"search", "look up", "find", "latest", "current", "news", "what is"}

	locationPattern = regexp.MustCompile(`\b(?:[Ii]n|[Ff]or|[Aa]t|[Oo]f)\s+([A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*)`)
	apostrophes     = strings.NewReplacer("’", "'", "‘", "'")
	taskPatterns    = foldPatterns(taskKeywords)
)

func foldPatterns(keywords []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
	}
	return out
}

// Classify maps an utterance to at most one intent. Checks run in priority
// order (weather, task, news, search) and skip capabilities not in caps.
func Classify(text string, caps Capabilities) Intent {
	normalized := apostrophes.Replace(text)
	lower := strings.ToLower(normalized)

	if caps.Has(Weather) && containsAny(lower, weatherKeywords) {
		return Intent{Kind: KindWeather, Location: extractLocation(normalized)}
	}
	if caps.Has(Tasks) && containsAny(lower, taskKeywords) {
		return Intent{Kind: KindCreateTask, Content: extractTaskContent(normalized)}
	}
	if caps.Has(News) && containsAny(lower, newsKeywords) {
		return Intent{Kind: KindNews, Query: text}
	}
	if caps.Has(Search) && containsAny(lower, searchKeywords) {
		return Intent{Kind: KindSearch, Query: text}
	}
	return Intent{Kind: KindNone}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func extractLocation(text string) string {
	if m := locationPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	words := strings.Fields(text)
	if n := len(words); n >= 2 && strings.ToLower(strings.Trim(words[n-2], ".,!?;:")) == "weather" {
		return strings.Trim(words[n-1], ".,!?;:'\"")
	}
	return ""
}

func extractTaskContent(text string) string {
	out := text
	for _, re := range taskPatterns {
		out = re.ReplaceAllString(out, " ")
	}
	return strings.Trim(strings.Join(strings.Fields(out), " "), " \t.,:;-")
}
