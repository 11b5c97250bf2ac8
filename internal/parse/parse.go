// Package parse extracts structured data from loosely formatted generator output.
//
// Every entry point follows the same grammar: strict parse of the whole text,
// then relaxed extraction (fenced ```json blocks, the outermost {...} region,
// protocol tags), then ErrMalformed. Callers decide what to substitute on error;
// nothing in this package panics or retries.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned when no usable content can be extracted.
var ErrMalformed = errors.New("malformed generator output")

// PassToken is the in-text marker an actor uses to yield its turn.
const PassToken = "[PASS]"

// Marker names, matching the blackboard turn markers.
const (
	markerSceneEnd = "scene_end"
	markerPass     = "pass"
)

// An actor reporting willingness below reluctantWillingness with fewer than
// minSpokenRunes of content has passed rather than spoken.
const (
	reluctantWillingness = 4
	minSpokenRunes       = 5
)

var (
	fencePattern       = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	contentTagPattern  = regexp.MustCompile(`(?is)\[CONTENT\]\s*:?\s*(.*)$`)
	thoughtTagPattern  = regexp.MustCompile(`(?is)\[THOUGHT\]\s*:?\s*(.*?)\s*(?:\[WILLINGNESS\]|\[CONTENT\]|$)`)
	willingTagPattern  = regexp.MustCompile(`(?i)\[WILLINGNESS\]\s*:?\s*(\d+)`)
	speakerPrefixRegex = regexp.MustCompile(`^\[[^\]\n]{1,40}\]:\s*`)
)

// Utterance is an actor's parsed output.
type Utterance struct {
	Content     string
	Thought     string
	Action      string
	Willingness int // -1 when not stated
	Markers     []string
	Strict      bool // true when the whole text was a valid action object
}

// HasMarker reports whether the utterance carries marker.
func (u *Utterance) HasMarker(marker string) bool {
	for _, m := range u.Markers {
		if m == marker {
			return true
		}
	}
	return false
}

// actionObject is the JSON shape actors may answer with.
type actionObject struct {
	Content     string `json:"content"`
	Text        string `json:"text"`
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Willingness *int   `json:"willingness"`
	IsFinished  bool   `json:"is_finished"`
	Pass        bool   `json:"pass"`
}

func (o *actionObject) meaningful() bool {
	return o.Content != "" || o.Text != "" || o.Action != "" || o.IsFinished || o.Pass ||
		o.Thought != "" || o.Willingness != nil
}

// ParseUtterance extracts an utterance from raw actor output. endMarker is the
// scene's end-of-scene token (e.g. "[SCENE_END]"); it is stripped from the
// content and reported as a scene_end marker.
func ParseUtterance(raw, endMarker string) (Utterance, error) {
	u := Utterance{Willingness: -1}
	text := strings.TrimSpace(raw)
	if text == "" {
		return u, fmt.Errorf("%w: empty output", ErrMalformed)
	}

	var obj actionObject
	switch {
	case decodeStrict(text, &obj) && obj.meaningful():
		u.Strict = true
		u.applyObject(obj)
	case decodeRelaxed(text, &obj) && obj.meaningful():
		u.applyObject(obj)
	case looksLikeJSON(text):
		return u, fmt.Errorf("%w: unparseable JSON object", ErrMalformed)
	default:
		u.applyTags(text)
	}

	u.Content = u.extractMarkers(u.Content, endMarker)
	u.Content = strings.TrimSpace(speakerPrefixRegex.ReplaceAllString(u.Content, ""))
	if u.declined() {
		u.Content = ""
		u.addMarker(markerPass)
	}

	if u.Content == "" && len(u.Markers) == 0 {
		return u, fmt.Errorf("%w: no content", ErrMalformed)
	}
	return u, nil
}

// JSON decodes the first JSON object found in raw into v using the
// strict-then-relaxed grammar.
func JSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fmt.Errorf("%w: empty output", ErrMalformed)
	}
	if decodeStrict(text, v) || decodeRelaxed(text, v) {
		return nil
	}
	return fmt.Errorf("%w: no JSON object found", ErrMalformed)
}

func (u *Utterance) applyObject(obj actionObject) {
	u.Content = obj.Content
	if u.Content == "" {
		u.Content = obj.Text
	}
	u.Thought = strings.TrimSpace(obj.Thought)
	u.Action = strings.TrimSpace(obj.Action)
	if obj.Willingness != nil {
		u.Willingness = *obj.Willingness
	}
	if obj.IsFinished {
		u.addMarker(markerSceneEnd)
	}
	if obj.Pass || strings.EqualFold(u.Action, "pass") {
		u.addMarker(markerPass)
	}
}

// applyTags handles the [THOUGHT]/[WILLINGNESS]/[CONTENT] protocol and plain text.
func (u *Utterance) applyTags(text string) {
	if m := thoughtTagPattern.FindStringSubmatch(text); m != nil {
		u.Thought = strings.TrimSpace(m[1])
	}
	if m := willingTagPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			u.Willingness = n
		}
	}
	if m := contentTagPattern.FindStringSubmatch(text); m != nil {
		u.Content = m[1]
		return
	}
	if u.Thought != "" || u.Willingness >= 0 {
		// Tagged output without a content section says nothing aloud
		u.Content = ""
		return
	}
	u.Content = text
}

// declined reports whether willingness-protocol output amounts to a pass: tags
// with nothing to say, or low willingness with next to nothing said.
func (u *Utterance) declined() bool {
	tagged := u.Thought != "" || u.Willingness >= 0
	if tagged && u.Content == "" {
		return true
	}
	return u.Willingness >= 0 && u.Willingness < reluctantWillingness &&
		utf8.RuneCountInString(u.Content) < minSpokenRunes
}

func (u *Utterance) extractMarkers(content, endMarker string) string {
	if endMarker != "" && strings.Contains(content, endMarker) {
		content = strings.ReplaceAll(content, endMarker, "")
		u.addMarker(markerSceneEnd)
	}
	if strings.Contains(content, PassToken) {
		content = strings.ReplaceAll(content, PassToken, "")
		u.addMarker(markerPass)
	}
	return strings.TrimSpace(content)
}

func (u *Utterance) addMarker(marker string) {
	if !u.HasMarker(marker) {
		u.Markers = append(u.Markers, marker)
	}
}

func decodeStrict(text string, v any) bool {
	if !strings.HasPrefix(text, "{") {
		return false
	}
	return json.Unmarshal([]byte(text), v) == nil
}

func decodeRelaxed(text string, v any) bool {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if decodeStrict(strings.TrimSpace(m[1]), v) {
			return true
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(text[start:end+1]), v) == nil
}

func looksLikeJSON(text string) bool {
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "```json")
}
