// Package formatter shapes the raw outputs of a run into the answer the task
// asks for: an ordered list, or an object keyed by the task's questions.
package formatter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Output is one value a run produced.
type Output struct {
	Value any
	// Bookkeeping marks status messages such as "stored as df_1" that are
	// never part of an answer.
	Bookkeeping bool
}

var (
	objectHint = regexp.MustCompile(`(?i)json\s+object`)
	arrayHint  = regexp.MustCompile(`(?i)json\s+array`)
	listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
)

// Format returns the answer for task built from outputs. It never fails: when
// keys and results cannot be paired it returns an object with an "error" and
// the raw "results".
func Format(task string, outputs []Output) any {
	results := Results(outputs)

	keys, keyed := Keys(task)
	if !keyed {
		return results
	}
	if len(keys) == 0 {
		return map[string]any{
			"error":   "a JSON object was requested but no question keys were found in the request",
			"results": results,
		}
	}
	if len(keys) != len(results) {
		return map[string]any{
			"error":   fmt.Sprintf("found %d question keys but %d results", len(keys), len(results)),
			"results": results,
		}
	}

	answer := make(map[string]any, len(keys))
	for i, k := range keys {
		answer[k] = results[i]
	}
	return answer
}

// Results drops bookkeeping outputs and returns the rest in order.
func Results(outputs []Output) []any {
	results := []any{}
	for _, o := range outputs {
		if o.Bookkeeping {
			continue
		}
		results = append(results, o.Value)
	}
	return results
}

// Keys extracts answer keys from task. keyed reports whether task asks for a
// keyed object at all. An explicit array request without an object request
// is never keyed. An embedded JSON object or array of strings supplies the
// keys literally; otherwise every line holding a question is a key.
func Keys(task string) (keys []string, keyed bool) {
	if arrayHint.MatchString(task) && !objectHint.MatchString(task) {
		return nil, false
	}
	if embedded, isObject, ok := embeddedKeys(task); ok {
		return embedded, isObject || objectHint.MatchString(task)
	}
	if !objectHint.MatchString(task) {
		return nil, false
	}
	for _, line := range strings.Split(task, "\n") {
		if !strings.Contains(line, "?") {
			continue
		}
		key := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, true
}

// embeddedKeys scans task for the first JSON object or array of strings and
// returns its keys or elements.
func embeddedKeys(task string) (keys []string, isObject, ok bool) {
	for i := 0; i < len(task); i++ {
		switch task[i] {
		case '{':
			if keys, err := objectKeys(task[i:]); err == nil && len(keys) > 0 {
				return keys, true, true
			}
		case '[':
			var list []string
			dec := json.NewDecoder(strings.NewReader(task[i:]))
			if err := dec.Decode(&list); err == nil && len(list) > 0 {
				return list, false, true
			}
		}
	}
	return nil, false, false
}

// objectKeys decodes the object at the start of s and returns its top-level
// keys in document order.
func objectKeys(s string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Value converts printed text into an answer value. Text that is a single
// JSON number or boolean becomes that value; anything else stays a string.
func Value(printed string) any {
	s := strings.TrimSpace(printed)
	if s == "true" || s == "false" {
		return s == "true"
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
		return f
	}
	return s
}
