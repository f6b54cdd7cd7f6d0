package wikifolio

import (
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

// lookup evaluates a JSONPath expression against a decoded JSON document.
func lookup(doc any, path string) (any, error) {
	return jsonpath.Get(path, doc)
}

// labelled returns field of the first element of the array at arrayPath
// whose key equals label. The platform keys figures by their display label.
func labelled(doc any, arrayPath, key, label, field string) (any, bool) {
	path := fmt.Sprintf(`%s[?(@.%s == %q)].%s`, arrayPath, key, label, field)
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	}
	return v, v != nil
}

// labelledFloat is labelled for numeric figures, which arrive either as
// numbers or as localized display strings.
func labelledFloat(doc any, arrayPath, key, label, field string) *float64 {
	v, ok := labelled(doc, arrayPath, key, label, field)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		return parse.FloatPtr(t)
	}
	return nil
}

func labelledString(doc any, arrayPath, key, label, field string) string {
	v, ok := labelled(doc, arrayPath, key, label, field)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
