package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// fieldSet holds flat vendor fields keyed by lower-cased name. Vendors are
// inconsistent about casing (TrackId, trackid, trackId), so lookups ignore it.
type fieldSet map[string]string

// get returns the first non-empty value among keys.
func (f fieldSet) get(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(f[strings.ToLower(key)]); v != "" {
			return v
		}
	}
	return ""
}

func (f fieldSet) set(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	if _, exists := f[key]; exists && strings.TrimSpace(value) == "" {
		return
	}
	f[key] = value
}

func fieldsFromValues(values url.Values) fieldSet {
	out := fieldSet{}
	for key, vs := range values {
		if len(vs) > 0 {
			out.set(key, vs[0])
		}
	}
	return out
}

// decodeFields reads a JSON object, or an array whose first element is an
// object, into a fieldSet. Numbers keep their literal text.
func decodeFields(raw []byte) (fieldSet, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if arr, ok := doc.([]any); ok {
		if len(arr) == 0 {
			return nil, errors.New("empty array")
		}
		doc = arr[0]
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}
	out := fieldSet{}
	for key, value := range obj {
		switch v := value.(type) {
		case string:
			out.set(key, v)
		case json.Number:
			out.set(key, v.String())
		case bool:
			out.set(key, strconv.FormatBool(v))
		}
	}
	return out, nil
}
