package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the common response wrapper. Payload placement differs by
// controller: rows may sit under "list", under "data.list" (or another
// named key inside data), data may itself be the array, or data may be a
// single object.
type envelope struct {
	Result    string          `json:"result"`
	Msg       string          `json:"msg"`
	ResultMsg string          `json:"resultMsg"`
	Data      json.RawMessage `json:"data"`
	List      json.RawMessage `json:"list"`
}

func (e *envelope) ok() bool {
	return strings.EqualFold(strings.TrimSpace(e.Result), "OK")
}

func (e *envelope) message() string {
	if m := strings.TrimSpace(e.Msg); m != "" {
		return m
	}
	return strings.TrimSpace(e.ResultMsg)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null" || string(raw) == `""`
}

// rows locates the row array for a list endpoint. keys are the data
// sub-fields to try, in order, after the generic "list". A lone object is
// treated as a one-element list; an absent payload as an empty one.
func (e *envelope) rows(keys ...string) (json.RawMessage, error) {
	if !isNull(e.List) {
		return asArray(e.List)
	}
	if isNull(e.Data) {
		return json.RawMessage(`[]`), nil
	}

	data := bytes.TrimSpace(e.Data)
	if data[0] == '[' {
		return data, nil
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("unexpected data payload %.40q", data)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, k := range append([]string{"list"}, keys...) {
		if v, ok := obj[k]; ok && !isNull(v) {
			return asArray(v)
		}
	}

	// Singleton object.
	return json.RawMessage("[" + string(data) + "]"), nil
}

func asArray(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0:
		return json.RawMessage(`[]`), nil
	case raw[0] == '[':
		return raw, nil
	case raw[0] == '{':
		return json.RawMessage("[" + string(raw) + "]"), nil
	default:
		return nil, fmt.Errorf("expected array payload, got %.40q", raw)
	}
}

// dataField digs a named raw field out of the data object, trying
// alternates in order.
func (e *envelope) dataField(keys ...string) (json.RawMessage, bool) {
	if isNull(e.Data) {
		return nil, false
	}
	data := bytes.TrimSpace(e.Data)
	if data[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

// dataString returns data when it is a bare JSON string (the login token
// shape), or the named alternates when data is an object.
func (e *envelope) dataString(keys ...string) (string, bool) {
	if isNull(e.Data) {
		return "", false
	}
	data := bytes.TrimSpace(e.Data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	raw, ok := e.dataField(keys...)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
