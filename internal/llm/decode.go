package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Decode parses raw model output into out. It fails on missing or null
// required keys, unknown keys, type mismatches, violated bounds and any
// result-specific invariant. Values are never coerced.
func Decode(raw string, out Schema) error {
	body := stripFence(raw)
	if body == "" {
		return errors.New("empty response")
	}

	var first json.RawMessage
	outer := json.NewDecoder(strings.NewReader(body))
	if err := outer.Decode(&first); err != nil {
		return fmt.Errorf("$: expected object: %w", err)
	}
	if outer.More() {
		return errors.New("trailing data after JSON object")
	}

	def, err := definitionFor(out)
	if err != nil {
		return err
	}
	if err := checkRequired(*def, first, "$"); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(first))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return err
	}
	return out.Validate()
}

// stripFence removes a single surrounding markdown code fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// checkRequired walks raw against def and reports the first required key that
// is absent or null.
func checkRequired(def jsonschema.Definition, raw json.RawMessage, path string) error {
	switch def.Type {
	case jsonschema.Object:
		if isNull(raw) {
			return fmt.Errorf("%s: expected object, got null", path)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("%s: expected object: %w", path, err)
		}
		for _, key := range def.Required {
			v, ok := obj[key]
			if !ok {
				return fmt.Errorf("%s: missing required key %q", path, key)
			}
			if isNull(v) {
				return fmt.Errorf("%s.%s: required key is null", path, key)
			}
		}
		for key, prop := range def.Properties {
			v, ok := obj[key]
			if !ok || isNull(v) {
				continue
			}
			if err := checkRequired(prop, v, path+"."+key); err != nil {
				return err
			}
		}
	case jsonschema.Array:
		if def.Items == nil || isNull(raw) {
			return nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%s: expected array: %w", path, err)
		}
		for i, item := range items {
			if err := checkRequired(*def.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
