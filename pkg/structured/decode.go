package structured

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/d-lowl/cblit/pkg/logx"
)

//nolint:gochecknoglobals // Package-scoped component logger
var logger = logx.NewLogger("structured")

// Validator is implemented by records that check their own content after decoding.
type Validator interface {
	Validate() error
}

// Decode extracts an object payload from reply and decodes it into T.
//
// Struct fields without omitempty in their json tag that are not pointers are
// required, recursively through nested structs, slices and maps. A T that
// implements Validator is validated last.
func Decode[T any](reply string) (T, error) {
	var zero T

	payload, err := normalize(reply, ShapeObject)
	if err != nil {
		return zero, err
	}

	v, err := decodeOne[T](payload, "")
	if err != nil {
		return zero, err
	}
	return v, nil
}

// DecodeList extracts a list payload from reply and decodes every element into T.
func DecodeList[T any](reply string) ([]T, error) {
	payload, err := normalize(reply, ShapeList)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		v, err := decodeOne[T](item, fmt.Sprintf("[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// normalize cuts the payload out of reply and turns it into strict JSON.
func normalize(reply string, shape Shape) ([]byte, error) {
	raw, err := ExtractPayload(reply, shape)
	if err != nil {
		return nil, err
	}

	repaired := RepairMultiline(raw)
	if repaired != raw {
		logger.Debug("escaped raw line breaks inside %s payload", shape)
	}
	return jsonc.ToJSON([]byte(repaired)), nil
}

func decodeOne[T any](data []byte, path string) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w%s: %w", ErrMalformedPayload, pathSuffix(path), err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return v, fmt.Errorf("%w%s: %w", ErrMalformedPayload, pathSuffix(path), err)
	}
	if err := checkRequired(reflect.TypeOf(v), generic, path); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if validator, ok := any(&v).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return v, fmt.Errorf("%w%s: %w", ErrMalformedPayload, pathSuffix(path), err)
		}
	}
	return v, nil
}

func pathSuffix(path string) string {
	if path == "" {
		return ""
	}
	return " at " + path
}

// checkRequired walks t alongside the generically decoded value and reports
// the first required struct field that is absent.
func checkRequired(t reflect.Type, raw any, path string) error {
	if t == nil || raw == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil
		}
		return checkStruct(t, obj, path)

	case reflect.Slice, reflect.Array:
		list, ok := raw.([]any)
		if !ok {
			return nil
		}
		for i, item := range list {
			if err := checkRequired(t.Elem(), item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil
		}
		for key, item := range obj {
			if err := checkRequired(t.Elem(), item, path+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkStruct(t reflect.Type, obj map[string]any, path string) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, omitempty, skip := jsonField(field)
		if skip {
			continue
		}

		// Untagged embedded structs promote their fields into the same object.
		if field.Anonymous && name == "" {
			embedded := field.Type
			for embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				if err := checkStruct(embedded, obj, path); err != nil {
					return err
				}
			}
			continue
		}
		if name == "" {
			name = field.Name
		}

		value, present := lookupKey(obj, name)
		if !present {
			if omitempty || field.Type.Kind() == reflect.Pointer {
				continue
			}
			return fmt.Errorf("missing required field %q", strings.TrimPrefix(path+"."+name, "."))
		}
		if err := checkRequired(field.Type, value, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

// jsonField reads a field's json tag. An empty name means the Go field name applies.
func jsonField(field reflect.StructField) (name string, omitempty, skip bool) {
	if !field.IsExported() && !field.Anonymous {
		return "", false, true
	}
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitempty = true
		}
	}
	return parts[0], omitempty, false
}

// lookupKey matches keys the way encoding/json does: exact first, then case-insensitive.
func lookupKey(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for key, v := range obj {
		if strings.EqualFold(key, name) {
			return v, true
		}
	}
	return nil, false
}
