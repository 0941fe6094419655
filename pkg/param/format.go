package param

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cuemby/pubparam/pkg/types"
)

// Formatter renders a parameter's bound value as text. The value is whatever
// was passed to Create or SetValue, possibly nil.
type Formatter func(value any) (string, error)

// FormatValue renders the parameter's value as plain text, using its
// formatter when one is set. A nil value renders as "null".
func (r *Registry) FormatValue(h Handle) (string, error) {
	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return "", err
	}
	value, f := s.value, s.formatter
	r.mu.RUnlock()

	if f != nil {
		return f(value)
	}
	return formatText(value), nil
}

// FormatJSON renders the parameter as a single key JSON object, {"name": value}
func (r *Registry) FormatJSON(h Handle) (string, error) {
	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return "", err
	}
	name, value, f := s.name, s.value, s.formatter
	r.mu.RUnlock()

	v, err := jsonValue(value, f)
	if err != nil {
		return "", fmt.Errorf("failed to format %s: %w", name, err)
	}
	key, _ := json.Marshal(name)
	return "{" + string(key) + ": " + v + "}", nil
}

// PrintParameter renders a one-line summary of the parameter in slot index
func (r *Registry) PrintParameter(index int) (string, bool) {
	h, ok := r.GetByIndex(index)
	if !ok {
		return "", false
	}
	info, err := r.Info(h)
	if err != nil {
		return "", false
	}
	value, err := r.FormatValue(h)
	if err != nil {
		value = "<" + err.Error() + ">"
	}
	if u := info.Unit.String(); u != "" {
		value += " " + u
	}
	owner := info.Owner
	if owner == "" {
		owner = "-"
	}
	return fmt.Sprintf("%2d %-28s %-16s %-20s owner=%s subs=%d changes=%d enabled=%t",
		index, info.Name, info.Type, value, owner, info.Subscribers, info.Changes, info.Enabled), true
}

// ListJSON exports every parameter as one JSON object in slot order. Hidden
// parameters are skipped unless includeHidden is set. The buffer comes from
// the registry's allocator; release it with Free.
func (r *Registry) ListJSON(includeHidden bool) ([]byte, error) {
	entries := make([]string, 0, r.Len())
	for _, h := range r.Handles() {
		info, err := r.Info(h)
		if err != nil {
			continue
		}
		if info.Type.IsHidden() && !includeHidden {
			continue
		}
		r.mu.RLock()
		s, err := r.slotLocked(h)
		if err != nil {
			r.mu.RUnlock()
			continue
		}
		value, f := s.value, s.formatter
		r.mu.RUnlock()

		v, err := jsonValue(value, f)
		if err != nil {
			r.logger.Warn().Err(err).Str("param", info.Name).Msg("skipping parameter in listing")
			continue
		}
		key, _ := json.Marshal(info.Name)
		entries = append(entries, string(key)+":"+v)
	}

	out := "{" + strings.Join(entries, ",") + "}"
	buf, err := r.allocate(len(out))
	if err != nil {
		return nil, err
	}
	copy(buf, out)
	return buf, nil
}

func jsonValue(value any, f Formatter) (string, error) {
	if f != nil {
		text, err := f(value)
		if err != nil {
			return "", err
		}
		if json.Valid([]byte(text)) {
			return text, nil
		}
		quoted, _ := json.Marshal(text)
		return string(quoted), nil
	}

	v, ok := deref(value)
	if !ok {
		return "null", nil
	}
	switch x := v.(type) {
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return "null", nil
		}
		return formatFloat(x), nil
	case int32, int64, bool, *types.FloatArray, *types.Int16Array:
		return formatText(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func formatText(value any) string {
	v, ok := deref(value)
	if !ok {
		return "null"
	}
	switch x := v.(type) {
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case *types.FloatArray:
		parts := make([]string, x.Len())
		for i := range parts {
			parts[i] = formatFloat(x.At(i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case *types.Int16Array:
		parts := make([]string, x.Len())
		for i := range parts {
			parts[i] = strconv.Itoa(int(x.At(i)))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// deref unwraps the pointer types a value may be bound as. It reports false
// for a nil value or nil pointer.
func deref(value any) (any, bool) {
	switch x := value.(type) {
	case nil:
		return nil, false
	case *int32:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *int64:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *float32:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *bool:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *string:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *[]byte:
		if x == nil {
			return nil, false
		}
		return *x, true
	case *types.FloatArray:
		return x, x != nil
	case *types.Int16Array:
		return x, x != nil
	}
	return value, true
}
