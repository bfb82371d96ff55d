package runner

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

// installGlobals populates the module frame with the host objects flow code
// may touch. There is deliberately no `process` entry.
func installGlobals(env *environment, ip *interp) {
	env.define("console", consoleObject(ip))
	env.define("JSON", jsonObject())
	env.define("Math", mathObject())
	env.define("Object", objectObject())
	env.define("Array", arrayObject())
	env.define("Promise", promiseObject())
	env.define("Date", map[string]any{
		"now": hostFunc(func([]any) (any, error) {
			return float64(time.Now().UnixMilli()), nil
		}),
	})
	env.define("parseInt", hostFunc(func(args []any) (any, error) {
		s := strings.TrimSpace(stringify(argAt(args, 0)))
		n, err := strconv.ParseInt(firstIntRun(s), 10, 64)
		if err != nil {
			return math.NaN(), nil
		}
		return float64(n), nil
	}))
	env.define("parseFloat", hostFunc(func(args []any) (any, error) {
		return toNumber(argAt(args, 0)), nil
	}))
	env.define("isNaN", hostFunc(func(args []any) (any, error) {
		return math.IsNaN(toNumber(argAt(args, 0))), nil
	}))
	env.define("String", hostFunc(func(args []any) (any, error) {
		return stringify(argAt(args, 0)), nil
	}))
	env.define("Number", hostFunc(func(args []any) (any, error) {
		return toNumber(argAt(args, 0)), nil
	}))
	env.define("Boolean", hostFunc(func(args []any) (any, error) {
		return truthy(argAt(args, 0)), nil
	}))
	env.define("structuredClone", hostFunc(func(args []any) (any, error) {
		return deepClone(argAt(args, 0)), nil
	}))
}

func consoleObject(ip *interp) map[string]any {
	emit := func(level func(string, ...any)) hostFunc {
		return func(args []any) (any, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = stringify(unwrapPromise(a))
			}
			level(strings.Join(parts, " "), "source", "flow")
			return nil, nil
		}
	}
	return map[string]any{
		"log":   emit(ip.log.Info),
		"info":  emit(ip.log.Info),
		"warn":  emit(ip.log.Warn),
		"error": emit(ip.log.Error),
		"debug": emit(ip.log.Debug),
	}
}

func jsonObject() map[string]any {
	return map[string]any{
		"stringify": hostFunc(func(args []any) (any, error) {
			goVal := valueToGo(argAt(args, 0))
			indent := ""
			if n := toNumber(argAt(args, 2)); !math.IsNaN(n) && n > 0 {
				indent = strings.Repeat(" ", int(n))
			}
			var b []byte
			var err error
			if indent != "" {
				b, err = json.MarshalIndent(goVal, "", indent)
			} else {
				b, err = json.Marshal(goVal)
			}
			if err != nil {
				return nil, thrownValue{val: newErrorObject("TypeError", err.Error())}
			}
			return string(b), nil
		}),
		"parse": hostFunc(func(args []any) (any, error) {
			s, _ := argAt(args, 0).(string)
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, thrownValue{val: newErrorObject("SyntaxError", err.Error())}
			}
			return mapToValue(out), nil
		}),
	}
}

func mathObject() map[string]any {
	unary := func(fn func(float64) float64) hostFunc {
		return func(args []any) (any, error) {
			return fn(toNumber(argAt(args, 0))), nil
		}
	}
	return map[string]any{
		"floor": unary(math.Floor),
		"ceil":  unary(math.Ceil),
		"round": unary(math.Round),
		"abs":   unary(math.Abs),
		"sqrt":  unary(math.Sqrt),
		"random": hostFunc(func([]any) (any, error) {
			return rand.Float64(), nil
		}),
		"pow": hostFunc(func(args []any) (any, error) {
			return math.Pow(toNumber(argAt(args, 0)), toNumber(argAt(args, 1))), nil
		}),
		"max": hostFunc(func(args []any) (any, error) {
			out := math.Inf(-1)
			for _, a := range args {
				out = math.Max(out, toNumber(a))
			}
			return out, nil
		}),
		"min": hostFunc(func(args []any) (any, error) {
			out := math.Inf(1)
			for _, a := range args {
				out = math.Min(out, toNumber(a))
			}
			return out, nil
		}),
	}
}

func objectObject() map[string]any {
	sortedKeys := func(m map[string]any) []string {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}
	return map[string]any{
		"keys": hostFunc(func(args []any) (any, error) {
			m, _ := argAt(args, 0).(map[string]any)
			out := make([]any, 0, len(m))
			for _, k := range sortedKeys(m) {
				out = append(out, k)
			}
			return newArray(out...), nil
		}),
		"values": hostFunc(func(args []any) (any, error) {
			m, _ := argAt(args, 0).(map[string]any)
			out := make([]any, 0, len(m))
			for _, k := range sortedKeys(m) {
				out = append(out, m[k])
			}
			return newArray(out...), nil
		}),
		"entries": hostFunc(func(args []any) (any, error) {
			m, _ := argAt(args, 0).(map[string]any)
			out := make([]any, 0, len(m))
			for _, k := range sortedKeys(m) {
				out = append(out, newArray(k, m[k]))
			}
			return newArray(out...), nil
		}),
		"assign": hostFunc(func(args []any) (any, error) {
			target, _ := argAt(args, 0).(map[string]any)
			if target == nil {
				target = make(map[string]any)
			}
			for _, src := range args[1:] {
				if m, ok := src.(map[string]any); ok {
					for k, v := range m {
						target[k] = v
					}
				}
			}
			return target, nil
		}),
	}
}

func arrayObject() map[string]any {
	return map[string]any{
		"isArray": hostFunc(func(args []any) (any, error) {
			_, ok := argAt(args, 0).(*arrayValue)
			return ok, nil
		}),
		"from": hostFunc(func(args []any) (any, error) {
			return newArray(iterate(argAt(args, 0))...), nil
		}),
	}
}

func promiseObject() map[string]any {
	return map[string]any{
		"all": hostFunc(func(args []any) (any, error) {
			arr, _ := argAt(args, 0).(*arrayValue)
			if arr == nil {
				return promiseValue{val: newArray()}, nil
			}
			out := make([]any, len(arr.elems))
			for i, el := range arr.elems {
				out[i] = unwrapPromise(el)
			}
			return promiseValue{val: newArray(out...)}, nil
		}),
		"resolve": hostFunc(func(args []any) (any, error) {
			return promiseValue{val: argAt(args, 0)}, nil
		}),
		"reject": hostFunc(func(args []any) (any, error) {
			return nil, thrownValue{val: argAt(args, 0)}
		}),
	}
}

func dateObject(t time.Time) map[string]any {
	return map[string]any{
		"toISOString": hostFunc(func([]any) (any, error) {
			return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
		}),
		"getTime": hostFunc(func([]any) (any, error) {
			return float64(t.UnixMilli()), nil
		}),
	}
}

// arrayMember implements the array method subset flows use. Callback-taking
// methods dispatch back through the interpreter.
func arrayMember(ip *interp, arr *arrayValue, prop string) any {
	switch prop {
	case "length":
		return float64(len(arr.elems))
	case "push":
		return hostFunc(func(args []any) (any, error) {
			arr.elems = append(arr.elems, args...)
			return float64(len(arr.elems)), nil
		})
	case "pop":
		return hostFunc(func([]any) (any, error) {
			if len(arr.elems) == 0 {
				return nil, nil
			}
			last := arr.elems[len(arr.elems)-1]
			arr.elems = arr.elems[:len(arr.elems)-1]
			return last, nil
		})
	case "includes":
		return hostFunc(func(args []any) (any, error) {
			for _, el := range arr.elems {
				if strictEquals(el, argAt(args, 0)) {
					return true, nil
				}
			}
			return false, nil
		})
	case "indexOf":
		return hostFunc(func(args []any) (any, error) {
			for i, el := range arr.elems {
				if strictEquals(el, argAt(args, 0)) {
					return float64(i), nil
				}
			}
			return float64(-1), nil
		})
	case "join":
		return hostFunc(func(args []any) (any, error) {
			sep := ","
			if s, ok := argAt(args, 0).(string); ok {
				sep = s
			}
			parts := make([]string, len(arr.elems))
			for i, el := range arr.elems {
				parts[i] = stringify(el)
			}
			return strings.Join(parts, sep), nil
		})
	case "slice":
		return hostFunc(func(args []any) (any, error) {
			start, end := sliceBounds(len(arr.elems), argAt(args, 0), argAt(args, 1))
			out := make([]any, end-start)
			copy(out, arr.elems[start:end])
			return newArray(out...), nil
		})
	case "concat":
		return hostFunc(func(args []any) (any, error) {
			out := make([]any, len(arr.elems))
			copy(out, arr.elems)
			for _, a := range args {
				if other, ok := a.(*arrayValue); ok {
					out = append(out, other.elems...)
				} else {
					out = append(out, a)
				}
			}
			return newArray(out...), nil
		})
	case "map":
		return hostFunc(func(args []any) (any, error) {
			out := make([]any, 0, len(arr.elems))
			for i, el := range arr.elems {
				v, err := ip.call(argAt(args, 0), []any{el, float64(i)})
				if err != nil {
					return nil, err
				}
				out = append(out, unwrapPromise(v))
			}
			return newArray(out...), nil
		})
	case "filter":
		return hostFunc(func(args []any) (any, error) {
			var out []any
			for i, el := range arr.elems {
				keep, err := ip.call(argAt(args, 0), []any{el, float64(i)})
				if err != nil {
					return nil, err
				}
				if truthy(unwrapPromise(keep)) {
					out = append(out, el)
				}
			}
			return newArray(out...), nil
		})
	case "find":
		return hostFunc(func(args []any) (any, error) {
			for i, el := range arr.elems {
				hit, err := ip.call(argAt(args, 0), []any{el, float64(i)})
				if err != nil {
					return nil, err
				}
				if truthy(unwrapPromise(hit)) {
					return el, nil
				}
			}
			return nil, nil
		})
	case "some":
		return hostFunc(func(args []any) (any, error) {
			for i, el := range arr.elems {
				hit, err := ip.call(argAt(args, 0), []any{el, float64(i)})
				if err != nil {
					return nil, err
				}
				if truthy(unwrapPromise(hit)) {
					return true, nil
				}
			}
			return false, nil
		})
	case "every":
		return hostFunc(func(args []any) (any, error) {
			for i, el := range arr.elems {
				hit, err := ip.call(argAt(args, 0), []any{el, float64(i)})
				if err != nil {
					return nil, err
				}
				if !truthy(unwrapPromise(hit)) {
					return false, nil
				}
			}
			return true, nil
		})
	case "forEach":
		return hostFunc(func(args []any) (any, error) {
			for i, el := range arr.elems {
				if _, err := ip.call(argAt(args, 0), []any{el, float64(i)}); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
	case "reduce":
		return hostFunc(func(args []any) (any, error) {
			acc := argAt(args, 1)
			start := 0
			if len(args) < 2 {
				if len(arr.elems) == 0 {
					return nil, thrownValue{val: newErrorObject("TypeError", "reduce of empty array with no initial value")}
				}
				acc, start = arr.elems[0], 1
			}
			for i := start; i < len(arr.elems); i++ {
				v, err := ip.call(argAt(args, 0), []any{acc, arr.elems[i], float64(i)})
				if err != nil {
					return nil, err
				}
				acc = unwrapPromise(v)
			}
			return acc, nil
		})
	case "flat":
		return hostFunc(func([]any) (any, error) {
			var out []any
			for _, el := range arr.elems {
				if inner, ok := el.(*arrayValue); ok {
					out = append(out, inner.elems...)
				} else {
					out = append(out, el)
				}
			}
			return newArray(out...), nil
		})
	case "reverse":
		return hostFunc(func([]any) (any, error) {
			for i, j := 0, len(arr.elems)-1; i < j; i, j = i+1, j-1 {
				arr.elems[i], arr.elems[j] = arr.elems[j], arr.elems[i]
			}
			return arr, nil
		})
	}
	return nil
}

func stringMember(s, prop string) any {
	switch prop {
	case "length":
		return float64(len(s))
	case "toUpperCase":
		return hostFunc(func([]any) (any, error) { return strings.ToUpper(s), nil })
	case "toLowerCase":
		return hostFunc(func([]any) (any, error) { return strings.ToLower(s), nil })
	case "trim":
		return hostFunc(func([]any) (any, error) { return strings.TrimSpace(s), nil })
	case "includes":
		return hostFunc(func(args []any) (any, error) {
			return strings.Contains(s, stringify(argAt(args, 0))), nil
		})
	case "startsWith":
		return hostFunc(func(args []any) (any, error) {
			return strings.HasPrefix(s, stringify(argAt(args, 0))), nil
		})
	case "endsWith":
		return hostFunc(func(args []any) (any, error) {
			return strings.HasSuffix(s, stringify(argAt(args, 0))), nil
		})
	case "indexOf":
		return hostFunc(func(args []any) (any, error) {
			return float64(strings.Index(s, stringify(argAt(args, 0)))), nil
		})
	case "split":
		return hostFunc(func(args []any) (any, error) {
			sep := stringify(argAt(args, 0))
			parts := strings.Split(s, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return newArray(out...), nil
		})
	case "replace":
		return hostFunc(func(args []any) (any, error) {
			return strings.Replace(s, stringify(argAt(args, 0)), stringify(argAt(args, 1)), 1), nil
		})
	case "replaceAll":
		return hostFunc(func(args []any) (any, error) {
			return strings.ReplaceAll(s, stringify(argAt(args, 0)), stringify(argAt(args, 1))), nil
		})
	case "slice", "substring":
		return hostFunc(func(args []any) (any, error) {
			start, end := sliceBounds(len(s), argAt(args, 0), argAt(args, 1))
			return s[start:end], nil
		})
	case "charAt":
		return hostFunc(func(args []any) (any, error) {
			i := int(toNumber(argAt(args, 0)))
			if i < 0 || i >= len(s) {
				return "", nil
			}
			return string(s[i]), nil
		})
	case "repeat":
		return hostFunc(func(args []any) (any, error) {
			n := int(toNumber(argAt(args, 0)))
			if n < 0 {
				n = 0
			}
			return strings.Repeat(s, n), nil
		})
	case "padStart":
		return hostFunc(func(args []any) (any, error) {
			width := int(toNumber(argAt(args, 0)))
			if width <= len(s) {
				return s, nil
			}
			pad := " "
			if p, ok := argAt(args, 1).(string); ok && p != "" {
				pad = p
			}
			out := s
			for len(out) < width {
				out = pad + out
			}
			return out[len(out)-width:], nil
		})
	case "toString":
		return hostFunc(func([]any) (any, error) { return s, nil })
	}
	return nil
}

func numberMember(f float64, prop string) any {
	switch prop {
	case "toFixed":
		return hostFunc(func(args []any) (any, error) {
			digits := 0
			if n := toNumber(argAt(args, 0)); !math.IsNaN(n) && n > 0 {
				digits = int(n)
			}
			return strconv.FormatFloat(f, 'f', digits, 64), nil
		})
	case "toString":
		return hostFunc(func([]any) (any, error) { return formatNumber(f), nil })
	}
	return nil
}

// sliceBounds normalizes optional start/end arguments, supporting negative
// offsets.
func sliceBounds(n int, startArg, endArg any) (int, int) {
	start, end := 0, n
	if startArg != nil {
		start = int(toNumber(startArg))
		if start < 0 {
			start += n
		}
	}
	if endArg != nil {
		end = int(toNumber(endArg))
		if end < 0 {
			end += n
		}
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}
	return start, end
}

func firstIntRun(s string) string {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	return s[:j]
}

// mapToValue converts plain Go data (payloads, operation outputs) into
// interpreter values.
func mapToValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, mv := range x {
			out[k] = mapToValue(mv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = mapToValue(el)
		}
		return newArray(out...)
	default:
		// Structured Go values round-trip through JSON.
		b, err := json.Marshal(v)
		if err != nil {
			return stringify(v)
		}
		var plain any
		if err := json.Unmarshal(b, &plain); err != nil {
			return stringify(v)
		}
		return mapToValue(plain)
	}
}

// valueToGo converts interpreter values back to plain Go data, dropping
// callables and unwrapping promises.
func valueToGo(v any) any {
	switch x := unwrapPromise(v).(type) {
	case nil, bool, string, float64:
		return x
	case *arrayValue:
		out := make([]any, len(x.elems))
		for i, el := range x.elems {
			out[i] = valueToGo(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, mv := range x {
			switch mv.(type) {
			case hostFunc, *boundMethod, *arrowValue:
				continue
			}
			out[k] = valueToGo(mv)
		}
		return out
	case *opValue:
		return map[string]any{"operation": x.typeName}
	default:
		return nil
	}
}

func sanitizeTraceArgs(elems []any) []any {
	out := make([]any, len(elems))
	for i, el := range elems {
		out[i] = valueToGo(el)
	}
	return out
}

func deepClone(v any) any {
	switch x := v.(type) {
	case *arrayValue:
		out := make([]any, len(x.elems))
		for i, el := range x.elems {
			out[i] = deepClone(el)
		}
		return newArray(out...)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, mv := range x {
			out[k] = deepClone(mv)
		}
		return out
	default:
		return v
	}
}
