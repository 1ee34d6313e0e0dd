package filter

import (
	"fmt"
	"net/url"
	"strconv"
)

// Reserved query parameters. Every other key is a field filter.
const (
	ParamQ          = "q"
	ParamOrderBy    = "order_by"
	ParamDescending = "descending"
	ParamLimit      = "limit"
	ParamOffset     = "offset"
)

// ParseQuery builds a Spec from URL query values. Repeated keys form a
// membership list and the literal "null" means nil.
func ParseQuery(values url.Values) (Spec, error) {
	spec := Spec{Fields: map[string]any{}}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		switch key {
		case ParamQ:
			spec.Q = vals[0]
		case ParamOrderBy:
			spec.OrderBy = vals[0]
		case ParamDescending:
			b, err := strconv.ParseBool(vals[0])
			if err != nil {
				return Spec{}, fmt.Errorf("%w: descending=%q", ErrInvalid, vals[0])
			}
			spec.Desc = b
		case ParamLimit:
			n, err := strconv.Atoi(vals[0])
			if err != nil {
				return Spec{}, fmt.Errorf("%w: limit=%q", ErrInvalid, vals[0])
			}
			spec.Limit = n
		case ParamOffset:
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return Spec{}, fmt.Errorf("%w: offset=%q", ErrInvalid, vals[0])
			}
			spec.Offset = n
		default:
			if len(vals) > 1 {
				spec.Fields[key] = append([]string(nil), vals...)
			} else if vals[0] == "null" {
				spec.Fields[key] = nil
			} else {
				spec.Fields[key] = vals[0]
			}
		}
	}
	return spec, nil
}
