package core

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
)

// Params holds query parameters. Values are formatted by Strings.
type Params map[string]any

// Strings formats every value as it is sent on the wire.
func (p Params) Strings() map[string]string {
	result := make(map[string]string, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		case fmt.Stringer:
			result[k] = val.String()
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// Encode returns the URL-encoded query string sorted by key.
func (p Params) Encode() string {
	values := make(url.Values, len(p))
	for k, v := range p.Strings() {
		values.Set(k, v)
	}
	return values.Encode()
}

// Request is a transport-neutral description of one REST call.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   Params            `json:"query,omitempty"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Weight  int               `json:"weight"`
	Signed  bool              `json:"signed"`
	// Overflow overrides the client's overflow behavior when set.
	Overflow *OverflowBehavior `json:"overflow,omitempty"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   make(Params),
		Headers: make(map[string]string),
		Weight:  1,
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	r.Weight = weight
	return r
}

func (r *Request) SetSigned(signed bool) *Request {
	r.Signed = signed
	return r
}

func (r *Request) SetOverflow(behavior OverflowBehavior) *Request {
	r.Overflow = &behavior
	return r
}

func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

// Clone returns a copy of r whose query and header maps can be modified
// without affecting r. The body is shared.
func (r *Request) Clone() *Request {
	c := *r
	c.Query = maps.Clone(r.Query)
	c.Headers = maps.Clone(r.Headers)
	if r.Overflow != nil {
		overflow := *r.Overflow
		c.Overflow = &overflow
	}
	return &c
}

// Admission builds the admission gate view of the request.
func (r *Request) Admission(identity string, fallback OverflowBehavior) AdmitRequest {
	overflow := fallback
	if r.Overflow != nil {
		overflow = *r.Overflow
	}
	weight := r.Weight
	if weight < 1 {
		weight = 1
	}
	return AdmitRequest{
		Endpoint: r.Path,
		Method:   r.Method,
		Signed:   r.Signed,
		Identity: identity,
		Overflow: overflow,
		Weight:   weight,
	}
}
