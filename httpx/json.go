package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// NewJSONRequest builds a request with a JSON body and Accept header.
func (c *Client) NewJSONRequest(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Request, error) {
	opts2 := make([]RequestOption, 0, len(opts)+1)
	opts2 = append(opts2, WithJSON(body))
	opts2 = append(opts2, opts...)
	req, err := c.NewRequest(ctx, method, path, opts2...)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// DoJSONInto performs the request, treats non-2xx as *Error, and decodes
// the JSON response into dst. The body is always closed.
func (c *Client) DoJSONInto(req *http.Request, dst any) (*http.Response, error) {
	resp, err := c.DoStatus(req)
	if err != nil {
		return resp, err
	}
	if resp == nil || resp.Body == nil {
		return resp, errors.New("nil response body")
	}
	defer resp.Body.Close()

	if dst == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp, err
	}
	return resp, nil
}
