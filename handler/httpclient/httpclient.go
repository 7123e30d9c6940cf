// Package httpclient implements the bundled outbound-HTTP handler,
// confined to an actor's allowed hosts.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/handler"
)

const (
	Interface = "theater:simple/http-client"
	Version   = "0.1.0"
)

func Register(r *handler.Registry) {
	r.Register(Interface, Version, factory)
}

func factory(policy handler.Policy) (handler.Func, error) {
	allowed := make(map[string]bool, len(policy.AllowedHosts))
	for _, h := range policy.AllowedHosts {
		allowed[h] = true
	}
	client := &http.Client{}
	return func(ctx context.Context, input abi.Value) (abi.Value, error) {
		return send(ctx, client, allowed, input)
	}, nil
}

func send(ctx context.Context, client *http.Client, allowed map[string]bool, input abi.Value) (abi.Value, error) {
	fields := input.Fields
	method := fields["method"].Str
	rawURL := fields["url"].Str

	u, err := url.Parse(rawURL)
	if err != nil {
		return abi.Err(abi.String(fmt.Sprintf("http-client: invalid url: %v", err))), nil
	}
	if len(allowed) > 0 && !allowed[u.Host] {
		return abi.Err(abi.String(fmt.Sprintf("http-client: host %q not allowed", u.Host))), nil
	}

	var body io.Reader
	if b, ok := fields["body"]; ok {
		body = bytes.NewReader(b.Bytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return abi.Err(abi.String(err.Error())), nil
	}
	for k, v := range fields["headers"].Fields {
		req.Header.Set(k, v.Str)
	}

	resp, err := client.Do(req)
	if err != nil {
		return abi.Err(abi.String(err.Error())), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return abi.Err(abi.String(err.Error())), nil
	}
	return abi.Ok(abi.Record(map[string]abi.Value{
		"status": abi.Int(int64(resp.StatusCode)),
		"body":   abi.Bytes(respBody),
	})), nil
}
