package console

import (
	"context"
	"net/http"
	"strings"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/source"
	"github.com/splax/faasdeck/pkg/api/client"
)

// InvokeInput is a function call as entered by the operator. Headers holds
// a JSON object of strings.
type InvokeInput struct {
	Name    string
	Method  string
	Headers string
	Body    string
	// Async routes the call through the queueing endpoint.
	Async bool
}

var invokeMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// Invoke calls a function and returns its response. Non-2xx answers from
// the function are part of the result and leave the session alone.
func (s *Service) Invoke(ctx context.Context, in InvokeInput) (client.InvokeResult, error) {
	name, err := requireFunctionName(in.Name)
	if err != nil {
		return client.InvokeResult{}, err
	}
	if err := source.ValidateName(name); err != nil {
		return client.InvokeResult{}, err
	}
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = http.MethodPost
	}
	if !invokeMethods[method] {
		return client.InvokeResult{}, domain.Invalid("method", "unsupported method %q", in.Method)
	}
	headers, err := parseStringMap("headers", in.Headers)
	if err != nil {
		return client.InvokeResult{}, err
	}

	inv := client.Invocation{Method: method, Headers: headers}
	if in.Body != "" {
		inv.Body = []byte(in.Body)
	}
	var res client.InvokeResult
	err = s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		if in.Async {
			res, err = api.InvokeAsync(ctx, token, name, inv)
		} else {
			res, err = api.Invoke(ctx, token, name, inv)
		}
		return err
	})
	if err != nil {
		return client.InvokeResult{}, err
	}
	s.logger.Debug("function invoked", "name", name, "method", method, "status", res.Status, "latency", res.Latency)
	return res, nil
}

// Secret reports whether a secret exists.
func (s *Service) Secret(ctx context.Context, name string) (domain.Secret, error) {
	if err := validateSecretName(name); err != nil {
		return domain.Secret{}, err
	}
	var out domain.Secret
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		out, err = api.GetSecret(ctx, token, name)
		return err
	})
	return out, err
}
