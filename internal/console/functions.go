package console

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/source"
)

// DefaultLogTail is the number of log lines fetched when none is requested.
const DefaultLogTail = 100

// FunctionInput is a deploy or update request as entered by the operator.
// EnvVars and Labels hold JSON objects; comments and trailing commas are
// accepted.
type FunctionInput struct {
	Name                   string
	Image                  string
	Network                string
	EnvProcess             string
	EnvVars                string
	Labels                 string
	Secrets                []string
	Limits                 *domain.Resources
	Requests               *domain.Resources
	ReadOnlyRootFilesystem bool
	Debug                  bool
}

// Deployment validates the input and converts it to a gateway payload.
func (in FunctionInput) Deployment() (domain.FunctionDeployment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.FunctionDeployment{}, domain.Invalid("name", "function name is required")
	}
	if err := source.ValidateName(name); err != nil {
		return domain.FunctionDeployment{}, err
	}
	image := strings.TrimSpace(in.Image)
	if image == "" {
		return domain.FunctionDeployment{}, domain.Invalid("image", "image is required")
	}
	env, err := parseStringMap("envVars", in.EnvVars)
	if err != nil {
		return domain.FunctionDeployment{}, err
	}
	labels, err := parseStringMap("labels", in.Labels)
	if err != nil {
		return domain.FunctionDeployment{}, err
	}
	var secrets []string
	for _, secret := range in.Secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		if err := validateSecretName(secret); err != nil {
			return domain.FunctionDeployment{}, err
		}
		secrets = append(secrets, secret)
	}
	return domain.FunctionDeployment{
		Service:                name,
		Image:                  image,
		Network:                strings.TrimSpace(in.Network),
		EnvProcess:             strings.TrimSpace(in.EnvProcess),
		EnvVars:                env,
		Labels:                 labels,
		Secrets:                secrets,
		Limits:                 in.Limits,
		Requests:               in.Requests,
		ReadOnlyRootFilesystem: in.ReadOnlyRootFilesystem,
		Debug:                  in.Debug,
	}, nil
}

// parseStringMap decodes a JSON object of strings. An empty input yields nil.
func parseStringMap(field, raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var values map[string]string
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &values); err != nil {
		return nil, domain.Invalid(field, "must be a JSON object of strings: %v", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// Functions lists deployed functions.
func (s *Service) Functions(ctx context.Context) ([]domain.Function, error) {
	var out []domain.Function
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		out, err = api.ListFunctions(ctx, token)
		return err
	})
	return out, err
}

// DeployFunction creates a function.
func (s *Service) DeployFunction(ctx context.Context, in FunctionInput) error {
	fn, err := in.Deployment()
	if err != nil {
		return err
	}
	err = s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.DeployFunction(ctx, token, fn)
	})
	if err != nil {
		return err
	}
	s.logger.Info("function deployed", "name", fn.Service, "image", fn.Image)
	return nil
}

// UpdateFunction replaces an existing function.
func (s *Service) UpdateFunction(ctx context.Context, in FunctionInput) error {
	fn, err := in.Deployment()
	if err != nil {
		return err
	}
	err = s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.UpdateFunction(ctx, token, fn)
	})
	if err != nil {
		return err
	}
	s.logger.Info("function updated", "name", fn.Service, "image", fn.Image)
	return nil
}

// DeleteFunction removes a function.
func (s *Service) DeleteFunction(ctx context.Context, name string) error {
	name, err := requireFunctionName(name)
	if err != nil {
		return err
	}
	return s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.DeleteFunction(ctx, token, name)
	})
}

// ScaleFunction sets the desired replica count.
func (s *Service) ScaleFunction(ctx context.Context, name string, replicas int) error {
	name, err := requireFunctionName(name)
	if err != nil {
		return err
	}
	if replicas < 0 {
		return domain.Invalid("replicas", "replicas must be >= 0")
	}
	return s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.ScaleFunction(ctx, token, name, replicas)
	})
}

// Containers lists the replicas of a function.
func (s *Service) Containers(ctx context.Context, name string) ([]domain.Container, error) {
	name, err := requireFunctionName(name)
	if err != nil {
		return nil, err
	}
	var out []domain.Container
	err = s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		out, err = api.ListContainers(ctx, token, name)
		return err
	})
	return out, err
}

// Logs returns the last tail log lines of a function.
func (s *Service) Logs(ctx context.Context, name string, tail int) (string, error) {
	name, err := requireFunctionName(name)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = DefaultLogTail
	}
	var out string
	err = s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		out, err = api.Logs(ctx, token, name, tail)
		return err
	})
	return out, err
}

// Secrets lists secret names.
func (s *Service) Secrets(ctx context.Context) ([]domain.Secret, error) {
	var out []domain.Secret
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		out, err = api.ListSecrets(ctx, token)
		return err
	})
	return out, err
}

// CreateSecret stores a new secret.
func (s *Service) CreateSecret(ctx context.Context, name, value string) error {
	if err := validateSecret(name, value); err != nil {
		return err
	}
	return s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.CreateSecret(ctx, token, name, value)
	})
}

// UpdateSecret replaces the value of an existing secret.
func (s *Service) UpdateSecret(ctx context.Context, name, value string) error {
	if err := validateSecret(name, value); err != nil {
		return err
	}
	return s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.UpdateSecret(ctx, token, name, value)
	})
}

// DeleteSecret removes a secret.
func (s *Service) DeleteSecret(ctx context.Context, name string) error {
	if err := validateSecretName(name); err != nil {
		return err
	}
	return s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.DeleteSecret(ctx, token, name)
	})
}

func requireFunctionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Invalid("name", "function name is required")
	}
	return name, nil
}

func validateSecret(name, value string) error {
	if err := validateSecretName(name); err != nil {
		return err
	}
	if value == "" {
		return domain.Invalid("value", "secret value is required")
	}
	return nil
}

// validateSecretName rejects names the gateway cannot store as a single file
// in its secret directory.
func validateSecretName(name string) error {
	switch {
	case name == "":
		return domain.Invalid("name", "secret name is required")
	case len(name) > 253:
		return domain.Invalid("name", "secret name is longer than 253 characters")
	case strings.ContainsAny(name, `/\`):
		return domain.Invalid("name", "secret name must not contain path separators")
	case strings.HasPrefix(name, "."):
		return domain.Invalid("name", "secret name must not start with a dot")
	case strings.ContainsAny(name, " \t\r\n"):
		return domain.Invalid("name", "secret name %q must not contain whitespace", name)
	}
	return nil
}
