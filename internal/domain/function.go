package domain

import "time"

// Function describes a deployed function as listed by the gateway.
type Function struct {
	Name                   string            `json:"name"`
	Image                  string            `json:"image"`
	Replicas               int               `json:"replicas"`
	AvailableReplicas      int               `json:"availableReplicas"`
	InvocationCount        int64             `json:"invocationCount"`
	EnvProcess             string            `json:"envProcess,omitempty"`
	EnvVars                map[string]string `json:"envVars,omitempty"`
	Labels                 map[string]string `json:"labels,omitempty"`
	Annotations            map[string]string `json:"annotations,omitempty"`
	Secrets                []string          `json:"secrets,omitempty"`
	Network                string            `json:"network,omitempty"`
	Limits                 *Resources        `json:"limits,omitempty"`
	Requests               *Resources        `json:"requests,omitempty"`
	ReadOnlyRootFilesystem bool              `json:"readOnlyRootFilesystem,omitempty"`
	Debug                  bool              `json:"debug,omitempty"`
	CreatedAt              time.Time         `json:"createdAt,omitempty"`
	UpdatedAt              time.Time         `json:"updatedAt,omitempty"`
}

// Resources holds memory and cpu quantities.
type Resources struct {
	Memory string `json:"memory,omitempty"`
	CPU    string `json:"cpu,omitempty"`
}

// FunctionDeployment is the create/update payload for a function.
type FunctionDeployment struct {
	Service                string            `json:"service"`
	Image                  string            `json:"image"`
	Network                string            `json:"network,omitempty"`
	EnvProcess             string            `json:"envProcess,omitempty"`
	EnvVars                map[string]string `json:"envVars,omitempty"`
	Labels                 map[string]string `json:"labels,omitempty"`
	Secrets                []string          `json:"secrets,omitempty"`
	Limits                 *Resources        `json:"limits,omitempty"`
	Requests               *Resources        `json:"requests,omitempty"`
	ReadOnlyRootFilesystem bool              `json:"readOnlyRootFilesystem,omitempty"`
	Debug                  bool              `json:"debug,omitempty"`
}

// Secret names a gateway secret. Values are write-only.
type Secret struct {
	Name string `json:"name"`
}

// Container is one replica of a function.
type Container struct {
	ID        string            `json:"id,omitempty"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	IPAddress string            `json:"ipAddress,omitempty"`
	Ports     map[string]string `json:"ports,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}
