package gateway

// Protocol tags the wire protocol a Resource is reachable over.
type Protocol string

const (
	ProtocolMCP  Protocol = "mcp"
	ProtocolHTTP Protocol = "http"
	ProtocolGRPC Protocol = "grpc"
)

// Sensitivity drives cache TTL (§4.1) and required-approval policy.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// LifecycleStatus is a Resource's position in its registration lifecycle.
type LifecycleStatus string

const (
	StatusRegistered   LifecycleStatus = "registered"
	StatusActive       LifecycleStatus = "active"
	StatusInactive     LifecycleStatus = "inactive"
	StatusUnhealthy    LifecycleStatus = "unhealthy"
	StatusDecommissioned LifecycleStatus = "decommissioned"
)

// Resource is a provider instance addressable via a protocol.
type Resource struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Protocol    Protocol               `json:"protocol"`
	Endpoint    string                 `json:"endpoint"`
	Sensitivity Sensitivity            `json:"sensitivity"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Status      LifecycleStatus        `json:"status"`
}

// Capability is a single callable exposed by a Resource.
type Capability struct {
	ID                  string                 `json:"id"`
	ResourceID          string                 `json:"resource_id"`
	Name                string                 `json:"name"`
	InputSchema         map[string]interface{} `json:"input_schema"`
	OutputSchema        map[string]interface{} `json:"output_schema,omitempty"`
	Sensitivity         Sensitivity            `json:"sensitivity"`
	RequiresApproval    bool                   `json:"requires_approval"`
	SensitiveParameters []string               `json:"sensitive_parameters,omitempty"`
	RequiredCapabilities []string              `json:"required_capabilities,omitempty"`
}

// EffectiveSensitivity returns the capability's own sensitivity, defaulting
// to the parent resource's when unset.
func (c *Capability) EffectiveSensitivity(parent *Resource) Sensitivity {
	if c.Sensitivity != "" {
		return c.Sensitivity
	}
	if parent != nil {
		return parent.Sensitivity
	}
	return SensitivityMedium
}
