package domain

import "time"

// Organization is the billing and quota boundary. Every Connection,
// Workflow, and Execution belongs to exactly one Organization.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PlanTier      string    `json:"planTier"`
	MaxConcurrent int       `json:"maxConcurrent"`
	MaxPerMinute  int       `json:"maxPerMinute"`
	MaxPerMonth   int       `json:"maxPerMonth"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AuthVariant names the header-assembly strategy a Connection uses. The
// credential manager switches on this field; it never inspects the
// connector descriptor to decide how to authenticate.
type AuthVariant string

const (
	AuthBearer    AuthVariant = "bearer"
	AuthBasic     AuthVariant = "basic"
	AuthSSWS      AuthVariant = "ssws"
	AuthHeaderKey AuthVariant = "header_key"
	AuthOAuth2    AuthVariant = "oauth2"
	AuthSigned    AuthVariant = "signed"
)

// Connection stores the credential material and auth strategy for one
// tenant's link to one connector. Secrets live in Data; callers that persist
// a Connection are responsible for encrypting Data at rest, which is out of
// scope for this module.
type Connection struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"orgId"`
	ConnectorSlug  string         `json:"connectorSlug"`
	Variant        AuthVariant    `json:"variant"`
	Data           map[string]any `json:"data"`
	TenantHeaders  map[string]string `json:"tenantHeaders,omitempty"`
	TokenExpiresAt *time.Time     `json:"tokenExpiresAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// LifecycleStage is the connector descriptor's publication state, in the
// order a descriptor is expected to move through.
type LifecycleStage string

const (
	StagePlanning   LifecycleStage = "planning"
	StageBeta       LifecycleStage = "beta"
	StageStable     LifecycleStage = "stable"
	StageDeprecated LifecycleStage = "deprecated"
	StageSunset     LifecycleStage = "sunset"
)

// OperationSpec describes one invocable action a connector exposes: its
// input/output JSON Schema and the optional dedup override used by the
// trigger path.
type OperationSpec struct {
	Name            string         `json:"name"`
	Kind            string         `json:"kind"` // "action" | "trigger" | "search"
	InputSchema     map[string]any `json:"inputSchema"`
	OutputSchema    map[string]any `json:"outputSchema"`
	RequiredFields  []string       `json:"requiredFields"`
	DedupTTL        time.Duration  `json:"dedupTTL,omitempty"`
	SupportsCancel  bool           `json:"supportsCancel,omitempty"`
}

// ConnectorDescriptor is the registry's catalog entry for one connector:
// its identity, auth requirements, and the operations it exposes.
//
// SemanticVersion and SchemaVersion are independent axes: the former
// tracks the connector's own release cadence, the latter the shape of its
// persisted ConnectorDescriptor/OperationSpec records, bumped only when
// that shape changes. BetaStartAt/BetaEndAt bound the beta window;
// DeprecationStartAt and SunsetAt (when both present) must satisfy
// SunsetAt >= DeprecationStartAt >= BetaStartAt.
type ConnectorDescriptor struct {
	Slug               string          `json:"slug"`
	DisplayName        string          `json:"displayName"`
	Variant            AuthVariant     `json:"variant"`
	LifecycleStage     LifecycleStage  `json:"lifecycleStage"`
	SemanticVersion    string          `json:"semanticVersion"`
	SchemaVersion      int             `json:"schemaVersion"`
	IsBeta             bool            `json:"isBeta"`
	Operations         []OperationSpec `json:"operations"`
	BetaStartAt        *time.Time      `json:"betaStartAt,omitempty"`
	BetaEndAt          *time.Time      `json:"betaEndAt,omitempty"`
	DeprecationStartAt *time.Time      `json:"deprecationStartAt,omitempty"`
	SunsetAt           *time.Time      `json:"sunsetAt,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Node is one vertex of a Workflow's DAG: a bound connector operation plus
// its input-binding template, which is resolved at execution time against
// the outputs of its upstream nodes (engine/bind.go).
type Node struct {
	ID            string         `json:"id"`
	ConnectorSlug string         `json:"connectorSlug"`
	Operation     string         `json:"operation"`
	ConnectionID  string         `json:"connectionId"`
	Input         map[string]any `json:"input"`
	RetryPolicy   *RetryPolicy   `json:"retryPolicy,omitempty"`
}

// Edge is a directed dependency: To cannot start until From has succeeded.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RetryPolicy configures the node executor's exponential-backoff retry loop
// (engine/policy.go).
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts"`
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
}

// Workflow is a named, versioned DAG of Nodes and Edges belonging to one
// Organization.
type Workflow struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
