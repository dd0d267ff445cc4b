package store

import (
	"time"
)

// Conversation modes.
const (
	ModeManual       = "manual"
	ModeTag          = "tag"
	ModeRoundtable   = "roundtable"
	ModeOrchestrator = "orchestrator"
	ModeStandalone   = "standalone"
)

// Turn statuses.
const (
	TurnCompleted = "completed"
	TurnPartial   = "partial"
	TurnFailed    = "failed"
)

// Message roles and visibilities.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	VisibilityShared  = "shared"
	VisibilityPrivate = "private"
)

// Uploaded-file parse statuses.
const (
	ParsePending   = "pending"
	ParseCompleted = "completed"
	ParseFailed    = "failed"
)

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type Agent struct {
	ID              string
	OwnerID         string
	AgentKey        string
	Name            string
	ModelAlias      string
	RolePrompt      string
	ToolPermissions []string
	DeletedAt       *time.Time
	CreatedAt       time.Time
}

type Room struct {
	ID          string
	OwnerID     string
	CurrentMode string
	Goal        string
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

type RoomAgent struct {
	RoomID    string
	AgentID   string
	Position  int
	CreatedAt time.Time
}

// Session is scoped to exactly one of RoomID or AgentID (standalone).
type Session struct {
	ID        string
	RoomID    *string
	AgentID   *string
	StartedBy string
	DeletedAt *time.Time
	CreatedAt time.Time
}

type Turn struct {
	ID              string
	SessionID       string
	TurnIndex       int
	Mode            string
	UserInput       string
	AssistantOutput string
	Status          string
	CreatedAt       time.Time
}

type Message struct {
	ID             string
	SessionID      string
	TurnID         *string
	Role           string
	Visibility     string
	AgentKey       *string
	SourceAgentKey *string
	Content        string
	CreatedAt      time.Time
}

// MessageID, MessageRole and MessageContent implement the planner's history
// entry contract.
func (m *Message) MessageID() string      { return m.ID }
func (m *Message) MessageRole() string    { return m.Role }
func (m *Message) MessageContent() string { return m.Content }

type SessionSummary struct {
	ID            string
	SessionID     string
	FromMessageID string
	ToMessageID   string
	SummaryText   string
	KeyFacts      []string
	Decisions     []string
	OpenQuestions []string
	ActionItems   []string
	CreatedAt     time.Time
}

type TurnContextAudit struct {
	ID                    string
	TurnID                string
	ModelContextLimit     int
	InputBudget           int
	EstimatedBefore       int
	EstimatedAfterSummary int
	EstimatedAfterPrune   int
	SummaryTriggered      bool
	PruneTriggered        bool
	OverflowRejected      bool
	OutputReserve         int
	OverheadReserve       int
	ModelAliasUsed        string
	CreatedAt             time.Time
}

type LlmCallEvent struct {
	ID             string
	UserID         string
	RoomID         *string
	SessionID      *string
	TurnID         *string
	AgentID        *string
	Provider       string
	ModelAlias     string
	ProviderModel  string
	FreshTokens    int
	CachedTokens   int
	OutputTokens   int
	TotalTokens    int
	OETokens       float64
	CreditsBurned  string
	PricingVersion string
	Status         string
	CreatedAt      time.Time
}

type ToolCallEvent struct {
	ID             string
	UserID         string
	RoomID         *string
	SessionID      string
	TurnID         string
	AgentKey       *string
	ToolName       string
	ToolInputJSON  string
	ToolOutputJSON string
	Status         string
	LatencyMS      int64
	CreditsCharged string
	CreatedAt      time.Time
}

type CreditWallet struct {
	ID        string
	UserID    string
	Balance   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreditTransaction struct {
	ID          string
	WalletID    string
	UserID      string
	Amount      string
	Kind        string
	ReferenceID *string
	InitiatedBy *string
	Note        *string
	CreatedAt   time.Time
}

type PricingVersion struct {
	ID            string
	Label         string
	EffectiveDate time.Time
	IsActive      bool
}

type ModelPricing struct {
	VersionID  string
	ModelAlias string
	Multiplier float64
}

type UploadedFile struct {
	ID           string
	OwnerID      string
	RoomID       *string
	SessionID    *string
	Filename     string
	ParseStatus  string
	ParsedText   *string
	ErrorMessage *string
	CreatedAt    time.Time
}
