package store

import "time"

// Room lifecycle.
const (
	RoomActive  = "active"
	RoomPaused  = "paused"
	RoomStopped = "stopped"
)

// Room visibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Worker agent states.
const (
	AgentIdle     = "idle"
	AgentThinking = "thinking"
	AgentActing   = "acting"
	AgentWaiting  = "waiting"
)

// Goal statuses.
const (
	GoalActive     = "active"
	GoalInProgress = "in_progress"
	GoalCompleted  = "completed"
	GoalAbandoned  = "abandoned"
)

// Decision statuses.
const (
	DecisionVoting    = "voting"
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionVetoed    = "vetoed"
	DecisionExpired   = "expired"
	DecisionAnnounced = "announced"
	DecisionObjected  = "objected"
	DecisionEffective = "effective"
)

// DecisionTerminal reports whether a decision status can never change again.
func DecisionTerminal(status string) bool {
	switch status {
	case DecisionApproved, DecisionRejected, DecisionVetoed, DecisionExpired, DecisionEffective:
		return true
	}
	return false
}

// Decision types.
const (
	DecisionStrategy   = "strategy"
	DecisionResource   = "resource"
	DecisionPersonnel  = "personnel"
	DecisionRuleChange = "rule_change"
	DecisionLowImpact  = "low_impact"
)

// Quorum thresholds.
const (
	ThresholdMajority      = "majority"
	ThresholdSupermajority = "supermajority"
	ThresholdUnanimous     = "unanimous"
)

// Tie-break policies.
const (
	TieBreakExpire = "expire"
	TieBreakQueen  = "queen_tiebreak"
)

// Vote values.
const (
	VoteYes     = "yes"
	VoteNo      = "no"
	VoteAbstain = "abstain"
)

// Task trigger types.
const (
	TriggerCron    = "cron"
	TriggerOnce    = "once"
	TriggerManual  = "manual"
	TriggerWebhook = "webhook"
)

// Task statuses.
const (
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
)

// Task-run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunTimedOut  = "timed_out"
	RunCancelled = "cancelled"
)

// RunTerminal reports whether a run status is final.
func RunTerminal(status string) bool {
	switch status {
	case RunCompleted, RunFailed, RunTimedOut, RunCancelled:
		return true
	}
	return false
}

// Console log entry types.
const (
	EntryStdout     = "stdout"
	EntryStderr     = "stderr"
	EntryToolCall   = "tool_call"
	EntryToolResult = "tool_result"
	EntryAssistant  = "assistant"
	EntrySystem     = "system"
)

// Watch statuses.
const (
	WatchActive = "active"
	WatchPaused = "paused"
)

// Memory entity types.
const (
	EntityFact       = "fact"
	EntityPreference = "preference"
	EntityPerson     = "person"
	EntityProject    = "project"
	EntityEvent      = "event"
)

// Wallet transaction types.
const (
	TxFund    = "fund"
	TxSend    = "send"
	TxReceive = "receive"
)

// Wallet transaction statuses.
const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

// RoomConfig is the per-room tuning blob stored as JSON on the room row.
type RoomConfig struct {
	QuorumThreshold      string `json:"quorumThreshold"`
	TieBreak             string `json:"tieBreak,omitempty"`
	VoteTimeoutMinutes   int    `json:"voteTimeoutMinutes"`
	MinVoters            int    `json:"minVoters,omitempty"`
	CycleGapMs           int    `json:"cycleGapMs"`
	MaxTurnsPerCycle     int    `json:"maxTurnsPerCycle"`
	MaxConcurrentTasks   int    `json:"maxConcurrentTasks"`
	QuietFrom            string `json:"quietFrom,omitempty"`
	QuietUntil           string `json:"quietUntil,omitempty"`
	Autonomy             string `json:"autonomy"`
	AutoApproveLowImpact bool   `json:"autoApproveLowImpact,omitempty"`
}

// DefaultRoomConfig returns the built-in room settings. New rooms start from
// these; config.RoomDefaults overrides them per install.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		QuorumThreshold:    ThresholdMajority,
		TieBreak:           TieBreakExpire,
		VoteTimeoutMinutes: 60,
		CycleGapMs:         30000,
		MaxTurnsPerCycle:   10,
		MaxConcurrentTasks: 3,
		Autonomy:           "semi",
	}
}

// Room is a persistent agent collective.
type Room struct {
	ID            int64
	Name          string
	Objective     string
	Status        string
	Visibility    string
	QueenWorkerID *int64
	Config        RoomConfig
	WebhookToken  string
	Referrer      string
	CreatedAt     int64
	UpdatedAt     int64
}

// Worker is an agent configuration. RoomID is nullable: workers may be
// global templates before being attached to a room.
type Worker struct {
	ID           int64
	RoomID       *int64
	Name         string
	Role         string
	SystemPrompt string
	Model        string
	IsDefault    bool
	AgentState   string
	CycleGapMs   int   // 0 = inherit room default
	MaxTurns     int   // 0 = inherit room default
	WIP          string
	VotesCast    int64
	VotesWon     int64
	CreatedAt    int64
	UpdatedAt    int64
}

// Goal is a node in the room's objective forest.
type Goal struct {
	ID           int64
	RoomID       int64
	ParentGoalID *int64
	WorkerID     *int64
	Description  string
	Status       string
	Progress     float64
	CreatedAt    int64
	UpdatedAt    int64
}

// GoalUpdate is an append-only progress observation.
type GoalUpdate struct {
	ID          int64
	GoalID      int64
	WorkerID    *int64
	Observation string
	MetricValue *float64
	CreatedAt   int64
}

// Decision is a quorum proposal record.
type Decision struct {
	ID            int64
	RoomID        int64
	ProposerID    *int64
	Proposal      string
	DecisionType  string
	Threshold     string
	MinVoters     int
	Sealed        bool
	TieBreak      string
	Status        string
	Result        string
	VoteTimeoutAt int64
	EffectiveAt   *int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Vote is one worker's ballot on a decision.
type Vote struct {
	ID         int64
	DecisionID int64
	WorkerID   int64
	Value      string
	Reasoning  string
	CreatedAt  int64
	UpdatedAt  int64
}

// Task is a repeatable unit of delegated work.
type Task struct {
	ID                int64
	RoomID            int64
	WorkerID          *int64
	Name              string
	Prompt            string
	TriggerType       string
	CronExpression    string
	ScheduledAt       *int64
	TriggerConfig     string // JSON blob
	Executor          string
	Status            string
	RunCount          int64
	ErrorCount        int64
	MaxRuns           int64 // 0 = unlimited
	SessionContinuity bool
	SessionID         string
	LearnedContext    string
	TimeoutMinutes    int
	MaxTurns          int
	AllowedTools      string // JSON array, empty = all
	DisallowedTools   string // JSON array
	WebhookToken      string
	LastRunAt         *int64
	CreatedAt         int64
	UpdatedAt         int64
}

// TaskRun is one execution of a task.
type TaskRun struct {
	ID              int64
	TaskID          int64
	CorrelationID   string
	Status          string
	StartedAt       *int64
	FinishedAt      *int64
	DurationMs      *int64
	ExitCode        *int64
	Result          string
	ErrorMessage    string
	ResultFile      string
	Progress        float64
	ProgressMessage string
	SessionID       string
	Trigger         string // what fired it: cron, once, manual, webhook, watch
	CreatedAt       int64
}

// ConsoleLog is one streamed line/event of a run.
type ConsoleLog struct {
	ID        int64
	RunID     int64
	Seq       int64
	EntryType string
	Content   string
	CreatedAt int64
}

// Watch is a filesystem watch bound to an action prompt.
type Watch struct {
	ID              int64
	RoomID          int64
	Path            string
	ActionPrompt    string
	Description     string
	Status          string
	TriggerCount    int64
	LastTriggeredAt *int64
	CreatedAt       int64
	UpdatedAt       int64
}

// Entity is a memory subject.
type Entity struct {
	ID         int64
	RoomID     int64
	Name       string
	EntityType string
	Category   string
	CreatedAt  int64
}

// Observation is append-only text attached to an entity.
type Observation struct {
	ID        int64
	EntityID  int64
	Content   string
	Source    string
	CreatedAt int64
}

// Relation links two entities.
type Relation struct {
	ID           int64
	FromEntityID int64
	ToEntityID   int64
	RelationType string
	CreatedAt    int64
}

// Wallet holds a room's encrypted key material.
type Wallet struct {
	ID           int64
	RoomID       int64
	Address      string
	EncryptedKey string
	Chain        string
	IdentityID   string
	CreatedAt    int64
}

// WalletTransaction is one row of the wallet ledger.
type WalletTransaction struct {
	ID           int64
	WalletID     int64
	TxType       string
	Amount       string // decimal string, never float
	Counterparty string
	TxHash       string
	Description  string
	Status       string
	CreatedAt    int64
}

// Activity is an append-only audit event.
type Activity struct {
	ID        int64
	RoomID    int64
	WorkerID  *int64
	EventType string
	Summary   string
	Payload   string // JSON blob
	CreatedAt int64
}

// Message is inter-worker or keeper mail within a room.
type Message struct {
	ID           int64
	RoomID       int64
	FromWorkerID *int64
	ToWorkerID   *int64 // nil = broadcast to the room
	Sender       string // label for external origins: "keeper", "webhook", "cloud"
	Content      string
	ReadAt       *int64
	CreatedAt    int64
}

// NowMs returns the current wall clock in Unix milliseconds, the timestamp
// unit used across all tables.
func NowMs() int64 { return time.Now().UnixMilli() }
