package domain

import "github.com/opencontainers/go-digest"

// Action identifies a single management action against one deployment.
type Action string

const (
	ActionAddContent  Action = "add-content"
	ActionDeploy      Action = "deploy"
	ActionFullReplace Action = "full-replace"
	ActionRedeploy    Action = "redeploy"
	ActionUndeploy    Action = "undeploy"
	ActionRemove      Action = "remove"
)

// Step is one action of an operation. Hash is set only for content-bearing
// actions; an empty hash means the content upload failed and the facility is
// expected to reject the step.
type Step struct {
	Action     Action        `json:"action"`
	Deployment string        `json:"deployment"`
	Hash       digest.Digest `json:"hash,omitempty"`
}

// Operation is the ordered group of steps produced by one scanner task.
// A deploy is add-content followed by deploy; an undeploy is undeploy
// followed by remove. The facility evaluates an operation as a unit.
type Operation struct {
	Steps []Step `json:"steps"`
}

// CompositeOperation is a batch of operations submitted as one request.
// Each operation receives an independent outcome, returned in request order.
type CompositeOperation struct {
	ID         string      `json:"id"`
	Operations []Operation `json:"operations"`
}

// OutcomeKind tags the result of one operation within a composite.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the per-operation result of a composite submission. A cancelled
// outcome is not an error: the facility backed out the operation due to
// cross-step interference and the caller should resubmit it.
type Outcome struct {
	Kind          OutcomeKind `json:"outcome"`
	FailureDetail string      `json:"failure_detail,omitempty"`
}
