package access

import (
	"slices"

	"site-decisions/internal/workflow"
)

// Authorizer answers the engine's identity questions from the RBAC policy.
// A step is decidable by anyone whose effective roles include the step's
// approver role. A meeting is manageable by its owner or by anyone granted
// the action on the meetings resource.
type Authorizer struct {
	rbac *RBAC
}

var _ workflow.Authorizer = (*Authorizer)(nil)

func NewAuthorizer(rbac *RBAC) *Authorizer {
	return &Authorizer{rbac: rbac}
}

func (a *Authorizer) CanDecide(actor workflow.Actor, step workflow.ApprovalStep) bool {
	return slices.Contains(a.rbac.Roles(actor), fold(step.ApproverRole))
}

func (a *Authorizer) CanManage(actor workflow.Actor, m workflow.Meeting, action string) bool {
	if actor.ID != "" && actor.ID == m.OwnerID {
		return true
	}
	return a.rbac.Can(actor, "meetings", action)
}
