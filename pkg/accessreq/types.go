package accessreq

import (
	"time"

	"github.com/platinummonkey/warden/pkg/authz"
)

// RequirementType discriminates the concrete kind of requirement
type RequirementType string

const (
	// RequirementTypeTermsOfUse is satisfied by the accessor agreeing to
	// attached terms.
	RequirementTypeTermsOfUse RequirementType = "terms_of_use"
	// RequirementTypeManagedACT is satisfied only by an approval granted
	// through a managed review process.
	RequirementTypeManagedACT RequirementType = "managed_act"
	// RequirementTypeLock blocks the gated action for everyone until the
	// requirement is removed.
	RequirementTypeLock RequirementType = "lock"
)

// Valid reports whether t is a known requirement type
func (t RequirementType) Valid() bool {
	switch t {
	case RequirementTypeTermsOfUse, RequirementTypeManagedACT, RequirementTypeLock:
		return true
	}
	return false
}

// AccessRequirement is a compliance condition attached to one or more nodes,
// gating an access type independently of ACL grants.
type AccessRequirement struct {
	ID          int64            `json:"id"`
	Type        RequirementType  `json:"type"`
	AccessType  authz.AccessType `json:"access_type"`
	SubjectIDs  []int64          `json:"subject_ids"`
	Terms       string           `json:"terms,omitempty"`
	CreatedBy   int64            `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	ModifiedAt  time.Time        `json:"modified_at"`
	Description string           `json:"description,omitempty"`
}

// Approval records that an accessor (a principal or group id) has satisfied
// a requirement.
type Approval struct {
	ID            int64     `json:"id"`
	RequirementID int64     `json:"requirement_id"`
	AccessorID    int64     `json:"accessor_id"`
	GrantedBy     int64     `json:"granted_by"`
	GrantedAt     time.Time `json:"granted_at"`
}
