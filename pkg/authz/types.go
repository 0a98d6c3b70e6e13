package authz

import (
	"sort"
	"time"
)

// ObjectType identifies the kind of object an ACL or decision applies to
type ObjectType string

const (
	ObjectTypeEntity     ObjectType = "ENTITY"
	ObjectTypeTeam       ObjectType = "TEAM"
	ObjectTypeEvaluation ObjectType = "EVALUATION"
)

// Valid reports whether t is a known object type
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectTypeEntity, ObjectTypeTeam, ObjectTypeEvaluation:
		return true
	}
	return false
}

// AccessType is a named capability checked against an ACL
type AccessType string

const (
	AccessRead              AccessType = "READ"
	AccessCreate            AccessType = "CREATE"
	AccessUpdate            AccessType = "UPDATE"
	AccessDelete            AccessType = "DELETE"
	AccessDownload          AccessType = "DOWNLOAD"
	AccessUpload            AccessType = "UPLOAD"
	AccessChangePermissions AccessType = "CHANGE_PERMISSIONS"
	AccessModerate          AccessType = "MODERATE"
)

// Valid reports whether t is a known access type
func (t AccessType) Valid() bool {
	switch t {
	case AccessRead, AccessCreate, AccessUpdate, AccessDelete,
		AccessDownload, AccessUpload, AccessChangePermissions, AccessModerate:
		return true
	}
	return false
}

// Bootstrap principal ids. These rows are seeded by the schema and can never
// be deleted; every other principal id is allocated above BootstrapCeilingID.
const (
	AdminGroupID         int64 = 1
	AuthenticatedGroupID int64 = 2
	PublicGroupID        int64 = 3
	AnonymousPrincipalID int64 = 4
	CertifiedGroupID     int64 = 5
	BootstrapCeilingID   int64 = 100
)

// IDSet is a set of principal or object ids
type IDSet map[int64]struct{}

// NewIDSet builds a set from the given ids
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set
func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Values returns the ids in ascending order
func (s IDSet) Values() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Principal is the validated identity of a caller. It is constructed once per
// authenticated request and never mutated afterwards. Groups always contains
// the principal's own id plus every group it belongs to.
type Principal struct {
	ID      int64
	Groups  IDSet
	IsAdmin bool
}

// NewPrincipal constructs a Principal, copying groups and guaranteeing the
// principal's own id is a member of its group set.
func NewPrincipal(id int64, groups []int64, isAdmin bool) *Principal {
	set := NewIDSet(groups...)
	set.Add(id)
	return &Principal{ID: id, Groups: set, IsAdmin: isAdmin}
}

// AnonymousPrincipal returns the shared anonymous identity. Anonymous holds
// only the public group membership.
func AnonymousPrincipal() *Principal {
	return NewPrincipal(AnonymousPrincipalID, []int64{PublicGroupID}, false)
}

// IsAnonymous reports whether p is the anonymous principal
func (p *Principal) IsAnonymous() bool {
	return p.ID == AnonymousPrincipalID
}

// IsCertified reports whether p belongs to the certified users group
func (p *Principal) IsCertified() bool {
	return p.Groups.Contains(CertifiedGroupID)
}

// ResourceAccess grants a set of access types to one principal
type ResourceAccess struct {
	PrincipalID int64        `json:"principal_id"`
	AccessTypes []AccessType `json:"access_types"`
}

// AccessControlList is the permission set owned by a benefactor node.
// An ACL exists only on nodes that are their own benefactor; every other
// node's effective permissions are exactly its benefactor's ACL.
type AccessControlList struct {
	ID             int64            `json:"id"` // object id the ACL is attached to
	ObjectType     ObjectType       `json:"object_type"`
	ResourceAccess []ResourceAccess `json:"resource_access"`
	CreatedBy      int64            `json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
	Etag           string           `json:"etag"`
}

// Grants reports whether any of the given group ids is granted accessType
func (acl *AccessControlList) Grants(groups IDSet, accessType AccessType) bool {
	for _, ra := range acl.ResourceAccess {
		if !groups.Contains(ra.PrincipalID) {
			continue
		}
		for _, at := range ra.AccessTypes {
			if at == accessType {
				return true
			}
		}
	}
	return false
}

// UserEntityPermissions is the full permission bundle for one principal on
// one entity, computed in a single pass for UI consumption.
type UserEntityPermissions struct {
	CanView              bool  `json:"can_view"`
	CanEdit              bool  `json:"can_edit"`
	CanDelete            bool  `json:"can_delete"`
	CanDownload          bool  `json:"can_download"`
	CanAddChild          bool  `json:"can_add_child"`
	CanChangePermissions bool  `json:"can_change_permissions"`
	CanModerate          bool  `json:"can_moderate"`
	CanPublicRead        bool  `json:"can_public_read"`
	OwnerPrincipalID     int64 `json:"owner_principal_id"`
	IsCertified          bool  `json:"is_certified"`
}
