package hierarchy

import "time"

// NodeType classifies a node in the resource tree
type NodeType string

const (
	NodeTypeProject    NodeType = "project"
	NodeTypeFolder     NodeType = "folder"
	NodeTypeFile       NodeType = "file"
	NodeTypeDockerRepo NodeType = "dockerrepo"
	NodeTypeTrash      NodeType = "trash"
)

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeProject, NodeTypeFolder, NodeTypeFile, NodeTypeDockerRepo, NodeTypeTrash:
		return true
	}
	return false
}

// Node is a single resource in the tree. BenefactorID always points at the
// nearest ancestor that owns an ACL, or at the node itself when it owns one.
// Roots are always their own benefactor.
type Node struct {
	ID           int64     `json:"id"`
	ParentID     *int64    `json:"parentId,omitempty"`
	BenefactorID int64     `json:"benefactorId"`
	Type         NodeType  `json:"type"`
	Name         string    `json:"name"`
	CreatedBy    int64     `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	ETag         string    `json:"etag"`
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}
