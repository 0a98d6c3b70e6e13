package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/registry"
)

const (
	testProjectID = int64(100)
	testFolderID  = int64(200)
	testFileID    = int64(300)
	testRepoID    = int64(456)
	aliceID       = int64(7001)
	bobID         = int64(7002)
	adminID       = int64(7099)
)

type fakeNode struct {
	parent     *int64
	benefactor int64
	creator    int64
	isProject  bool
}

type aclKey struct {
	id         int64
	objectType authz.ObjectType
}

type approvalKey struct {
	requirementID int64
	accessorID    int64
}

// fakeBackend is one in-memory world implementing every store interface the
// handlers touch.
type fakeBackend struct {
	nodes        map[int64]*fakeNode
	acls         map[aclKey]*authz.AccessControlList
	requirements map[int64]*accessreq.AccessRequirement
	approvals    map[approvalKey]bool
	repos        map[string]*registry.Repository
	events       map[string]*registry.Event
	nextID       int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nodes:        make(map[int64]*fakeNode),
		acls:         make(map[aclKey]*authz.AccessControlList),
		requirements: make(map[int64]*accessreq.AccessRequirement),
		approvals:    make(map[approvalKey]bool),
		repos:        make(map[string]*registry.Repository),
		events:       make(map[string]*registry.Event),
		nextID:       9000,
	}
}

func (b *fakeBackend) addNode(id int64, parent *int64, benefactor, creator int64, isProject bool) {
	b.nodes[id] = &fakeNode{parent: parent, benefactor: benefactor, creator: creator, isProject: isProject}
}

func (b *fakeBackend) setACL(id int64, access ...authz.ResourceAccess) {
	b.acls[aclKey{id, authz.ObjectTypeEntity}] = &authz.AccessControlList{
		ID:             id,
		ObjectType:     authz.ObjectTypeEntity,
		ResourceAccess: access,
		Etag:           "etag-1",
	}
}

func (b *fakeBackend) GetBenefactor(_ context.Context, nodeID int64) (int64, error) {
	n, ok := b.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return n.benefactor, nil
}

func (b *fakeBackend) GetCreatedBy(_ context.Context, nodeID int64) (int64, error) {
	n, ok := b.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return n.creator, nil
}

func (b *fakeBackend) IsProject(_ context.Context, nodeID int64) (bool, error) {
	n, ok := b.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	return n.isProject, nil
}

func (b *fakeBackend) RebindBenefactor(_ context.Context, nodeID, oldBenefactor, newBenefactor int64) error {
	for id, n := range b.nodes {
		if n.benefactor == oldBenefactor && b.inSubtree(id, nodeID) {
			n.benefactor = newBenefactor
		}
	}
	return nil
}

func (b *fakeBackend) ParentBenefactor(_ context.Context, nodeID int64) (int64, error) {
	n, ok := b.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	if n.parent == nil {
		return 0, fmt.Errorf("node %d is a root: %w", nodeID, authz.ErrInvalidInput)
	}
	return b.nodes[*n.parent].benefactor, nil
}

func (b *fakeBackend) inSubtree(id, rootID int64) bool {
	for {
		if id == rootID {
			return true
		}
		n, ok := b.nodes[id]
		if !ok || n.parent == nil {
			return false
		}
		id = *n.parent
	}
}

func (b *fakeBackend) Get(_ context.Context, objectID int64, objectType authz.ObjectType) (*authz.AccessControlList, error) {
	acl, ok := b.acls[aclKey{objectID, objectType}]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return acl, nil
}

func (b *fakeBackend) Create(_ context.Context, acl *authz.AccessControlList) error {
	b.acls[aclKey{acl.ID, acl.ObjectType}] = acl
	return nil
}

func (b *fakeBackend) Delete(_ context.Context, objectID int64, objectType authz.ObjectType) error {
	delete(b.acls, aclKey{objectID, objectType})
	return nil
}

func (b *fakeBackend) Replace(_ context.Context, acl *authz.AccessControlList) error {
	b.acls[aclKey{acl.ID, acl.ObjectType}] = acl
	return nil
}

func (b *fakeBackend) CanAccess(_ context.Context, groups authz.IDSet, benefactorID int64, objectType authz.ObjectType, accessType authz.AccessType) (bool, error) {
	acl, ok := b.acls[aclKey{benefactorID, objectType}]
	if !ok {
		return false, authz.ErrNoACL
	}
	return acl.Grants(groups, accessType), nil
}

func (b *fakeBackend) AccessibleBenefactors(_ context.Context, groups authz.IDSet, objectType authz.ObjectType, candidates authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	for id := range candidates {
		if acl, ok := b.acls[aclKey{id, objectType}]; ok && acl.Grants(groups, authz.AccessRead) {
			out.Add(id)
		}
	}
	return out, nil
}

func (b *fakeBackend) AccessibleProjectIDs(_ context.Context, principals authz.IDSet) (authz.IDSet, error) {
	out := authz.IDSet{}
	for id, n := range b.nodes {
		if !n.isProject {
			continue
		}
		if acl, ok := b.acls[aclKey{n.benefactor, authz.ObjectTypeEntity}]; ok && acl.Grants(principals, authz.AccessRead) {
			out.Add(id)
		}
	}
	return out, nil
}

func (b *fakeBackend) NonVisibleChildren(_ context.Context, groups authz.IDSet, parentID int64) ([]int64, error) {
	var hidden []int64
	for id, n := range b.nodes {
		if n.parent == nil || *n.parent != parentID {
			continue
		}
		acl, ok := b.acls[aclKey{n.benefactor, authz.ObjectTypeEntity}]
		if !ok || !acl.Grants(groups, authz.AccessRead) {
			hidden = append(hidden, id)
		}
	}
	sort.Slice(hidden, func(i, j int) bool { return hidden[i] < hidden[j] })
	return hidden, nil
}

func (b *fakeBackend) AncestorIDs(_ context.Context, nodeID int64, includeSelf bool) ([]int64, error) {
	n, ok := b.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", nodeID, authz.ErrNotFound)
	}
	var ids []int64
	if includeSelf {
		ids = append(ids, nodeID)
	}
	for n.parent != nil {
		ids = append(ids, *n.parent)
		n = b.nodes[*n.parent]
	}
	return ids, nil
}

func (b *fakeBackend) UnmetRequirementIDs(_ context.Context, subjectIDs []int64, accessType authz.AccessType, accessorIDs []int64) ([]int64, error) {
	subjects := authz.NewIDSet(subjectIDs...)
	var unmet []int64
	for id, req := range b.requirements {
		if req.AccessType != accessType {
			continue
		}
		attached := false
		for _, s := range req.SubjectIDs {
			if subjects.Contains(s) {
				attached = true
				break
			}
		}
		if !attached {
			continue
		}
		approved := false
		for _, accessor := range accessorIDs {
			if b.approvals[approvalKey{id, accessor}] {
				approved = true
				break
			}
		}
		if !approved {
			unmet = append(unmet, id)
		}
	}
	sort.Slice(unmet, func(i, j int) bool { return unmet[i] < unmet[j] })
	return unmet, nil
}

func (b *fakeBackend) RequirementsForSubjects(_ context.Context, subjectIDs []int64) ([]accessreq.AccessRequirement, error) {
	subjects := authz.NewIDSet(subjectIDs...)
	var out []accessreq.AccessRequirement
	for _, req := range b.requirements {
		for _, s := range req.SubjectIDs {
			if subjects.Contains(s) {
				out = append(out, *req)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) GetRequirement(_ context.Context, id int64) (*accessreq.AccessRequirement, error) {
	req, ok := b.requirements[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return req, nil
}

func (b *fakeBackend) CreateRequirement(_ context.Context, req *accessreq.AccessRequirement) error {
	if !req.Type.Valid() || len(req.SubjectIDs) == 0 {
		return fmt.Errorf("%w: malformed requirement", authz.ErrInvalidInput)
	}
	b.nextID++
	req.ID = b.nextID
	req.CreatedAt = time.Now().UTC()
	b.requirements[req.ID] = req
	return nil
}

func (b *fakeBackend) CreateApproval(_ context.Context, approval *accessreq.Approval) error {
	b.nextID++
	approval.ID = b.nextID
	approval.GrantedAt = time.Now().UTC()
	b.approvals[approvalKey{approval.RequirementID, approval.AccessorID}] = true
	return nil
}

func (b *fakeBackend) ResolveRepository(_ context.Context, repositoryPath string) (*registry.Repository, error) {
	repo, ok := b.repos[repositoryPath]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return repo, nil
}

func (b *fakeBackend) EnsureRepository(_ context.Context, repositoryPath string, parentProjectID, createdBy int64) (*registry.Repository, error) {
	if repo, ok := b.repos[repositoryPath]; ok {
		return repo, nil
	}
	b.nextID++
	nodeID := b.nextID
	parent := parentProjectID
	b.addNode(nodeID, &parent, b.nodes[parentProjectID].benefactor, createdBy, false)
	repo := &registry.Repository{
		NodeID:          nodeID,
		Name:            repositoryPath,
		ParentProjectID: parentProjectID,
		CreatedAt:       time.Now().UTC(),
	}
	b.repos[repositoryPath] = repo
	return repo, nil
}

func (b *fakeBackend) addRepo(path string, nodeID, projectID int64) {
	b.repos[path] = &registry.Repository{NodeID: nodeID, Name: path, ParentProjectID: projectID}
}

func (b *fakeBackend) RecordEvent(_ context.Context, event *registry.Event) (bool, error) {
	if _, ok := b.events[event.EventID]; ok {
		return false, nil
	}
	b.events[event.EventID] = event
	return true, nil
}

func (b *fakeBackend) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for id, event := range b.events {
		if event.OccurredAt.Before(cutoff) {
			delete(b.events, id)
			purged++
		}
	}
	return purged, nil
}

// seedTree builds project -> folder -> file plus a docker repository node
// under the project. Alice created the file.
func (b *fakeBackend) seedTree() {
	project, folder := testProjectID, testFolderID
	b.addNode(testProjectID, nil, testProjectID, bobID, true)
	b.addNode(testFolderID, &project, testProjectID, bobID, false)
	b.addNode(testFileID, &folder, testProjectID, aliceID, false)
	b.addNode(testRepoID, &project, testProjectID, bobID, false)
	b.addRepo("proj100/app", testRepoID, testProjectID)
}

func newTestServer(t *testing.T) (http.Handler, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	backend.seedTree()

	obsLogger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gate := accessreq.NewGate(backend, backend, obsLogger, nil)
	evaluator := authz.NewEvaluator(backend, backend, gate, obsLogger)
	manager := authz.NewACLManager(backend, backend, evaluator, obsLogger)
	resolver := registry.NewScopeResolver(backend, evaluator, obsLogger, nil)
	processor := registry.NewEventProcessor(backend, backend, nil, obsLogger, nil)

	srv := NewServer(Dependencies{
		Evaluator:        evaluator,
		ACLManager:       manager,
		Hierarchy:        backend,
		ChildrenLister:   backend,
		Gate:             gate,
		RequirementStore: backend,
		ScopeResolver:    resolver,
		EventProcessor:   processor,
	}, logger)

	handler := middleware.NewPrincipalMiddleware(obsLogger).Handler(srv.Router())
	return handler, backend
}

// do performs a request as the given principal. principalID zero sends no
// identity headers, so the caller is anonymous.
func do(t *testing.T, handler http.Handler, method, path string, principalID int64, groups []int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	if principalID != 0 {
		r.Header.Set(middleware.PrincipalHeader, strconv.FormatInt(principalID, 10))
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, strconv.FormatInt(g, 10))
		}
		if len(parts) > 0 {
			r.Header.Set(middleware.GroupsHeader, strings.Join(parts, ","))
		}
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}
