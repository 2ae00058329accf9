package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/service/audit"
)

type fakeProposalRepo struct {
	proposals map[string]*models.Proposal
}

func (f *fakeProposalRepo) Create(ctx context.Context, p *models.Proposal) error { return nil }
func (f *fakeProposalRepo) GetByID(ctx context.Context, id string) (*models.Proposal, error) {
	if p, ok := f.proposals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
}
func (f *fakeProposalRepo) GetByName(ctx context.Context, projectID, name string) (*models.Proposal, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeProposalRepo) List(ctx context.Context, projectID string, filter repositories.ProposalFilter) ([]models.Proposal, error) {
	return nil, nil
}
func (f *fakeProposalRepo) Update(ctx context.Context, p *models.Proposal) error { return nil }
func (f *fakeProposalRepo) Delete(ctx context.Context, id string) error          { return nil }
func (f *fakeProposalRepo) CountByStatus(ctx context.Context, projectID string) (map[models.ProposalStatus]int, error) {
	return nil, nil
}

type fakeCommentRepo struct {
	comments map[string]*models.ReviewComment
	nextID   int
}

func newFakeCommentRepo() *fakeCommentRepo {
	return &fakeCommentRepo{comments: make(map[string]*models.ReviewComment)}
}

func (f *fakeCommentRepo) Create(ctx context.Context, c *models.ReviewComment) error {
	f.nextID++
	c.ID = fmt.Sprintf("comment-%d", f.nextID)
	cp := *c
	f.comments[c.ID] = &cp
	return nil
}

func (f *fakeCommentRepo) GetByID(ctx context.Context, id, proposalID string) (*models.ReviewComment, error) {
	if c, ok := f.comments[id]; ok && c.ProposalID == proposalID {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
}

func (f *fakeCommentRepo) List(ctx context.Context, proposalID string, filter repositories.CommentFilter) ([]models.ReviewComment, error) {
	var out []models.ReviewComment
	for _, c := range f.comments {
		if c.ProposalID != proposalID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.FilePath != "" && c.FilePath != filter.FilePath {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeCommentRepo) Update(ctx context.Context, c *models.ReviewComment) error {
	if _, ok := f.comments[c.ID]; !ok {
		return fmt.Errorf("comment %s: %w", c.ID, domain.ErrNotFound)
	}
	cp := *c
	f.comments[c.ID] = &cp
	return nil
}

func (f *fakeCommentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.comments[id]; !ok {
		return fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}
	delete(f.comments, id)
	return nil
}

func (f *fakeCommentRepo) HasReplies(ctx context.Context, id string) (bool, error) {
	for _, c := range f.comments {
		if c.ParentID != nil && *c.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCommentRepo) CountByStatus(ctx context.Context, proposalID string) (map[models.CommentStatus]int, error) {
	counts := make(map[models.CommentStatus]int)
	for _, c := range f.comments {
		if c.ProposalID == proposalID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

func (f *fakeCommentRepo) ListSelected(ctx context.Context, proposalID, filePath string) ([]models.ReviewComment, error) {
	var out []models.ReviewComment
	for _, c := range f.comments {
		if c.ProposalID == proposalID && c.Status == models.CommentAccepted && c.SelectedForIteration {
			if filePath == "" || c.FilePath == filePath {
				out = append(out, *c)
			}
		}
	}
	return out, nil
}

func (f *fakeCommentRepo) ClearSelection(ctx context.Context, proposalID, filePath string) (int, error) {
	cleared := 0
	for _, c := range f.comments {
		if c.ProposalID == proposalID && c.SelectedForIteration {
			if filePath == "" || c.FilePath == filePath {
				c.SelectedForIteration = false
				cleared++
			}
		}
	}
	return cleared, nil
}

type fakeAuditRepo struct{ entries []models.AuditEntry }

func (f *fakeAuditRepo) Create(ctx context.Context, e *models.AuditEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}
func (f *fakeAuditRepo) ListByResource(ctx context.Context, resourceType, resourceID string, offset, limit int) ([]models.AuditEntry, error) {
	return f.entries, nil
}

var (
	proposalAuthor = models.Actor{UserID: "author-1", Role: models.RoleAuthor}
	reviewer       = models.Actor{UserID: "reviewer-1", Role: models.RoleReviewer}
	admin          = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func newTestService(status models.ProposalStatus) (*Service, *fakeCommentRepo) {
	comments := newFakeCommentRepo()
	proposals := &fakeProposalRepo{proposals: map[string]*models.Proposal{
		"prop-1": {ID: "prop-1", ProjectID: "proj-1", AuthorID: "author-1", Name: "add-auth", Status: status},
	}}
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(comments, proposals, audit.NewService(&fakeAuditRepo{}, logger), logger)
	return svc, comments
}

func mustCreate(t *testing.T, svc *Service, actor models.Actor) *models.ReviewComment {
	t.Helper()
	c, err := svc.Create(context.Background(), actor, CreateRequest{
		ProposalID: "prop-1",
		FilePath:   "proposal.md",
		Content:    "needs a rationale section",
	})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	return c
}

func TestCreateComment(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)

	c := mustCreate(t, svc, reviewer)
	if c.Status != models.CommentOpen {
		t.Errorf("new comment status = %s, want open", c.Status)
	}
	if c.SelectedForIteration {
		t.Error("new comment must not be selected for iteration")
	}
}

func TestCreateCommentOnlyInReview(t *testing.T) {
	for _, status := range []models.ProposalStatus{models.StatusDraft, models.StatusReady, models.StatusMerged} {
		svc, _ := newTestService(status)
		_, err := svc.Create(context.Background(), reviewer, CreateRequest{
			ProposalID: "prop-1", FilePath: "proposal.md", Content: "x",
		})
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("status %s: expected invalid state error, got %v", status, err)
		}
	}
}

func TestAuthorCannotCommentOwnProposal(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)

	_, err := svc.Create(context.Background(), proposalAuthor, CreateRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "self review",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateReplyRequiresExistingParent(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)

	missing := "comment-999"
	_, err := svc.Create(context.Background(), reviewer, CreateRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "re", ParentID: &missing,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	parent := mustCreate(t, svc, reviewer)
	reply, err := svc.Create(context.Background(), reviewer, CreateRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "re", ParentID: &parent.ID,
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != parent.ID {
		t.Error("reply parent not recorded")
	}
}

func TestUpdateOwnerAndStateRules(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()
	c := mustCreate(t, svc, reviewer)

	newText := "sharper wording"
	if _, err := svc.Update(ctx, reviewer, "prop-1", c.ID, UpdateRequest{Content: &newText}); err != nil {
		t.Fatalf("owner edit: %v", err)
	}

	other := models.Actor{UserID: "reviewer-2", Role: models.RoleReviewer}
	if _, err := svc.Update(ctx, other, "prop-1", c.ID, UpdateRequest{Content: &newText}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-owner edit: expected forbidden, got %v", err)
	}

	// Admin may edit someone else's comment
	if _, err := svc.Update(ctx, admin, "prop-1", c.ID, UpdateRequest{Content: &newText}); err != nil {
		t.Errorf("admin edit: %v", err)
	}

	// Resolved comments are frozen
	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentRejected, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Update(ctx, reviewer, "prop-1", c.ID, UpdateRequest{Content: &newText}); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("edit after resolve: expected invalid state, got %v", err)
	}
}

func TestDeleteCommentWithRepliesRejected(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()

	parent := mustCreate(t, svc, reviewer)
	if _, err := svc.Create(ctx, reviewer, CreateRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "re", ParentID: &parent.ID,
	}); err != nil {
		t.Fatal(err)
	}

	err := svc.Delete(ctx, reviewer, "prop-1", parent.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}

	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.ResourceID != parent.ID {
		t.Errorf("conflict should carry the comment ID, got %+v", conflict)
	}
}

func TestResolveAcceptedAutoSelects(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()
	c := mustCreate(t, svc, reviewer)

	response := "will address in next round"
	resolved, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentAccepted, &response)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if resolved.Status != models.CommentAccepted {
		t.Errorf("status = %s, want accepted", resolved.Status)
	}
	if !resolved.SelectedForIteration {
		t.Error("accepting must auto-select for iteration")
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "author-1" {
		t.Error("resolution metadata missing")
	}
	if resolved.AuthorResponse == nil || *resolved.AuthorResponse != response {
		t.Error("author response not recorded")
	}
}

func TestResolveRejectedDoesNotSelect(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	c := mustCreate(t, svc, reviewer)

	resolved, err := svc.Resolve(context.Background(), proposalAuthor, "prop-1", c.ID, models.CommentRejected, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.SelectedForIteration {
		t.Error("rejected comment must not be selected for iteration")
	}
}

func TestResolveRules(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()
	c := mustCreate(t, svc, reviewer)

	// Reviewer cannot resolve
	if _, err := svc.Resolve(ctx, reviewer, "prop-1", c.ID, models.CommentAccepted, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("reviewer resolve: expected forbidden, got %v", err)
	}

	// Resolving to OPEN is a misuse of the endpoint
	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentOpen, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("resolve to open: expected validation error, got %v", err)
	}

	// Author cannot re-resolve, admin can
	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentDeferred, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentAccepted, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("re-resolve by author: expected invalid state, got %v", err)
	}
	if _, err := svc.Resolve(ctx, admin, "prop-1", c.ID, models.CommentAccepted, nil); err != nil {
		t.Errorf("re-resolve by admin: %v", err)
	}
}

func TestReopenClearsResolutionAndSelection(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()
	c := mustCreate(t, svc, reviewer)

	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentAccepted, nil); err != nil {
		t.Fatal(err)
	}

	reopened, err := svc.Reopen(ctx, reviewer, "prop-1", c.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if reopened.Status != models.CommentOpen {
		t.Errorf("status = %s, want open", reopened.Status)
	}
	if reopened.ResolvedAt != nil || reopened.ResolvedBy != nil {
		t.Error("resolution metadata not cleared")
	}
	if reopened.SelectedForIteration {
		t.Error("selection not cleared on reopen")
	}

	if _, err := svc.Reopen(ctx, reviewer, "prop-1", c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("reopening open comment: expected invalid state, got %v", err)
	}
}

func TestSetSelectionOnlyAccepted(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()
	c := mustCreate(t, svc, reviewer)

	if _, err := svc.SetSelection(ctx, proposalAuthor, "prop-1", c.ID, true); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("selecting open comment: expected invalid state, got %v", err)
	}

	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c.ID, models.CommentAccepted, nil); err != nil {
		t.Fatal(err)
	}

	updated, err := svc.SetSelection(ctx, proposalAuthor, "prop-1", c.ID, false)
	if err != nil {
		t.Fatalf("deselect: %v", err)
	}
	if updated.SelectedForIteration {
		t.Error("expected selection off")
	}

	if _, err := svc.SetSelection(ctx, reviewer, "prop-1", c.ID, true); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("reviewer toggling selection: expected forbidden, got %v", err)
	}
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()

	c1 := mustCreate(t, svc, reviewer)
	c2 := mustCreate(t, svc, reviewer)
	mustCreate(t, svc, reviewer)

	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c1.ID, models.CommentAccepted, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", c2.ID, models.CommentRejected, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(ctx, "prop-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus["open"] != 1 || stats.ByStatus["accepted"] != 1 || stats.ByStatus["rejected"] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
	if stats.SelectedForIteration != 1 {
		t.Errorf("selected = %d, want 1", stats.SelectedForIteration)
	}
	if stats.AllResolved {
		t.Error("all_resolved should be false with an open comment")
	}
}

func TestClearSelection(t *testing.T) {
	svc, _ := newTestService(models.StatusReview)
	ctx := context.Background()

	c1 := mustCreate(t, svc, reviewer)
	c2 := mustCreate(t, svc, reviewer)
	for _, id := range []string{c1.ID, c2.ID} {
		if _, err := svc.Resolve(ctx, proposalAuthor, "prop-1", id, models.CommentAccepted, nil); err != nil {
			t.Fatal(err)
		}
	}

	cleared, err := svc.ClearSelection(ctx, "prop-1", "")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}

	selected, _ := svc.ListSelected(ctx, "prop-1", "")
	if len(selected) != 0 {
		t.Errorf("%d comments still selected", len(selected))
	}
}
