package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

type fakeTxManager struct{}

func (fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

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

type fakeContentRepo struct {
	items    map[string]*models.ContentItem     // key proposalID/filePath
	versions map[string][]models.ContentVersion // key proposalID/filePath
	nextID   int
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{
		items:    make(map[string]*models.ContentItem),
		versions: make(map[string][]models.ContentVersion),
	}
}

func key(proposalID, filePath string) string { return proposalID + "/" + filePath }

func (f *fakeContentRepo) GetItem(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	if item, ok := f.items[key(proposalID, filePath)]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, fmt.Errorf("content '%s': %w", filePath, domain.ErrNotFound)
}

func (f *fakeContentRepo) GetItemForUpdate(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	return f.GetItem(ctx, proposalID, filePath)
}

func (f *fakeContentRepo) CreateItem(ctx context.Context, item *models.ContentItem) error {
	f.nextID++
	item.ID = fmt.Sprintf("item-%d", f.nextID)
	item.UpdatedAt = time.Now()
	cp := *item
	f.items[key(item.ProposalID, item.FilePath)] = &cp
	return nil
}

func (f *fakeContentRepo) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	k := key(item.ProposalID, item.FilePath)
	if _, ok := f.items[k]; !ok {
		return fmt.Errorf("content '%s': %w", item.FilePath, domain.ErrNotFound)
	}
	item.UpdatedAt = time.Now()
	cp := *item
	f.items[k] = &cp
	return nil
}

func (f *fakeContentRepo) ListItems(ctx context.Context, proposalID string) ([]models.ContentItem, error) {
	var out []models.ContentItem
	for _, item := range f.items {
		if item.ProposalID == proposalID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeContentRepo) DeleteItem(ctx context.Context, proposalID, filePath string) (bool, error) {
	k := key(proposalID, filePath)
	if _, ok := f.items[k]; !ok {
		return false, nil
	}
	delete(f.items, k)
	return true, nil
}

func (f *fakeContentRepo) CreateVersion(ctx context.Context, version *models.ContentVersion) error {
	f.nextID++
	version.ID = fmt.Sprintf("ver-%d", f.nextID)
	k := key(version.ProposalID, version.FilePath)
	f.versions[k] = append(f.versions[k], *version)
	return nil
}

func (f *fakeContentRepo) ListVersions(ctx context.Context, proposalID, filePath string) ([]models.ContentVersion, error) {
	vs := f.versions[key(proposalID, filePath)]
	// newest first
	out := make([]models.ContentVersion, len(vs))
	for i, v := range vs {
		out[len(vs)-1-i] = v
	}
	return out, nil
}

func (f *fakeContentRepo) GetVersion(ctx context.Context, proposalID, filePath string, version int) (*models.ContentVersion, error) {
	for _, v := range f.versions[key(proposalID, filePath)] {
		if v.Version == version {
			cp := v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("version %d of '%s': %w", version, filePath, domain.ErrNotFound)
}

func (f *fakeContentRepo) DeleteVersions(ctx context.Context, proposalID, filePath string) (int, error) {
	k := key(proposalID, filePath)
	n := len(f.versions[k])
	delete(f.versions, k)
	return n, nil
}

func newTestService(status models.ProposalStatus) (*Service, *fakeContentRepo) {
	contents := newFakeContentRepo()
	proposals := &fakeProposalRepo{proposals: map[string]*models.Proposal{
		"prop-1": {ID: "prop-1", ProjectID: "proj-1", AuthorID: "author-1", Name: "add-auth", Status: status},
	}}
	svc := NewService(contents, proposals, fakeTxManager{}, slog.New(slog.DiscardHandler))
	return svc, contents
}

var author = models.Actor{UserID: "author-1", Role: models.RoleAuthor}

func TestSaveCreatesFirstVersion(t *testing.T) {
	svc, contents := newTestService(models.StatusDraft)

	item, err := svc.Save(context.Background(), author, SaveRequest{
		ProposalID: "prop-1",
		FilePath:   "proposal.md",
		Content:    "# Change: add-auth",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if item.Version != 1 {
		t.Errorf("version = %d, want 1", item.Version)
	}
	if item.UpdatedBy != "author-1" {
		t.Errorf("updated_by = %q, want author-1", item.UpdatedBy)
	}

	history, _ := contents.ListVersions(context.Background(), "prop-1", "proposal.md")
	if len(history) != 0 {
		t.Errorf("first save should not create history, got %d entries", len(history))
	}
}

func TestSaveSnapshotsPreviousVersion(t *testing.T) {
	svc, contents := newTestService(models.StatusDraft)
	ctx := context.Background()

	if _, err := svc.Save(ctx, author, SaveRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "first",
	}); err != nil {
		t.Fatal(err)
	}

	reason := "tightened wording"
	other := models.Actor{UserID: "editor-2", Role: models.RoleAuthor}
	item, err := svc.Save(ctx, other, SaveRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "second", ChangeReason: &reason,
	})
	if err != nil {
		t.Fatal(err)
	}

	if item.Version != 2 {
		t.Errorf("version = %d, want 2", item.Version)
	}
	if item.Content != "second" || item.UpdatedBy != "editor-2" {
		t.Errorf("current row not updated: %+v", item)
	}

	history, _ := contents.ListVersions(ctx, "prop-1", "proposal.md")
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	snap := history[0]
	if snap.Version != 1 || snap.Content != "first" {
		t.Errorf("snapshot = v%d %q, want v1 \"first\"", snap.Version, snap.Content)
	}
	if snap.CreatedBy != "author-1" {
		t.Errorf("snapshot attributed to %q, want original editor author-1", snap.CreatedBy)
	}
	if snap.ChangeReason == nil || *snap.ChangeReason != reason {
		t.Errorf("snapshot reason = %v, want %q", snap.ChangeReason, reason)
	}
}

func TestSaveVersionsAreMonotonic(t *testing.T) {
	svc, contents := newTestService(models.StatusReview)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		item, err := svc.Save(ctx, author, SaveRequest{
			ProposalID: "prop-1", FilePath: "tasks.md", Content: fmt.Sprintf("rev %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		if item.Version != i {
			t.Fatalf("save %d produced version %d", i, item.Version)
		}
	}

	history, _ := contents.ListVersions(ctx, "prop-1", "tasks.md")
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	// Gap-free sequence: history holds 1..4, current row holds 5
	for i, v := range history {
		want := 4 - i
		if v.Version != want {
			t.Errorf("history[%d].Version = %d, want %d", i, v.Version, want)
		}
	}
}

func TestSaveRejectedForMergedProposal(t *testing.T) {
	svc, _ := newTestService(models.StatusMerged)

	_, err := svc.Save(context.Background(), author, SaveRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "too late",
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected invalid state error, got %v", err)
	}
}

func TestSaveRejectedForReadyProposal(t *testing.T) {
	svc, _ := newTestService(models.StatusReady)

	_, err := svc.Save(context.Background(), author, SaveRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "frozen",
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected invalid state error, got %v", err)
	}
}

func TestSaveUnknownProposal(t *testing.T) {
	svc, _ := newTestService(models.StatusDraft)

	_, err := svc.Save(context.Background(), author, SaveRequest{
		ProposalID: "missing", FilePath: "proposal.md", Content: "x",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSaveRejectsTraversalPath(t *testing.T) {
	svc, _ := newTestService(models.StatusDraft)

	_, err := svc.Save(context.Background(), author, SaveRequest{
		ProposalID: "prop-1", FilePath: "../outside.md", Content: "x",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRollbackSavesForward(t *testing.T) {
	svc, contents := newTestService(models.StatusDraft)
	ctx := context.Background()

	for _, body := range []string{"v1 body", "v2 body", "v3 body"} {
		if _, err := svc.Save(ctx, author, SaveRequest{
			ProposalID: "prop-1", FilePath: "proposal.md", Content: body,
		}); err != nil {
			t.Fatal(err)
		}
	}

	item, err := svc.Rollback(ctx, author, "prop-1", "proposal.md", 1)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if item.Version != 4 {
		t.Errorf("rollback produced version %d, want 4 (history is never rewritten)", item.Version)
	}
	if item.Content != "v1 body" {
		t.Errorf("content = %q, want v1 body", item.Content)
	}

	history, _ := contents.ListVersions(ctx, "prop-1", "proposal.md")
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// The v3 snapshot records why it was replaced
	if history[0].ChangeReason == nil || *history[0].ChangeReason != "Rollback to version 1" {
		t.Errorf("latest snapshot reason = %v, want \"Rollback to version 1\"", history[0].ChangeReason)
	}
}

func TestRollbackToMissingVersion(t *testing.T) {
	svc, _ := newTestService(models.StatusDraft)
	ctx := context.Background()

	if _, err := svc.Save(ctx, author, SaveRequest{
		ProposalID: "prop-1", FilePath: "proposal.md", Content: "only",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Rollback(ctx, author, "prop-1", "proposal.md", 7)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteRemovesContentAndHistory(t *testing.T) {
	svc, contents := newTestService(models.StatusDraft)
	ctx := context.Background()

	for _, body := range []string{"a", "b"} {
		if _, err := svc.Save(ctx, author, SaveRequest{
			ProposalID: "prop-1", FilePath: "design.md", Content: body,
		}); err != nil {
			t.Fatal(err)
		}
	}

	existed, err := svc.Delete(ctx, "prop-1", "design.md")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Error("expected existed=true")
	}

	if _, err := svc.Get(ctx, "prop-1", "design.md"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("content still present after delete: %v", err)
	}
	history, _ := contents.ListVersions(ctx, "prop-1", "design.md")
	if len(history) != 0 {
		t.Errorf("history not purged, %d entries remain", len(history))
	}

	existed, err = svc.Delete(ctx, "prop-1", "design.md")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Error("expected existed=false on second delete")
	}
}
