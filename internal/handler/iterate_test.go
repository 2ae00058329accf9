package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	domainllm "specdeck/internal/domain/services/llm"
	"specdeck/internal/httputil"
	contentsvc "specdeck/internal/service/content"
	"specdeck/internal/service/events"
	iteratesvc "specdeck/internal/service/iterate"
	llmsvc "specdeck/internal/service/llm"
)

type stubTxManager struct{}

func (s *stubTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

type stubProposalRepo struct {
	proposals map[string]*models.Proposal
}

func (s *stubProposalRepo) Create(ctx context.Context, p *models.Proposal) error { return nil }
func (s *stubProposalRepo) GetByID(ctx context.Context, id string) (*models.Proposal, error) {
	if p, ok := s.proposals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}
func (s *stubProposalRepo) GetByName(ctx context.Context, projectID, name string) (*models.Proposal, error) {
	return nil, domain.ErrNotFound
}
func (s *stubProposalRepo) List(ctx context.Context, projectID string, filter repositories.ProposalFilter) ([]models.Proposal, error) {
	return []models.Proposal{}, nil
}
func (s *stubProposalRepo) Update(ctx context.Context, p *models.Proposal) error { return nil }
func (s *stubProposalRepo) Delete(ctx context.Context, id string) error          { return nil }
func (s *stubProposalRepo) CountByStatus(ctx context.Context, projectID string) (map[models.ProposalStatus]int, error) {
	return map[models.ProposalStatus]int{}, nil
}

type stubContentRepo struct {
	items    map[string]*models.ContentItem
	versions []*models.ContentVersion
}

func (s *stubContentRepo) GetItem(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	if item, ok := s.items[proposalID+"/"+filePath]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}
func (s *stubContentRepo) GetItemForUpdate(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	return s.GetItem(ctx, proposalID, filePath)
}
func (s *stubContentRepo) CreateItem(ctx context.Context, item *models.ContentItem) error {
	cp := *item
	s.items[item.ProposalID+"/"+item.FilePath] = &cp
	return nil
}
func (s *stubContentRepo) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	cp := *item
	s.items[item.ProposalID+"/"+item.FilePath] = &cp
	return nil
}
func (s *stubContentRepo) ListItems(ctx context.Context, proposalID string) ([]models.ContentItem, error) {
	return []models.ContentItem{}, nil
}
func (s *stubContentRepo) DeleteItem(ctx context.Context, proposalID, filePath string) (bool, error) {
	return false, nil
}
func (s *stubContentRepo) CreateVersion(ctx context.Context, version *models.ContentVersion) error {
	cp := *version
	s.versions = append(s.versions, &cp)
	return nil
}
func (s *stubContentRepo) ListVersions(ctx context.Context, proposalID, filePath string) ([]models.ContentVersion, error) {
	return []models.ContentVersion{}, nil
}
func (s *stubContentRepo) GetVersion(ctx context.Context, proposalID, filePath string, version int) (*models.ContentVersion, error) {
	return nil, domain.ErrNotFound
}
func (s *stubContentRepo) DeleteVersions(ctx context.Context, proposalID, filePath string) (int, error) {
	return 0, nil
}

type stubCommentRepo struct{}

func (s *stubCommentRepo) Create(ctx context.Context, c *models.ReviewComment) error { return nil }
func (s *stubCommentRepo) GetByID(ctx context.Context, id, proposalID string) (*models.ReviewComment, error) {
	return nil, domain.ErrNotFound
}
func (s *stubCommentRepo) List(ctx context.Context, proposalID string, filter repositories.CommentFilter) ([]models.ReviewComment, error) {
	return []models.ReviewComment{}, nil
}
func (s *stubCommentRepo) Update(ctx context.Context, c *models.ReviewComment) error { return nil }
func (s *stubCommentRepo) Delete(ctx context.Context, id string) error               { return nil }
func (s *stubCommentRepo) HasReplies(ctx context.Context, id string) (bool, error)   { return false, nil }
func (s *stubCommentRepo) CountByStatus(ctx context.Context, proposalID string) (map[models.CommentStatus]int, error) {
	return map[models.CommentStatus]int{}, nil
}
func (s *stubCommentRepo) ListSelected(ctx context.Context, proposalID, filePath string) ([]models.ReviewComment, error) {
	return []models.ReviewComment{}, nil
}
func (s *stubCommentRepo) ClearSelection(ctx context.Context, proposalID, filePath string) (int, error) {
	return 0, nil
}

type stubUsageRepo struct {
	records []*models.LLMUsage
}

func (s *stubUsageRepo) Create(ctx context.Context, usage *models.LLMUsage) error {
	s.records = append(s.records, usage)
	return nil
}
func (s *stubUsageRepo) ListByUser(ctx context.Context, userID string, since *time.Time) ([]models.LLMUsage, error) {
	return []models.LLMUsage{}, nil
}
func (s *stubUsageRepo) ListByProposal(ctx context.Context, proposalID string) ([]models.LLMUsage, error) {
	return []models.LLMUsage{}, nil
}

// gatedProvider streams one chunk, signals, then waits for the context to
// end before emitting its terminal chunk. It simulates a generation that
// would keep producing after the client has gone away.
type gatedProvider struct {
	firstChunk chan struct{}
}

func (p *gatedProvider) Name() string      { return "gated" }
func (p *gatedProvider) IsAvailable() bool { return true }
func (p *gatedProvider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	return &domainllm.Response{Content: "unused", Provider: "gated"}, nil
}
func (p *gatedProvider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	ch := make(chan domainllm.StreamChunk, 2)
	go func() {
		defer close(ch)
		ch <- domainllm.StreamChunk{Text: "part one "}
		close(p.firstChunk)
		select {
		case <-ctx.Done():
			ch <- domainllm.StreamChunk{Err: ctx.Err()}
		case <-time.After(5 * time.Second):
			ch <- domainllm.StreamChunk{Text: "part two"}
		}
	}()
	return ch, nil
}

type stubResolver struct {
	provider domainllm.Provider
}

func (s *stubResolver) Default() (domainllm.Provider, error) { return s.provider, nil }

func TestIterateStreamAbandonsRunOnClientDisconnect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	proposals := &stubProposalRepo{proposals: map[string]*models.Proposal{
		"prop-1": {ID: "prop-1", ProjectID: "proj-1", AuthorID: "author-1", Name: "add-auth", Status: models.StatusReview},
	}}
	contents := &stubContentRepo{items: map[string]*models.ContentItem{
		"prop-1/proposal.md": {
			ID: "c-1", ProposalID: "prop-1", FilePath: "proposal.md",
			Content: "Old draft.", Version: 2, UpdatedBy: "author-1", UpdatedAt: time.Now(),
		},
	}}
	usageRepo := &stubUsageRepo{}
	provider := &gatedProvider{firstChunk: make(chan struct{})}
	hub := events.NewHub(logger)

	engine := iteratesvc.NewEngine(
		proposals, &stubCommentRepo{},
		contentsvc.NewService(contents, proposals, &stubTxManager{}, logger),
		&stubResolver{provider: provider},
		llmsvc.NewUsageTracker(usageRepo, logger),
		hub, logger,
	)
	// WatchEvents is not exercised, so no proposal service is needed.
	h := NewIterateHandler(engine, nil, hub, logger)

	body := strings.NewReader(`{"file_path":"proposal.md","instructions":"tighten"}`)
	req := httptest.NewRequest("POST", "/api/proposals/prop-1/iterate/stream", body)
	ctx, cancelReq := context.WithCancel(req.Context())
	defer cancelReq()
	req = req.WithContext(ctx)
	req.SetPathValue("id", "prop-1")
	req = httputil.WithActor(req, models.Actor{UserID: "author-1", Role: models.RoleAuthor})

	// Drop the connection as soon as the first chunk has been produced.
	go func() {
		<-provider.firstChunk
		cancelReq()
	}()

	h.IterateStream(httptest.NewRecorder(), req)

	item := contents.items["prop-1/proposal.md"]
	if item.Version != 2 || item.Content != "Old draft." {
		t.Errorf("content persisted after client disconnect: version=%d content=%q", item.Version, item.Content)
	}
	if len(contents.versions) != 0 {
		t.Errorf("history snapshots written after client disconnect: %d", len(contents.versions))
	}
	if len(usageRepo.records) != 1 {
		t.Fatalf("usage records = %d, want 1", len(usageRepo.records))
	}
	if usageRepo.records[0].Success {
		t.Error("abandoned run recorded as successful")
	}
}
