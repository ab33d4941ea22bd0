package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/events"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/temporal"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, session *domain.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *mockSessionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.Session, error) {
	args := m.Called(ctx, workflowID)
	if s := args.Get(0); s != nil {
		return s.(*domain.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) error {
	return m.Called(ctx, id, fn).Error(0)
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus, errorMsg string) error {
	return m.Called(ctx, id, status, errorMsg).Error(0)
}

func (m *mockSessionRepo) MarkRunning(ctx context.Context, id uuid.UUID, workflowID, runID string) error {
	return m.Called(ctx, id, workflowID, runID).Error(0)
}

func (m *mockSessionRepo) Complete(ctx context.Context, id uuid.UUID, outcome domain.SessionOutcome) error {
	return m.Called(ctx, id, outcome).Error(0)
}

func (m *mockSessionRepo) List(ctx context.Context, filter repository.SessionFilter) ([]*domain.Session, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*domain.Session), args.Get(1).(int64), args.Error(2)
}

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) StartResearchWorkflow(ctx context.Context, input temporal.ResearchWorkflowInput) (string, string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockStarter) CancelSession(ctx context.Context, workflowID, reason string) error {
	return m.Called(ctx, workflowID, reason).Error(0)
}

type capturePublisher struct {
	params []events.EmitParams
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, params events.EmitParams) error {
	p.params = append(p.params, params)
	return p.err
}

func intPtr(v int) *int { return &v }

func TestService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("creates session and starts workflow", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		pub := &capturePublisher{}

		var created *domain.Session
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Session")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*domain.Session) }).
			Return(nil)
		starter.On("StartResearchWorkflow", ctx, mock.MatchedBy(func(in temporal.ResearchWorkflowInput) bool {
			return in.Subject == "Jane Roe" && in.Config.MaxDepth == 2 && len(in.Tags) == 1
		})).Return("research-x", "run-1", nil)
		repo.On("Update", ctx, mock.Anything, mock.Anything).Return(nil)

		svc := NewService(repo, starter, WithPublisher(pub))
		session, err := svc.Start(ctx, StartRequest{
			Subject:  "  Jane Roe ",
			Context:  "former director",
			Tags:     []string{"kyc"},
			MaxDepth: intPtr(2),
		})
		require.NoError(t, err)

		assert.Equal(t, created.ID, session.ID)
		assert.Equal(t, "Jane Roe", session.Subject)
		assert.Equal(t, domain.SessionStatusPending, session.Status)
		assert.Equal(t, "research-x", session.WorkflowID)
		assert.Equal(t, "run-1", session.RunID)
		assert.Equal(t, domain.DefaultResearchConfig().MaxQueriesPerDepth, session.Config.MaxQueriesPerDepth)

		require.Len(t, pub.params, 1)
		assert.Equal(t, events.EventTypeSessionCreated, pub.params[0].EventType)
		assert.Equal(t, session.ID.String(), pub.params[0].SessionID)

		repo.AssertExpectations(t)
		starter.AssertExpectations(t)
	})

	t.Run("uses caller supplied session id", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		id := uuid.New()

		repo.On("Create", ctx, mock.MatchedBy(func(s *domain.Session) bool { return s.ID == id })).Return(nil)
		starter.On("StartResearchWorkflow", ctx, mock.Anything).Return("research-"+id.String(), "run", nil)
		repo.On("Update", ctx, id, mock.Anything).Return(nil)

		session, err := NewService(repo, starter).Start(ctx, StartRequest{SessionID: id.String(), Subject: "Acme Ltd"})
		require.NoError(t, err)
		assert.Equal(t, id, session.ID)
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		svc := NewService(new(mockSessionRepo), new(mockStarter))

		cases := []struct {
			name  string
			req   StartRequest
			field string
		}{
			{"missing subject", StartRequest{Subject: "   "}, "subject"},
			{"depth too deep", StartRequest{Subject: "Jane Roe", MaxDepth: intPtr(11)}, "max_depth"},
			{"too many concurrent searches", StartRequest{Subject: "Jane Roe", MaxConcurrentSearches: intPtr(9)}, "max_concurrent_searches"},
			{"bad session id", StartRequest{Subject: "Jane Roe", SessionID: "nope"}, "session_id"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.Start(ctx, tc.req)
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrInvalidInput))
				var ve *domain.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tc.field, ve.Field)
			})
		}
	})

	t.Run("returns create error without starting workflow", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		repo.On("Create", ctx, mock.Anything).Return(domain.ErrAlreadyExists)

		_, err := NewService(repo, starter).Start(ctx, StartRequest{Subject: "Jane Roe"})
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
		starter.AssertNotCalled(t, "StartResearchWorkflow", mock.Anything, mock.Anything)
	})

	t.Run("marks session failed when workflow cannot start", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		pub := &capturePublisher{}

		repo.On("Create", ctx, mock.Anything).Return(nil)
		starter.On("StartResearchWorkflow", ctx, mock.Anything).Return("", "", temporal.ErrConnectionFailed)
		repo.On("UpdateStatus", ctx, mock.Anything, domain.SessionStatusFailed,
			mock.MatchedBy(func(msg string) bool { return msg != "" })).Return(nil)

		_, err := NewService(repo, starter, WithPublisher(pub)).Start(ctx, StartRequest{Subject: "Jane Roe"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, temporal.ErrConnectionFailed))
		assert.Empty(t, pub.params)
		repo.AssertExpectations(t)
	})

	t.Run("publish failure does not fail start", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		repo.On("Create", ctx, mock.Anything).Return(nil)
		starter.On("StartResearchWorkflow", ctx, mock.Anything).Return("wf", "run", nil)
		repo.On("Update", ctx, mock.Anything, mock.Anything).Return(errors.New("row locked"))

		svc := NewService(repo, starter, WithPublisher(&capturePublisher{err: errors.New("broker down")}))
		session, err := svc.Start(ctx, StartRequest{Subject: "Jane Roe"})
		require.NoError(t, err)
		assert.Equal(t, "wf", session.WorkflowID)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("signals running workflow", func(t *testing.T) {
		repo := new(mockSessionRepo)
		starter := new(mockStarter)
		repo.On("Get", ctx, id).Return(&domain.Session{ID: id, Status: domain.SessionStatusRunning, WorkflowID: "wf-1"}, nil)
		starter.On("CancelSession", ctx, "wf-1", "analyst request").Return(nil)

		session, err := NewService(repo, starter).Cancel(ctx, id, "analyst request")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusRunning, session.Status)
		starter.AssertExpectations(t)
	})

	t.Run("cancels pending session without workflow", func(t *testing.T) {
		repo := new(mockSessionRepo)
		repo.On("Get", ctx, id).Return(&domain.Session{ID: id, Status: domain.SessionStatusPending}, nil)
		repo.On("UpdateStatus", ctx, id, domain.SessionStatusCancelled, "stop").Return(nil)

		session, err := NewService(repo, new(mockStarter)).Cancel(ctx, id, "stop")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusCancelled, session.Status)
	})

	t.Run("rejects finished session", func(t *testing.T) {
		repo := new(mockSessionRepo)
		repo.On("Get", ctx, id).Return(&domain.Session{ID: id, Status: domain.SessionStatusCompleted, WorkflowID: "wf-1"}, nil)

		_, err := NewService(repo, new(mockStarter)).Cancel(ctx, id, "")
		assert.ErrorIs(t, err, ErrSessionFinished)
	})

	t.Run("propagates not found", func(t *testing.T) {
		repo := new(mockSessionRepo)
		repo.On("Get", ctx, id).Return(nil, domain.NewNotFoundError("session", id.String()))

		_, err := NewService(repo, new(mockStarter)).Cancel(ctx, id, "")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "session_id", toSnakeCase("SessionID"))
	assert.Equal(t, "max_depth", toSnakeCase("MaxDepth"))
	assert.Equal(t, "subject", toSnakeCase("Subject"))
}
