package activities

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/osint-research-service/internal/events"
)

// ---------------------------------------------------------------------------
// Mock: EventPublisher
// ---------------------------------------------------------------------------

// mockEventPublisher is a manual test double for the EventPublisher interface.
type mockEventPublisher struct {
	published []events.EmitParams
	err       error
}

func (m *mockEventPublisher) Publish(_ context.Context, params events.EmitParams) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, params)
	return nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEventActivities_PublishEvent(t *testing.T) {
	t.Run("publishes event with subject and tags", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		pub := &mockEventPublisher{}
		act := NewEventActivities(pub)
		env.RegisterActivity(act.PublishEvent)

		input := PublishEventInput{
			EventType: events.EventTypeSessionStarted,
			SessionID: "session-1",
			Subject:   "Jane Doe",
			Tags:      []string{"kyc"},
			Payload: map[string]interface{}{
				"workflow_id": "research-session-1",
			},
		}

		_, err := env.ExecuteActivity(act.PublishEvent, input)
		require.NoError(t, err)

		require.Len(t, pub.published, 1)
		got := pub.published[0]
		assert.Equal(t, events.EventTypeSessionStarted, got.EventType)
		assert.Equal(t, "session-1", got.SessionID)

		payload := got.Payload.(map[string]interface{})
		assert.Equal(t, "Jane Doe", payload["subject"])
		assert.Equal(t, "research-session-1", payload["workflow_id"])
		assert.NotNil(t, payload["tags"])
	})

	t.Run("returns error from publisher", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		pub := &mockEventPublisher{err: fmt.Errorf("kafka: broker unreachable")}
		act := NewEventActivities(pub)
		env.RegisterActivity(act.PublishEvent)

		_, err := env.ExecuteActivity(act.PublishEvent, PublishEventInput{
			EventType: events.EventTypeSessionFailed,
			SessionID: "session-1",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publish event research.session.failed")
	})

	t.Run("is a no-op without publisher", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := NewEventActivities(nil)
		env.RegisterActivity(act.PublishEvent)

		_, err := env.ExecuteActivity(act.PublishEvent, PublishEventInput{
			EventType: events.EventTypeSessionCompleted,
			SessionID: "session-1",
		})
		require.NoError(t, err)
	})
}
