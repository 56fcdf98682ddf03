package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/mail"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (f *fakeSender) Deliver(ctx context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

// TestEmailQueue_Roundtrip checks that a queued message reaches the sender.
func TestEmailQueue_Roundtrip(t *testing.T) {
	ctx := context.Background()
	enq := &fakeEnqueuer{}
	queue := NewEmailQueue(enq)

	msg := mail.Message{To: "jane@example.com", Subject: "Hello", HTML: "<p>Hi</p>"}
	require.NoError(t, queue.Deliver(ctx, msg))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeEmailSend, enq.tasks[0].Type())

	sender := &fakeSender{}
	handler := NewHandler(sender, nil, util.DiscardLogger())
	require.NoError(t, handler.HandleEmailSend(ctx, enq.tasks[0]))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, msg, sender.sent[0])
}

func TestEmailQueue_EnqueueError(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	err := NewEmailQueue(enq).Deliver(context.Background(), mail.Message{To: "jane@example.com"})
	assert.ErrorIs(t, err, enq.err)
}

func TestHandleEmailSend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		payload   []byte
		senderErr error
		skipRetry bool
	}{
		{name: "invalid json", payload: []byte("invalid json"), skipRetry: true},
		{name: "missing recipient", payload: []byte(`{"subject":"x"}`), skipRetry: true},
		{name: "smtp failure is retried", payload: []byte(`{"to":"jane@example.com"}`), senderErr: errors.New("dial tcp: refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&fakeSender{err: tt.senderErr}, nil, util.DiscardLogger())

			err := handler.HandleEmailSend(ctx, asynq.NewTask(TypeEmailSend, tt.payload))
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleHousekeepingTick(t *testing.T) {
	setup := testutil.NewTestContext(t)
	db := setup.DB

	stale := &models.Session{UserID: setup.User.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(stale).Error)

	overdue := testutil.CreateTestInvitation(t, db, setup.Org, setup.User, "late@example.com")
	require.NoError(t, db.Model(overdue).Update("expires_at", time.Now().Add(-time.Minute)).Error)
	pending := testutil.CreateTestInvitation(t, db, setup.Org, setup.User, "soon@example.com")

	handler := NewHandler(&fakeSender{}, setup.AuthService, util.DiscardLogger())
	require.NoError(t, handler.HandleHousekeepingTick(context.Background(), NewHousekeepingTickTask()))

	assert.Equal(t, int64(0), testutil.CountRows(t, db, &models.Session{}, "id = ?", stale.ID))
	assert.Equal(t, int64(1), testutil.CountRows(t, db, &models.Session{}, "id = ?", setup.Session.ID))
	assert.Equal(t, int64(1), testutil.CountRows(t, db, &models.Invitation{}, "id = ? AND status = ?", overdue.ID, models.InvitationExpired))
	assert.Equal(t, int64(1), testutil.CountRows(t, db, &models.Invitation{}, "id = ? AND status = ?", pending.ID, models.InvitationPending))
}

func TestNewEmailTask(t *testing.T) {
	task, err := NewEmailTask(EmailPayload{To: "jane@example.com", Subject: "Hi"})
	require.NoError(t, err)

	var decoded EmailPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "jane@example.com", decoded.To)
}
