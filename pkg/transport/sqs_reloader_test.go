package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockSQSClient struct {
	mock.Mock
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	return nil, args.Error(1)
}

type countingReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingReloader) Reload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingReloader) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const queueURL = "https://sqs.us-east-1.amazonaws.com/123/reload-queue"

func runReloader(t *testing.T, client SQSClient, r Reloader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSQSReloader(client, queueURL, r).WithBackoff(time.Millisecond).Start(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reloader não parou após o cancelamento")
	}
}

// --- Tests ---

func TestSQSReloader_ReloadsOncePerBatch(t *testing.T) {
	mockSQS := new(MockSQSClient)
	mockSQS.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []types.Message{
			{Body: aws.String(`{"action":"reload"}`), ReceiptHandle: aws.String("h1")},
			{Body: aws.String(`{"action":"reload"}`), ReceiptHandle: aws.String("h2")},
		},
	}, nil).Once()
	mockSQS.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{}, nil).After(5 * time.Millisecond).Maybe()
	mockSQS.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil, nil)

	reloader := &countingReloader{}
	runReloader(t, mockSQS, reloader)

	assert.Equal(t, 1, reloader.Calls())
	for _, h := range []string{"h1", "h2"} {
		mockSQS.AssertCalled(t, "DeleteMessage", mock.Anything, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: aws.String(h),
		})
	}
}

func TestSQSReloader_FailedReloadStillDeletes(t *testing.T) {
	mockSQS := new(MockSQSClient)
	mockSQS.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()
	mockSQS.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []types.Message{{ReceiptHandle: aws.String("h1")}},
	}, nil).Once()
	mockSQS.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{}, nil).After(5 * time.Millisecond).Maybe()
	mockSQS.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil, nil)

	reloader := &countingReloader{err: errors.New("origem inválida")}
	runReloader(t, mockSQS, reloader)

	assert.Equal(t, 1, reloader.Calls())
	mockSQS.AssertNumberOfCalls(t, "DeleteMessage", 1)
}

func TestSQSReloader_NoQueue(t *testing.T) {
	mockSQS := new(MockSQSClient)
	NewSQSReloader(mockSQS, "", &countingReloader{}).Start(context.Background())
	mockSQS.AssertNotCalled(t, "ReceiveMessage", mock.Anything, mock.Anything)
}

func TestMiddlewareReloader(t *testing.T) {
	m := newManager(t, authConfig(false))
	configs := middleware.NewConfigManager(middleware.NewFactory(middleware.Dependencies{}), nil)

	path := filepath.Join(t.TempDir(), "middlewares.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
middlewares:
  - name: authentication
    type: authentication
    priority: 10
    config:
      require_auth: true
  - name: audit
    type: logging
    priority: 30
`), 0o644))

	r := &MiddlewareReloader{Configs: configs, Manager: m, Source: path}
	require.NoError(t, r.Reload(context.Background()))
	assert.True(t, m.Has("audit"))
	mw, _ := m.Get("authentication")
	assert.Equal(t, true, mw.Config().Config["require_auth"])

	require.NoError(t, os.WriteFile(path, []byte(`
- name: broken
  type: quantum
`), 0o644))
	assert.Error(t, r.Reload(context.Background()))
	assert.True(t, m.Has("audit"))

	fallback := &MiddlewareReloader{Configs: configs, Manager: m, Fallback: middleware.Defaults()}
	require.NoError(t, fallback.Reload(context.Background()))
	assert.True(t, m.Has("authorization"))

	assert.Error(t, (&MiddlewareReloader{Configs: configs, Manager: m}).Reload(context.Background()))
}
