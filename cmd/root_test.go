package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/app"
	"github.com/JakeFAU/dealnews-crawler/internal/config"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Close() { m.Called() }

func (m *MockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *MockApp) Crawl(ctx context.Context, runID string) (app.Summary, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(app.Summary), args.Error(1)
}

func (m *MockApp) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// withMockApp swaps the factory for the duration of a test. Tests using it
// must not run in parallel.
func withMockApp(t *testing.T, m *MockApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return m, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(append(args, "--env-file", "does-not-exist.env"))
	return root.ExecuteContext(context.Background())
}

func TestCrawlCommandUsesRunID(t *testing.T) {
	m := new(MockApp)
	m.On("Crawl", mock.Anything, "run-42").Return(app.Summary{RunID: "run-42"}, nil).Once()
	m.On("Close").Return().Once()
	withMockApp(t, m)

	require.NoError(t, execute("crawl", "--run-id", "run-42"))
	m.AssertExpectations(t)
}

func TestCrawlCommandGeneratesRunID(t *testing.T) {
	m := new(MockApp)
	m.On("Crawl", mock.Anything, mock.MatchedBy(func(id string) bool { return len(id) == 36 })).
		Return(app.Summary{}, nil).Once()
	m.On("Close").Return().Once()
	withMockApp(t, m)

	require.NoError(t, execute("crawl"))
	m.AssertExpectations(t)
}

func TestCrawlCommandTreatsCancelAsClean(t *testing.T) {
	m := new(MockApp)
	m.On("Crawl", mock.Anything, mock.Anything).
		Return(app.Summary{}, context.Canceled).Once()
	m.On("Close").Return().Once()
	withMockApp(t, m)

	require.NoError(t, execute("crawl"))
}

func TestCrawlCommandPropagatesErrors(t *testing.T) {
	m := new(MockApp)
	m.On("Crawl", mock.Anything, mock.Anything).
		Return(app.Summary{}, errors.New("build proxy pool: bad port")).Once()
	m.On("Close").Return().Once()
	withMockApp(t, m)

	err := execute("crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad port")
	m.AssertExpectations(t)
}

func TestSchemaCommand(t *testing.T) {
	m := new(MockApp)
	m.On("EnsureSchema", mock.Anything).Return(nil).Once()
	m.On("Close").Return().Once()
	withMockApp(t, m)

	require.NoError(t, execute("schema"))
	m.AssertExpectations(t)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return nil, errors.New("boom")
	}
	t.Cleanup(func() { newApp = prev })

	err := execute("schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
