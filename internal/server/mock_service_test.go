// file: internal/server/mock_service_test.go
// version: 1.0.0
// guid: 9b3e7c15-0d4a-4f6e-8a21-c5f0e9d7b384

package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/queue"
)

// mockService is a testify mock of Service.
type mockService struct {
	mock.Mock
}

func newMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *mockService {
	m := &mockService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockService) Enqueue(ctx context.Context, item *models.DownloadItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockService) Remove(id string) bool {
	return m.Called(id).Bool(0)
}

func (m *mockService) List() []models.DownloadItem {
	args := m.Called()
	items, _ := args.Get(0).([]models.DownloadItem)
	return items
}

func (m *mockService) Get(id string) (models.DownloadItem, bool) {
	args := m.Called(id)
	return args.Get(0).(models.DownloadItem), args.Bool(1)
}

func (m *mockService) Pause(id string) error {
	return m.Called(id).Error(0)
}

func (m *mockService) Resume(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockService) Stats() queue.Summary {
	return m.Called().Get(0).(queue.Summary)
}
