package registry

import (
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockTemplate mocks the interfaces.Template capability
type MockTemplate struct {
	mock.Mock
}

// Name mocks the Name method
func (m *MockTemplate) Name() interfaces.TemplateName {
	args := m.Called()
	return args.Get(0).(interfaces.TemplateName)
}

// Version mocks the Version method
func (m *MockTemplate) Version() interfaces.TemplateVersion {
	args := m.Called()
	return args.Get(0).(interfaces.TemplateVersion)
}

// Initialize mocks the Initialize method
func (m *MockTemplate) Initialize(env interfaces.Env, data []byte) ([]byte, error) {
	args := m.Called(env, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Invoke mocks the Invoke method
func (m *MockTemplate) Invoke(env interfaces.Env, data []byte) ([]byte, error) {
	args := m.Called(env, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// NewMockTemplate returns a MockTemplate reporting name and version.
func NewMockTemplate(name interfaces.TemplateName, version interfaces.TemplateVersion) *MockTemplate {
	m := &MockTemplate{}
	m.On("Name").Return(name)
	m.On("Version").Return(version)
	return m
}
