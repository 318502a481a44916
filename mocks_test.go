package access_test

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

var _ router.Context = (*MockContext)(nil)

// MockContext mocks router.Context. Params, queries, headers and locals
// are plain maps; everything else goes through mock.Mock.
type MockContext struct {
	mock.Mock
	ParamsM    map[string]string
	QueriesM   map[string]string
	HeadersM   map[string]string
	LocalsMock map[any]any

	userCtx context.Context
}

func NewMockContext() *MockContext {
	return &MockContext{
		ParamsM:    map[string]string{},
		QueriesM:   map[string]string{},
		HeadersM:   map[string]string{},
		LocalsMock: map[any]any{},
	}
}

func (m *MockContext) Context() context.Context {
	if m.userCtx != nil {
		return m.userCtx
	}
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.userCtx = ctx
}

func (m *MockContext) Next() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Param(name string, defaultValue ...string) string {
	if v, ok := m.ParamsM[name]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	return defaultValue
}

func (m *MockContext) Query(name string, defaultValue string) string {
	if v, ok := m.QueriesM[name]; ok {
		return v
	}
	return defaultValue
}

func (m *MockContext) QueryInt(name string, defaultValue int) int {
	return defaultValue
}

func (m *MockContext) Queries() map[string]string {
	return m.QueriesM
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.LocalsMock[key] = value[0]
		return value[0]
	}
	return m.LocalsMock[key]
}

func (m *MockContext) Render(name string, bind any, layouts ...string) error {
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) CookieParser(out any) error {
	args := m.Called(out)
	return args.Error(0)
}

func (m *MockContext) Redirect(location string, status ...int) error {
	args := m.Called(location)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(routeName string, params router.ViewContext, status ...int) error {
	args := m.Called(routeName, params)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) Header(key string) string {
	return m.HeadersM[key]
}

func (m *MockContext) Referer() string {
	return m.HeadersM["Referer"]
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) Send(body []byte) error {
	args := m.Called(body)
	return args.Error(0)
}

func (m *MockContext) SendString(body string) error {
	args := m.Called(body)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, v any) error {
	args := m.Called(code, v)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, value string) router.Context {
	m.HeadersM[key] = value
	return m
}

func (m *MockContext) Bind(v any) error {
	args := m.Called(v)
	return args.Error(0)
}

func (m *MockContext) Set(key string, value any) {
	m.LocalsMock[key] = value
}

func (m *MockContext) Get(key string, def any) any {
	if v, ok := m.LocalsMock[key]; ok {
		return v
	}
	return def
}

func (m *MockContext) GetString(key string, def string) string {
	if v, ok := m.Get(key, def).(string); ok {
		return v
	}
	return def
}

func (m *MockContext) GetInt(key string, def int) int {
	if v, ok := m.Get(key, def).(int); ok {
		return v
	}
	return def
}

func (m *MockContext) GetBool(key string, def bool) bool {
	if v, ok := m.Get(key, def).(bool); ok {
		return v
	}
	return def
}
