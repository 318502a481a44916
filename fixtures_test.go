package access_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-access"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

var testSigningKey = []byte("test-signing-key")

// newTestDB opens a private in-memory database with the schema applied.
// One connection keeps every goroutine on the same memory database.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, access.CreateSchema(context.Background(), db))
	return db
}

type testEnv struct {
	db          *bun.DB
	repos       access.RepositoryManager
	sessions    *access.Sessions
	credentials *access.LocalCredentialStore
	notifier    *captureNotifier
	activity    *captureSink
	service     *access.Service
}

func newTestEnv(t *testing.T, opts ...access.ServiceOption) *testEnv {
	t.Helper()
	return newTestEnvOn(t, newTestDB(t), opts...)
}

func newTestEnvOn(t *testing.T, db *bun.DB, opts ...access.ServiceOption) *testEnv {
	t.Helper()

	env := &testEnv{
		db:       db,
		notifier: &captureNotifier{},
		activity: &captureSink{},
	}
	env.repos = access.NewRepositoryManager(db,
		access.WithUsersStateMachineOptions(
			access.WithStateMachineActivitySink(env.activity),
			access.WithStateMachineLogger(access.NopLogger()),
		),
	)
	env.repos.MustValidate()

	env.sessions = access.NewSessions(access.NewBunSessionStore(db), testSigningKey,
		access.WithSessionsLogger(access.NopLogger()),
	)
	env.credentials = access.NewLocalCredentialStore(db, env.sessions,
		access.WithBcryptCost(bcrypt.MinCost),
		access.WithNotifier(env.notifier),
		access.WithCredentialsLogger(access.NopLogger()),
	)

	serviceOpts := append([]access.ServiceOption{
		access.WithActivitySink(env.activity),
		access.WithLogger(access.NopLogger()),
	}, opts...)
	env.service = access.NewService(env.repos.Hospitals(), env.repos.Users(), env.credentials, serviceOpts...)
	return env
}

func (e *testEnv) registerHospital(t *testing.T, name, adminEmail string) *access.HospitalRegistration {
	t.Helper()

	res, err := e.service.RegisterHospital(context.Background(), access.RegisterHospitalRequest{
		HospitalName:  name,
		HospitalEmail: "contact@" + access.DomainFromEmail(adminEmail),
		AdminName:     "Admin " + name,
		AdminEmail:    adminEmail,
		AdminPassword: testPassword,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) requestAccess(t *testing.T, hospital *access.Hospital, email string) *access.AccessRequestReceipt {
	t.Helper()

	receipt, err := e.service.RequestDoctorAccess(context.Background(), doctorRequest(hospital, email))
	require.NoError(t, err)
	return receipt
}

func doctorRequest(hospital *access.Hospital, email string) access.DoctorAccessRequest {
	return access.DoctorAccessRequest{
		Name:         "Dr. Test",
		HospitalName: hospital.Name,
		HospitalID:   hospital.ID.String(),
		Department:   "Cardiology",
		LicenseID:    "LIC-0001",
		Email:        email,
		Password:     testPassword,
	}
}

type captureNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	resets       map[string]string
}

func (n *captureNotifier) SendVerification(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.verification == nil {
		n.verification = map[string]string{}
	}
	n.verification[email] = token
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resets == nil {
		n.resets = map[string]string{}
	}
	n.resets[email] = token
	return nil
}

func (n *captureNotifier) verificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

func (n *captureNotifier) resetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets[email]
}

type captureSink struct {
	mu     sync.Mutex
	events []access.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, event access.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) ofType(eventType access.ActivityEventType) []access.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockStatusWriter implements access.StatusWriter
type MockStatusWriter struct {
	mock.Mock
}

func (m *MockStatusWriter) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to access.UserStatus, opts ...access.StatusUpdateOption) (*access.User, error) {
	args := m.Called(ctx, id, from, to, opts)
	user, _ := args.Get(0).(*access.User)
	if user != nil {
		for _, opt := range opts {
			opt(user)
		}
	}
	return user, args.Error(1)
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) levels(level string) []logCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logCall
	for _, c := range l.calls {
		if c.level == level {
			out = append(out, c)
		}
	}
	return out
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
