package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/storage"
	"github.com/hugh/go-orgs/pkg/util"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const TestPassword = "testpassword123"

// SetupTestDB creates a private in-memory SQLite database for one test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

func NewAuthService(db *gorm.DB, jwt *auth.JWTService) *auth.Service {
	return auth.NewService(db, jwt, auth.Options{
		Logger:  util.DiscardLogger(),
		SiteURL: "http://localhost:5173",
	})
}

// CreateTestUser creates a user with a credential account using TestPassword.
func CreateTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(TestPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:         "user-" + uuid.NewString()[:8] + "@example.com",
		Name:          name,
		EmailVerified: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	account := &models.Account{
		UserID:       user.ID,
		ProviderID:   models.ProviderCredential,
		AccountID:    user.ID.String(),
		PasswordHash: hash,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}

	return user
}

// CreateTestOrg creates an organization owned by owner.
func CreateTestOrg(t *testing.T, db *gorm.DB, owner *models.User, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Name: name,
		Slug: "org-" + uuid.NewString()[:8],
	}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	AddMember(t, db, org, owner, models.RoleOwner)
	return org
}

func AddMember(t *testing.T, db *gorm.DB, org *models.Organization, user *models.User, role string) *models.Member {
	t.Helper()

	member := &models.Member{
		OrganizationID: org.ID,
		UserID:         user.ID,
		Role:           role,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	return member
}

func CreateTestSession(t *testing.T, db *gorm.DB, user *models.User, activeOrg *models.Organization) *models.Session {
	t.Helper()

	session := &models.Session{
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if activeOrg != nil {
		session.ActiveOrganizationID = &activeOrg.ID
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("failed to create test session: %v", err)
	}
	return session
}

func CreateTestInvitation(t *testing.T, db *gorm.DB, org *models.Organization, inviter *models.User, email string) *models.Invitation {
	t.Helper()

	invitation := &models.Invitation{
		OrganizationID: org.ID,
		Email:          email,
		Role:           models.RoleMember,
		Status:         models.InvitationPending,
		InviterID:      inviter.ID,
		ExpiresAt:      time.Now().Add(48 * time.Hour),
	}
	if err := db.Create(invitation).Error; err != nil {
		t.Fatalf("failed to create test invitation: %v", err)
	}
	return invitation
}

// SetUserActiveOrganization writes the user's pointer directly.
func SetUserActiveOrganization(t *testing.T, db *gorm.DB, user *models.User, org *models.Organization) {
	t.Helper()

	if err := db.Model(&models.User{}).Where("id = ?", user.ID).Update("active_organization_id", org.ID).Error; err != nil {
		t.Fatalf("failed to set active organization: %v", err)
	}
	user.ActiveOrganizationID = &org.ID
}

func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, session *models.Session, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(session.ID, user.ID, user.Email, session.ExpiresAt)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

func ReloadUser(t *testing.T, db *gorm.DB, id uuid.UUID) *models.User {
	t.Helper()

	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	return &user
}

func ReloadSession(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Session {
	t.Helper()

	var session models.Session
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	return &session
}

func CountRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()

	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return n
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB          *gorm.DB
	JWTService  *auth.JWTService
	AuthService *auth.Service
	Storage     *storage.Memory
	User        *models.User
	Org         *models.Organization
	Session     *models.Session
	Token       string
}

// NewTestContext creates a user who owns one organization and holds a session
// with that organization active.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	user := CreateTestUser(t, db, "Test User")
	org := CreateTestOrg(t, db, user, "Test Organization")
	SetUserActiveOrganization(t, db, user, org)
	session := CreateTestSession(t, db, user, org)

	return &TestSetup{
		DB:          db,
		JWTService:  jwtService,
		AuthService: NewAuthService(db, jwtService),
		Storage:     storage.NewMemory("http://files.test"),
		User:        user,
		Org:         org,
		Session:     session,
		Token:       GenerateTestToken(t, jwtService, session, user),
	}
}

func (ts *TestSetup) Principal() auth.Principal {
	return auth.Principal{UserID: ts.User.ID, SessionID: ts.Session.ID}
}

// PutBlob stores a blob in the test storage and returns its id.
func (ts *TestSetup) PutBlob(t *testing.T) string {
	t.Helper()

	target, err := ts.Storage.GenerateUploadURL(context.Background())
	if err != nil {
		t.Fatalf("failed to generate upload url: %v", err)
	}
	ts.Storage.Put(target.StorageID, []byte("image"))
	return target.StorageID
}
