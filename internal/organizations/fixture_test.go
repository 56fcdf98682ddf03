package organizations_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyAdapter wraps the real auth service to count calls and inject failures.
type spyAdapter struct {
	*auth.Service

	mu             sync.Mutex
	setActiveCalls int
	slugChecks     []string

	alwaysTaken      bool
	checkSlugErr     error
	reportFreeOnce   map[string]bool
	setActiveErr     error
	updateUserErrs   []error
	updateOrgErrFunc func(upd auth.OrganizationUpdate) error
}

func (s *spyAdapter) CheckOrganizationSlug(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	s.slugChecks = append(s.slugChecks, slug)
	lie := s.reportFreeOnce[slug]
	delete(s.reportFreeOnce, slug)
	s.mu.Unlock()

	switch {
	case s.checkSlugErr != nil:
		return false, s.checkSlugErr
	case s.alwaysTaken:
		return true, nil
	case lie:
		return false, nil
	}
	return s.Service.CheckOrganizationSlug(ctx, slug)
}

func (s *spyAdapter) SetActiveOrganization(ctx context.Context, p auth.Principal, orgID *uuid.UUID) (*models.Organization, error) {
	s.mu.Lock()
	s.setActiveCalls++
	s.mu.Unlock()

	if s.setActiveErr != nil {
		return nil, s.setActiveErr
	}
	return s.Service.SetActiveOrganization(ctx, p, orgID)
}

func (s *spyAdapter) UpdateUser(ctx context.Context, userID uuid.UUID, upd auth.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	var err error
	if len(s.updateUserErrs) > 0 {
		err, s.updateUserErrs = s.updateUserErrs[0], s.updateUserErrs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.Service.UpdateUser(ctx, userID, upd)
}

func (s *spyAdapter) UpdateOrganization(ctx context.Context, p auth.Principal, orgID uuid.UUID, upd auth.OrganizationUpdate) (*models.Organization, error) {
	if s.updateOrgErrFunc != nil {
		if err := s.updateOrgErrFunc(upd); err != nil {
			return nil, err
		}
	}
	return s.Service.UpdateOrganization(ctx, p, orgID, upd)
}

type fixture struct {
	*testutil.TestSetup
	spy *spyAdapter
	svc *organizations.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ts := testutil.NewTestContext(t)
	spy := &spyAdapter{Service: ts.AuthService, reportFreeOnce: map[string]bool{}}
	return &fixture{
		TestSetup: ts,
		spy:       spy,
		svc:       organizations.NewService(ts.DB, spy, ts.Storage, util.DiscardLogger()),
	}
}

// newMember creates a user with a session and adds them to org.
func (f *fixture) newMember(t *testing.T, org *models.Organization, role string) (*models.User, *models.Member, auth.Principal) {
	t.Helper()

	user := testutil.CreateTestUser(t, f.DB, "Member "+role)
	member := testutil.AddMember(t, f.DB, org, user, role)
	session := testutil.CreateTestSession(t, f.DB, user, org)
	return user, member, auth.Principal{UserID: user.ID, SessionID: session.ID}
}

func (f *fixture) reloadOrg(t *testing.T, id uuid.UUID) *models.Organization {
	t.Helper()

	var org models.Organization
	require.NoError(t, f.DB.First(&org, "id = ?", id).Error)
	return &org
}

func assertAppError(t *testing.T, err error, kind apperr.Kind, message string) {
	t.Helper()

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, kind, appErr.Kind, "kind")
	assert.Equal(t, message, appErr.Message)
}
