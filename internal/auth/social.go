package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hugh/go-orgs/internal/database/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

// Profile is the subset of a provider's user info the service stores.
type Profile struct {
	AccountID     string
	Email         string
	EmailVerified bool
	Name          string
	Image         string
}

type SocialProvider struct {
	ID          string
	OAuth       *oauth2.Config
	UserInfoURL string
	// EmailsURL lists the user's addresses. It is asked only when the
	// profile carries no email, as for github users with a private one.
	EmailsURL string
	parse     func([]byte) (*Profile, error)
}

func NewGithubProvider(clientID, clientSecret, redirectURL string) *SocialProvider {
	return &SocialProvider{
		ID: models.ProviderGithub,
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		parse:       parseGithubProfile,
	}
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *SocialProvider {
	return &SocialProvider{
		ID: models.ProviderGoogle,
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		parse:       parseGoogleProfile,
	}
}

func parseGithubProfile(body []byte) (*Profile, error) {
	var p struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	name := p.Name
	if name == "" {
		name = p.Login
	}
	return &Profile{
		AccountID: strconv.FormatInt(p.ID, 10),
		Email:     p.Email,
		// github only returns an email on the profile when it is verified and public
		EmailVerified: p.Email != "",
		Name:          name,
		Image:         p.AvatarURL,
	}, nil
}

// primaryGithubEmail picks the primary verified address from /user/emails,
// falling back to any verified one.
func primaryGithubEmail(body []byte) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", err
	}
	var fallback string
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback, nil
}

func parseGoogleProfile(body []byte) (*Profile, error) {
	var p struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &Profile{
		AccountID:     p.Sub,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
		Image:         p.Picture,
	}, nil
}

func (s *Service) RegisterProvider(p *SocialProvider) {
	s.providers[p.ID] = p
}

func (s *Service) Providers() []string {
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) SocialAuthURL(providerID, state string) (string, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.OAuth.AuthCodeURL(state), nil
}

// SignInSocial completes an authorization code flow. Accounts are linked to an
// existing user with the same email; otherwise a new user is created.
func (s *Service) SignInSocial(ctx context.Context, providerID, code string, meta SessionMeta) (*AuthResponse, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}

	token, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, NewAPIError(http.StatusUnauthorized, "Failed to exchange authorization code")
	}

	profile, err := s.fetchProfile(ctx, p, token)
	if err != nil {
		return nil, err
	}
	if profile.Email == "" {
		return nil, ErrProviderEmail
	}

	accessToken, err := s.seal(token.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.seal(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	user, created, err := s.findOrCreateSocialUser(ctx, p.ID, profile, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}
	if created {
		s.afterUserCreate(ctx, user)
	}

	return s.issueSession(ctx, user, meta)
}

func (s *Service) fetchProfile(ctx context.Context, p *SocialProvider, token *oauth2.Token) (*Profile, error) {
	client := p.OAuth.Client(ctx, token)

	body, err := getProviderJSON(ctx, client, p.ID, p.UserInfoURL)
	if err != nil {
		return nil, err
	}
	profile, err := p.parse(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s profile: %w", p.ID, err)
	}

	if profile.Email == "" && p.EmailsURL != "" {
		body, err := getProviderJSON(ctx, client, p.ID, p.EmailsURL)
		if err != nil {
			return nil, err
		}
		email, err := primaryGithubEmail(body)
		if err != nil {
			return nil, fmt.Errorf("decoding %s emails: %w", p.ID, err)
		}
		profile.Email = email
		profile.EmailVerified = email != ""
	}

	profile.Email = normalizeEmail(profile.Email)
	return profile, nil
}

func getProviderJSON(ctx context.Context, client *http.Client, providerID, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s: %w", providerID, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", providerID, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s %s: status %d", providerID, url, resp.StatusCode)
	}
	return body, nil
}

func (s *Service) seal(v string) (string, error) {
	if s.encryptor == nil {
		return "", nil
	}
	return s.encryptor.SealString(v)
}

func (s *Service) findOrCreateSocialUser(ctx context.Context, providerID string, profile *Profile, accessToken, refreshToken string) (*models.User, bool, error) {
	var (
		user    models.User
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		err := tx.Where("provider_id = ? AND account_id = ?", providerID, profile.AccountID).First(&account).Error
		switch {
		case err == nil:
			if err := tx.First(&user, "id = ?", account.UserID).Error; err != nil {
				return err
			}
			return tx.Model(&account).Updates(map[string]interface{}{
				"access_token":  accessToken,
				"refresh_token": refreshToken,
			}).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		err = tx.Where("email = ?", profile.Email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				Email:         profile.Email,
				Name:          profile.Name,
				EmailVerified: profile.EmailVerified,
				Image:         profile.Image,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		case !profile.EmailVerified:
			return ErrAccountNotLinked
		}

		return tx.Create(&models.Account{
			UserID:       user.ID,
			ProviderID:   providerID,
			AccountID:    profile.AccountID,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		}).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("linking %s account: %w", providerID, err)
	}

	return &user, created, nil
}
