package organizations

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxSlugAttempts bounds the number of candidates checked before falling back
// to a random suffix.
const MaxSlugAttempts = 100

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	nonLetters  = regexp.MustCompile(`[^A-Za-z\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
	nonSlug     = regexp.MustCompile(`[^a-z0-9]+`)
)

// GetUniqueOrganizationSlug returns base when it is free, otherwise the first
// free of base-2, base-3, ... A failed check is returned as an error rather
// than read as a free slug.
func (s *Service) GetUniqueOrganizationSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for n := 2; n <= MaxSlugAttempts+1; n++ {
		taken, err := s.auth.CheckOrganizationSlug(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}

	return base + "-" + randomSuffix(), nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// PersonalSlug derives the slug of a user's personal organization from their
// display name.
func PersonalSlug(name string) string {
	sanitized := strings.TrimSpace(nonLetters.ReplaceAllString(name, ""))
	sanitized = strings.ToLower(whitespace.ReplaceAllString(sanitized, "-"))
	if sanitized == "" {
		return "personal-organization"
	}
	return "personal-organization-" + sanitized
}

// Slugify derives a slug candidate from an organization name.
func Slugify(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "organization"
	}
	return slug
}

func validSlug(slug string) bool {
	return strings.TrimSpace(slug) != "" && slugPattern.MatchString(slug)
}
