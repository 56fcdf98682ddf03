package dto

import "github.com/hugh/go-orgs/internal/auth"

type UpdateAvatarRequest struct {
	StorageID string `json:"storageId"`
}

type SetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (r SetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if len(r.NewPassword) < auth.MinPasswordLength {
		errors["newPassword"] = "Password must be at least 8 characters"
	}

	return errors
}

type DeleteUserRequest struct {
	Password string `json:"password"`
}

type UserExistsResponse struct {
	Exists bool `json:"exists"`
}
