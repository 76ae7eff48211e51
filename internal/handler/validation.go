package handler

import (
	"regexp"
	"strings"

	"github.com/hitoshi/portal/internal/profile"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\d{10}$`)
)

// validateCredentials はログイン・サインアップフォームを検証し、フィールドごとのエラーを返す。
// 問題がなければnilを返す。
func validateCredentials(email, password, name string, signup bool) map[string]string {
	errs := map[string]string{}

	if strings.TrimSpace(email) == "" {
		errs["email"] = "Email is required"
	} else if !emailPattern.MatchString(email) {
		errs["email"] = "Valid email is required"
	}
	if strings.TrimSpace(password) == "" {
		errs["password"] = "Password is required"
	}
	if signup && strings.TrimSpace(name) == "" {
		errs["name"] = "Name is required"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateProfile はプロフィールフォームを検証する。
func validateProfile(in profile.Input) map[string]string {
	errs := map[string]string{}

	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Name is required"
	}
	if strings.TrimSpace(in.Email) == "" || !emailPattern.MatchString(in.Email) {
		errs["email"] = "Valid Email is required"
	}
	if strings.TrimSpace(in.Phone) == "" || !phonePattern.MatchString(in.Phone) {
		errs["phone"] = "Valid 10-digit phone number is required"
	}
	if len(in.Address) <= 5 {
		errs["address"] = "Address must be at least 5 characters long"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
