package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/zhouzirui/taptalk/backend/pkg/client"
)

// PromptForCredential asks for a Gemini API key without echoing it.
func PromptForCredential() (string, error) {
	var key string
	prompt := &survey.Password{
		Message: "Enter your Gemini API key:",
		Help:    "Create one at https://aistudio.google.com/app/apikey. It is stored only on this machine.",
	}

	err := survey.AskOne(prompt, &key, survey.WithValidator(func(val interface{}) error {
		str, _ := val.(string)
		if strings.TrimSpace(str) == "" {
			return errors.New("API key cannot be empty")
		}
		return nil
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// login prompts for a key, checks it against the provider and caches it.
func login(ctx context.Context, w io.Writer, c *client.Client, creds client.CredentialStore) error {
	key, err := PromptForCredential()
	if err != nil {
		return err
	}

	printInfo(w, "Validating API key...")
	if err := c.ValidateCredential(ctx, key); err != nil {
		return err
	}

	if err := creds.Save(key); err != nil {
		return fmt.Errorf("save API key: %w", err)
	}
	printInfo(w, "API key saved")
	return nil
}

// ConfirmClear asks before deleting a session.
func ConfirmClear(sessionID string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Delete conversation %s?", sessionID),
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
