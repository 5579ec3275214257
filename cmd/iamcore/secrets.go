package main

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	// local development keeper; cloud KMS drivers are linked on demand
	_ "gocloud.dev/secrets/localsecrets"

	"github.com/plaenen/iamcore/pkg/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the sealed secret bundle",
	}
	cmd.AddCommand(newSecretsInitCmd())
	return cmd
}

func newSecretsInitCmd() *cobra.Command {
	var smtpPasswords map[string]string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a signing key and seal the secret bundle",
		Long: `Generates a fresh token signing key, seals it with the configured
keeper and writes the ciphertext to the bundle path. Running init against an
existing bundle rotates the signing key; previously issued tokens become
invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSecretsInit(cmd.Context(), smtpPasswords)
		},
	}
	cmd.Flags().StringToStringVar(&smtpPasswords, "smtp-password", nil,
		"SMTP password keyed by config ID (repeatable, e.g. --smtp-password smtp-1=hunter2)")
	return cmd
}

func runSecretsInit(ctx context.Context, smtpPasswords map[string]string) error {
	logger := newLogger()

	keeperURL := viper.GetString("secrets.keeper_url")
	bundlePath := viper.GetString("secrets.bundle_path")
	if keeperURL == "" || bundlePath == "" {
		return fmt.Errorf("secrets.keeper_url and secrets.bundle_path must be configured")
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	bundle := &secrets.Bundle{
		SigningKey:    secrets.EncodeSigningKey(key),
		SMTPPasswords: smtpPasswords,
	}
	if err := secrets.Seal(ctx, keeperURL, bundlePath, bundle); err != nil {
		return err
	}

	logger.Info("secret bundle sealed",
		"path", bundlePath,
		"smtp_passwords", len(smtpPasswords))
	return nil
}
