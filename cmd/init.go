package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/arcward/guildsteward/steward"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"strings"
	"syscall"
)

// passwordReader reads a password without echoing it. Tests replace it.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var resetAdminCredentials bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the database, and set the admin API credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New("DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			return errors.New(
				"DATABASE not set (must be a valid database connection string " +
					"or sqlite file path)",
			)
		}

		db, err := steward.CreateDB(ctx, cfg.DatabaseType, cfg.Database, nil, cfg.DatabaseSlowThreshold)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		defer func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		}()

		var runtimeConfig steward.RuntimeConfig
		if err = db.WithContext(ctx).Last(&runtimeConfig).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error retrieving runtime config: %w", err)
		}

		out := cmd.OutOrStdout()
		credentialsSet := runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != ""
		if credentialsSet && !resetAdminCredentials {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

			reader := bufio.NewReader(cmd.InOrStdin())
			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)
			if username == "" {
				return errors.New("admin username must not be empty")
			}

			password, err := promptPassword(out)
			if err != nil {
				return err
			}

			writeDB := steward.NewDatabase(db, slog.Default(), false)
			if err = steward.SetAdminCredentials(ctx, writeDB, cfg, username, password); err != nil {
				return fmt.Errorf("error setting admin credentials: %w", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

// promptPassword asks for the password twice, until both entries match
func promptPassword(out io.Writer) (string, error) {
	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}

	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, err := readPassword()
		if err != nil {
			return "", fmt.Errorf("error reading password: %w", err)
		}
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm admin password: ")
		confirmBytes, err := readPassword()
		if err != nil {
			return "", fmt.Errorf("error reading password: %w", err)
		}
		fmt.Fprintln(out)

		password := string(passwordBytes)
		switch {
		case password == "":
			fmt.Fprintln(out, "Password must not be empty. Please try again.")
		case password != string(confirmBytes):
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		default:
			return password, nil
		}
	}
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().BoolVar(
		&resetAdminCredentials,
		"reset",
		false,
		"Replace the admin credentials, if already set",
	)
	rootCmd.AddCommand(initCmd)
}
