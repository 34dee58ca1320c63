package main

import (
	"fmt"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/zulandar/chatline/internal/identity"
)

func newLaunchDataCmd() *cobra.Command {
	var (
		configPath string
		botToken   string
		user       models.User
	)

	cmd := &cobra.Command{
		Use:   "launchdata",
		Short: "Sign launch data for a test user",
		Long:  "Prints Telegram Web App launch data for the given user, signed with the bot token, for use with connect --launch-data.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if botToken == "" {
				cfg, err := loadConfig(cmd, configPath)
				if err != nil {
					return err
				}
				botToken = cfg.DevServer.BotToken
			}
			return runLaunchData(cmd, user, botToken, time.Now())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chatline config file")
	cmd.Flags().StringVar(&botToken, "bot-token", "", "bot token to sign with (defaults to devserver.bot_token)")
	cmd.Flags().Int64Var(&user.ID, "user-id", 0, "Telegram user id")
	cmd.Flags().StringVar(&user.FirstName, "first-name", "", "user's first name")
	cmd.Flags().StringVar(&user.LastName, "last-name", "", "user's last name")
	cmd.Flags().StringVar(&user.Username, "username", "", "user's @username, without the @")
	cmd.MarkFlagRequired("user-id")
	return cmd
}

func runLaunchData(cmd *cobra.Command, user models.User, botToken string, now time.Time) error {
	if botToken == "" {
		return fmt.Errorf("bot token is required (--bot-token or devserver.bot_token)")
	}
	if user.ID <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	data, err := identity.NewLaunchData(user, now.Unix(), botToken)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), data)
	return nil
}
