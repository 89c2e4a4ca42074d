package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/redhat-et/obo-delegation-demo/demo-client/internal/client"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign in and print the user's access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := userToken(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the user's profile as seen by profile-service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callProfileService(cmd.Context(), cmd.OutOrStdout(), "/api/profile")
	},
}

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Ask profile-service to fetch secure data from data-service on the user's behalf",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callProfileService(cmd.Context(), cmd.OutOrStdout(), "/api/delegate")
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd, profileCmd, delegateCmd)
}

func callProfileService(ctx context.Context, out io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := userToken(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Flow(logger.DirectionOutgoing, "Calling profile-service", "path", path)
	body, err := client.New(cfg.ProfileService.URL, cfg.ProfileService.Timeout).Get(ctx, token, path)
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		log.Deny("Request failed", "status", statusErr.Status)
		fmt.Fprintf(out, "Status: %d\nBody: %s\n", statusErr.Status, statusErr.Body)
		return err
	}
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(body)
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}
