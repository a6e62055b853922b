package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the system browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		displayAppname(current.cfg.GetAppName())

		if acc := current.coordinator.Account(); acc != nil {
			fmt.Printf("Already signed in as %s\n", acc.DisplayName())
			return nil
		}

		fmt.Println("Opening your browser to sign in...")
		if err := current.coordinator.Login(cmd.Context()); err != nil {
			var sessErr *sessions.Error
			if errors.As(err, &sessErr) {
				return errors.New(sessErr.Message)
			}
			return err
		}

		acc := current.coordinator.Account()
		if acc == nil {
			return errors.New("sign-in did not complete")
		}
		fmt.Printf("Signed in as %s\n", acc.DisplayName())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the cached tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.coordinator.Logout(cmd.Context()); err != nil {
			// Local state is cleared regardless
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := current.coordinator.Observe()

		if statusJSON {
			out := map[string]any{
				"state":         snap.State.Kind.String(),
				"authenticated": snap.IsAuthenticated(),
			}
			if snap.State.Account != nil {
				out["account"] = snap.State.Account
			}
			if snap.State.Reason != "" {
				out["reason"] = snap.State.Reason
			}
			if snap.LastError != nil {
				out["error"] = map[string]string{"kind": string(snap.LastError.Kind), "message": snap.LastError.Message}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Printf("State:   %s\n", snap.State.Kind)
		if acc := snap.State.Account; acc != nil {
			fmt.Printf("Account: %s (%s)\n", acc.DisplayName(), acc.Username)
		}
		if snap.State.Reason != "" {
			fmt.Printf("Reason:  %s\n", snap.State.Reason)
		}
		if snap.LastError != nil {
			fmt.Printf("Error:   %s\n", snap.LastError.Message)
		}
		return nil
	},
}

var revealToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token for the configured API scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, ok := current.coordinator.Credential(cmd.Context())
		if !ok {
			if lastErr := current.coordinator.LastError(); lastErr != nil {
				return errors.New(lastErr.Message)
			}
			return errors.New("not signed in; run 'sessionctl login'")
		}

		if revealToken {
			fmt.Println(cred.AccessToken)
			return nil
		}
		fmt.Println(cred)
		if cred.ExpiresOn != nil {
			fmt.Printf("Expires: %s (in %s)\n", cred.ExpiresOn.Format(time.RFC3339), time.Until(*cred.ExpiresOn).Round(time.Second))
		}
		if len(cred.Scopes) > 0 {
			fmt.Printf("Scopes:  %s\n", strings.Join(cred.Scopes, " "))
		}
		return nil
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete every cached token without contacting the identity provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.coordinator.ClearCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Token cache cleared")
		return nil
	},
}

var apiTestCmd = &cobra.Command{
	Use:   "api-test",
	Short: "Call the API health and profile endpoints with the session's token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := apiclient.New(current.cfg.GetAPIBaseURL(), current.coordinator, apiclient.WithLogger(current.logger))
		results := client.RunSuite(cmd.Context())

		failed := 0
		for _, res := range results {
			mark := "PASS"
			if !res.Success {
				mark = "FAIL"
				failed++
			}
			fmt.Printf("[%s] %-18s %3d  %s", mark, res.Name, res.Status, res.Message)
			if res.Error != "" {
				fmt.Printf(" (%s)", res.Error)
			}
			fmt.Println()
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d API checks failed", failed, len(results))
		}
		return nil
	},
}

var _ apiclient.TokenSource = (*auth.Coordinator)(nil)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the session as JSON")
	tokenCmd.Flags().BoolVar(&revealToken, "reveal", false, "Print the raw access token")
}
