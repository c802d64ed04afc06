package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/services/session"
)

var errNotSignedIn = errors.New("not signed in; run `snapclient login` first")

// prompter reads secrets that were not given as flags, one line at a time.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()}
}

func (p *prompter) value(given, label string) (string, error) {
	if given != "" {
		return given, nil
	}
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func loginCmd(opts *rootOptions) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			email, err := p.value(email, "Email")
			if err != nil {
				return err
			}
			password, err := p.value(password, "Password")
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.services.GetSessionService().Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.DisplayName())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when empty)")
	return cmd
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.services.GetSessionService().Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return err
		},
	}
}

func signupCmd(opts *rootOptions) *cobra.Command {
	var req auth.SignupRequest

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Long:  "Create an account. Signing up does not sign in; run `snapclient login` afterwards.",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := newPrompter(cmd).value(req.Password, "Password")
			if err != nil {
				return err
			}
			req.Password = password

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.services.GetSessionService().Signup(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", user.Username, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (prompted when empty)")
	cmd.Flags().StringVar(&req.Nickname, "nickname", "", "Display name")
	cmd.Flags().StringVar(&req.ProfileImageURL, "image", "", "Profile image URL")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type whoami struct {
	State     session.State `json:"state"`
	User      *auth.User    `json:"user,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func whoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.services.GetSessionService().Snapshot()
			out := whoami{State: snap.State, User: snap.User}

			pair, err := a.services.GetStore().Load(cmd.Context())
			if err != nil {
				return err
			}
			if pair != nil {
				if claims, err := auth.ParseAccessClaims(pair.AccessToken); err == nil {
					out.Subject = claims.Subject
					if !claims.ExpiresAt.IsZero() {
						exp := claims.ExpiresAt.UTC()
						out.ExpiresAt = &exp
					}
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func profileCmd(opts *rootOptions) *cobra.Command {
	var nickname, image string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the signed-in profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sess := a.services.GetSessionService()
			if !sess.IsAuthenticated() {
				return errNotSignedIn
			}

			var update auth.ProfileUpdate
			if cmd.Flags().Changed("nickname") {
				update.Nickname = &nickname
			}
			if cmd.Flags().Changed("image") {
				update.ProfileImageURL = &image
			}

			var user *auth.User
			if update.Nickname != nil || update.ProfileImageURL != nil {
				user, err = sess.UpdateProfile(cmd.Context(), update)
			} else {
				user, err = sess.RefreshProfile(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}

	cmd.Flags().StringVar(&nickname, "nickname", "", "New display name")
	cmd.Flags().StringVar(&image, "image", "", "New profile image URL")
	return cmd
}

func passwordCmd(opts *rootOptions) *cobra.Command {
	var change auth.PasswordChange

	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			var err error
			if change.CurrentPassword, err = p.value(change.CurrentPassword, "Current password"); err != nil {
				return err
			}
			if change.NewPassword, err = p.value(change.NewPassword, "New password"); err != nil {
				return err
			}
			if change.NewPasswordCheck, err = p.value(change.NewPasswordCheck, "Confirm new password"); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.services.GetSessionService().ChangePassword(cmd.Context(), change); err != nil {
				if errors.Is(err, session.ErrNotAuthenticated) {
					return errNotSignedIn
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
			return nil
		},
	}

	cmd.Flags().StringVar(&change.CurrentPassword, "current", "", "Current password (prompted when empty)")
	cmd.Flags().StringVar(&change.NewPassword, "new", "", "New password (prompted when empty)")
	cmd.Flags().StringVar(&change.NewPasswordCheck, "confirm", "", "New password again (prompted when empty)")
	return cmd
}

func deleteAccountCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Permanently delete the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete the account without --yes")
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.services.GetSessionService().DeleteAccount(cmd.Context()); err != nil {
				if errors.Is(err, session.ErrNotAuthenticated) {
					return errNotSignedIn
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Account deleted")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
