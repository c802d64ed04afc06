package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapncook/snapclient/internal/services/recommend"
)

func recommendCmd(opts *rootOptions) *cobra.Command {
	var (
		detection  int64
		ingredient int64
		public     bool
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Fetch recipe recommendations for a detection or ingredient input",
		Long: `Fetch recipe recommendations. Signed-in users get their own results
first; anything the private lookup cannot answer falls back to the public
recommendations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				kind recommend.Kind
				id   int64
			)
			switch {
			case detection != 0 && ingredient != 0:
				return errors.New("use only one of --detection and --ingredient")
			case detection != 0:
				kind, id = recommend.KindDetection, detection
			case ingredient != 0:
				kind, id = recommend.KindIngredient, ingredient
			default:
				return errors.New("one of --detection or --ingredient is required")
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.services.GetRecommendService()
			var recipes []recommend.Recipe
			if public {
				recipes, err = svc.ResolvePublic(cmd.Context(), id, kind)
			} else {
				recipes, err = svc.Resolve(cmd.Context(), id, kind)
			}
			if err != nil {
				return fmt.Errorf("%s %d: %w", kind, id, err)
			}
			return printJSON(cmd.OutOrStdout(), recipes)
		},
	}

	cmd.Flags().Int64Var(&detection, "detection", 0, "Detection result id")
	cmd.Flags().Int64Var(&ingredient, "ingredient", 0, "Ingredient input id")
	cmd.Flags().BoolVar(&public, "public", false, "Skip the private lookup")
	return cmd
}

func oauthCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Sign in through google, kakao or naver",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "url <provider>",
		Short: "Print the provider authorization URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.services.GetSessionService().OAuthLoginURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	})

	var code, state string
	callback := &cobra.Command{
		Use:   "callback <provider>",
		Short: "Complete a provider sign-in with the code it returned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.services.GetSessionService().OAuthCallback(cmd.Context(), args[0], code, state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.DisplayName())
			return nil
		},
	}
	callback.Flags().StringVar(&code, "code", "", "Authorization code")
	callback.Flags().StringVar(&state, "state", "", "State returned with the code")
	_ = callback.MarkFlagRequired("code")
	cmd.AddCommand(callback)

	return cmd
}
