/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(resetCmd)

	loginCmd.Flags().StringP("username", "u", "", "Apple ID")
	loginCmd.Flags().StringP("password", "p", "", "Apple ID password")
	loginCmd.Flags().StringP("code", "c", "", "Two-factor authentication code")
	viper.BindPFlag("login.username", loginCmd.Flags().Lookup("username"))
	viper.BindPFlag("login.password", loginCmd.Flags().Lookup("password"))
	viper.BindPFlag("login.code", loginCmd.Flags().Lookup("code"))
	viper.BindEnv("login.username", "IPASTORE_APPLE_ID")
	viper.BindEnv("login.password", "IPASTORE_APPLE_PASSWORD")
}

var loginCmd = &cobra.Command{
	Use:           "login",
	Short:         "Sign in to the App Store",
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: heredoc.Doc(`
		# Sign in (prompts for missing credentials and the 2FA code)
		❯ ipastore login --username user@icloud.com

		# Reuse the cached session
		❯ ipastore login`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		creds := &appstore.Credentials{
			AppleID:  viper.GetString("login.username"),
			Password: viper.GetString("login.password"),
			Code:     viper.GetString("login.code"),
		}
		if creds.AppleID == "" {
			// no account given: reuse the cached session
			sess, err := client.Auth.Session(ctx)
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		}
		if creds.Password == "" {
			if err := survey.AskOne(&survey.Password{
				Message: "Please type your password:",
			}, &creds.Password); err != nil {
				if errors.Is(err, terminal.InterruptErr) {
					log.Warn("Exiting...")
					return nil
				}
				return err
			}
		}

		sess, err := client.Auth.Login(ctx, creds)
		var lerr *appstore.LoginError
		if errors.As(err, &lerr) && lerr.Requires2FA && creds.Code == "" {
			if err := survey.AskOne(&survey.Input{
				Message: "Please type your verification code:",
			}, &creds.Code, survey.WithValidator(survey.Required)); err != nil {
				if errors.Is(err, terminal.InterruptErr) {
					log.Warn("Exiting...")
					return nil
				}
				return err
			}
			sess, err = client.Auth.Login(ctx, creds)
		}
		if err != nil {
			return fmt.Errorf("failed to login: %w", err)
		}
		log.Info("Login successful")
		printSession(sess)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:           "refresh",
	Short:         "Refresh the cached session cookie",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		sess, err := client.Auth.RefreshCookie(ctx)
		if err != nil {
			return err
		}
		log.Info("Cookie refreshed successfully")
		printSession(sess)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:           "reset",
	Short:         "Clear the cached session and device GUID",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		client, closeFn, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := client.Auth.Reset(ctx)
		if err != nil {
			return err
		}
		log.WithField("keys", res.ClearedKeys).Info(res.Message)
		return nil
	},
}

func printSession(sess *appstore.Session) {
	name := sess.AccountAppleID()
	if sess.AccountInfo != nil && sess.AccountInfo.FirstName != "" {
		name = fmt.Sprintf("%s %s <%s>", sess.AccountInfo.FirstName, sess.AccountInfo.LastName, sess.AccountAppleID())
	}
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("Account:   "), name)
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("DSID:      "), sess.DSPersonID)
	fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("Storefront:"), sess.StoreFront)
}
