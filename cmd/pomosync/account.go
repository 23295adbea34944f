package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pomosync/pomosync/internal/remote"
	"github.com/pomosync/pomosync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Log in and reconcile local data with your account",
	Long: `Log in to your pomodoro account.

After a successful login pomosync compares your local sessions and settings
with the account. If they agree, or only the account has new data, the
account's copy is pulled down. If they disagree you are asked how to
reconcile them; run 'pomosync resolve' to answer later.

The password is read from the terminal without echo, or from the first line
of stdin when stdin is not a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		creds := readCredentials(cmd)
		token, err := a.remote.Login(ctx, creds)
		if err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		if err := a.store.SetToken(ctx, token); err != nil {
			a.Close()
			fatal("saving token: %v", err)
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass(ui.IconPass), creds.Email)

		pending, err := a.trigger.OnAuthenticated(ctx)
		if err != nil {
			notice(err)
			fmt.Println("Run 'pomosync resolve' once the account service is reachable.")
			return
		}
		if !pending.Open() {
			fmt.Printf("%s Local data is in sync with your account\n", ui.RenderPass(ui.IconPass))
			return
		}
		if interactive() {
			resolveInteractively(ctx, a, pending)
			return
		}
		a.Close()
		exitOnDecision(pending)
	},
}

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "account",
	Short:   "Create an account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		creds := readCredentials(cmd)
		if err := a.remote.Register(ctx, creds); err != nil {
			a.Close()
			notice(err)
			os.Exit(1)
		}
		fmt.Printf("%s Account created for %s\n", ui.RenderPass(ui.IconPass), creds.Email)
		fmt.Println("Run 'pomosync login' to start syncing.")
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Forget the stored account token",
	Long: `Forget the stored account token. Local sessions and settings are kept and
pomosync keeps working offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx)
		defer a.Close()

		if err := a.store.ClearToken(ctx); err != nil {
			a.Close()
			fatal("clearing token: %v", err)
		}
		fmt.Printf("%s Logged out. Local data is kept.\n", ui.RenderPass(ui.IconPass))
	},
}

func readCredentials(cmd *cobra.Command) remote.Credentials {
	email, _ := cmd.Flags().GetString("email")
	in := bufio.NewReader(os.Stdin)

	if email == "" {
		if !interactive() {
			fatal("--email is required")
		}
		fmt.Print("Email: ")
		line, err := in.ReadString('\n')
		if err != nil {
			fatal("reading email: %v", err)
		}
		email = strings.TrimSpace(line)
	}

	var password string
	if interactive() {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fatal("reading password: %v", err)
		}
		password = string(raw)
	} else {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			fatal("reading password from stdin: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if email == "" || password == "" {
		fatal("email and password are required")
	}
	return remote.Credentials{Email: email, Password: password}
}

// interactive reports whether prompts can be shown.
func interactive() bool {
	return ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringP("email", "e", "", "account email")
	}
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}
