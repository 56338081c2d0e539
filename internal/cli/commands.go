// Package cli implements the taptalk terminal client.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/taptalk/backend/pkg/client"
)

// Config holds the client settings. Flags override the environment.
type Config struct {
	ServerURL      string        `envconfig:"TAPTALK_SERVER_URL" default:"http://localhost:8080"`
	CredentialFile string        `envconfig:"TAPTALK_CREDENTIAL_FILE"`
	Timeout        time.Duration `envconfig:"TAPTALK_TIMEOUT" default:"45s"`
}

type app struct {
	cfg    Config
	client *client.Client
	creds  client.CredentialStore
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var cfg Config
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "taptalk",
		Short:         "TapTalk - chat with Gemini from your terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start the chat loop
			sessionID, _ := cmd.Flags().GetString("session")
			return a.runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), sessionID)
		},
	}

	if err := envconfig.Process("", &cfg); err != nil {
		// Defaults still apply; flags can fix the rest.
		cfg = Config{ServerURL: client.DefaultBaseURL, Timeout: 45 * time.Second}
	}

	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Relay base URL")
	rootCmd.PersistentFlags().StringVar(&cfg.CredentialFile, "credential-file", cfg.CredentialFile, "Where the API key is cached")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	rootCmd.Flags().String("session", "", "Resume an existing session")

	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newClearCmd(a))
	rootCmd.AddCommand(newLoginCmd(a))
	rootCmd.AddCommand(newLogoutCmd(a))

	return rootCmd
}

func (a *app) init(cmd *cobra.Command, cfg Config) error {
	path := cfg.CredentialFile
	if path == "" {
		var err error
		if path, err = client.DefaultCredentialPath(); err != nil {
			return err
		}
	}

	a.cfg = cfg
	a.creds = client.NewFileCredentialStore(path)
	a.client = client.New(client.Options{BaseURL: cfg.ServerURL, Timeout: cfg.Timeout})
	return nil
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print the transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := client.NewConversation(a.client, a.creds)
			if err := conv.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), conv.SessionID(), conv.Messages())
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear SESSION_ID",
		Short: "Delete a session on the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				ok, err := ConfirmClear(args[0])
				if err != nil || !ok {
					return err
				}
			}
			if err := a.client.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), "Conversation %s cleared", args[0])
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Validate and cache a Gemini API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return login(cmd.Context(), cmd.OutOrStdout(), a.client, a.creds)
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the cached API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.creds.Clear(); err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), "API key removed")
			return nil
		},
	}
}

// runChat reads one message per line until EOF or /exit.
func (a *app) runChat(ctx context.Context, in io.Reader, out io.Writer, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conv := client.NewConversation(a.client, a.creds)
	if sessionID != "" {
		if err := conv.Load(ctx, sessionID); err != nil {
			return fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		printTranscript(out, conv.SessionID(), conv.Messages())
	}

	printBanner(out, a.cfg.ServerURL)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			if err := conv.Reset(ctx); err != nil {
				printError(out, err)
				continue
			}
			printInfo(out, "Conversation reset")
			continue
		case "/login":
			if err := login(ctx, out, a.client, a.creds); err != nil {
				printError(out, err)
			}
			continue
		}

		reply, err := conv.Send(ctx, line)
		if err != nil {
			printError(out, err)
			if errors.Is(err, client.ErrCredentialRejected) {
				printInfo(out, "Your API key was rejected and has been removed. Use /login to enter a new one.")
			}
			continue
		}
		printMessage(out, reply)
	}
}
