package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"costrologer/internal/notify"
)

var gmailAuthCmd = &cobra.Command{
	Use:   "gmail-auth",
	Short: "Authorize Gmail sending and store the OAuth token",
	Long: `Run the OAuth consent flow for the gmail.send scope. The OAuth client
(GMAIL_OAUTH_CLIENT_FILE) must list http://localhost:<port>/callback as an
authorized redirect URI. The token is written to GMAIL_OAUTH_TOKEN_FILE.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: loadEnvOnly,
	RunE:              runGmailAuth,
}

func init() {
	rootCmd.AddCommand(gmailAuthCmd)
	gmailAuthCmd.Flags().Int("port", 8085, "Local port for the OAuth redirect")
	gmailAuthCmd.Flags().String("client-file", "", "OAuth client JSON (defaults to GMAIL_OAUTH_CLIENT_FILE)")
	gmailAuthCmd.Flags().String("token-file", "", "Where to write the token (defaults to GMAIL_OAUTH_TOKEN_FILE or token.json)")
	gmailAuthCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for authorization")
}

// loadEnvOnly skips configuration validation: the token this command writes
// is a precondition of a valid gmail configuration.
func loadEnvOnly(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runGmailAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	port, _ := cmd.Flags().GetInt("port")
	clientFile, _ := cmd.Flags().GetString("client-file")
	tokenFile, _ := cmd.Flags().GetString("token-file")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if clientFile == "" {
		clientFile = envOr("GMAIL_OAUTH_CLIENT_FILE", "")
	}
	if clientFile == "" {
		return errors.New("set --client-file or GMAIL_OAUTH_CLIENT_FILE")
	}
	if tokenFile == "" {
		tokenFile = envOr("GMAIL_OAUTH_TOKEN_FILE", "token.json")
	}

	oauthCfg, err := notify.OAuthConfig(clientFile)
	if err != nil {
		return err
	}
	oauthCfg.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)
	state := uuid.NewString()

	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return fmt.Errorf("listen for redirect: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)
	// Only the first redirect counts; later ones must not block the handler.
	deliver := func(res result) {
		select {
		case resultCh <- res:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "OAuth error: "+q.Get("error"), http.StatusBadRequest)
			deliver(result{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
		default:
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
			deliver(result{code: q.Get("code")})
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize:\n%s\n", oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case res := <-resultCh:
		if res.err != nil {
			return res.err
		}
		tok, err := oauthCfg.Exchange(ctx, res.code)
		if err != nil {
			return fmt.Errorf("token exchange: %w", err)
		}
		if err := notify.SaveToken(tokenFile, tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved token to %s\n", tokenFile)
		return nil
	case <-time.After(timeout):
		return errors.New("authorization timed out")
	case <-ctx.Done():
		return errors.New("interrupted")
	}
}
