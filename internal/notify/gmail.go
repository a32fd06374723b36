package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig selects how the sender authenticates. With a token file the
// OAuth client credentials and a stored user token are used; otherwise a
// service account impersonates From through domain-wide delegation.
type GmailConfig struct {
	From               string
	OAuthClientFile    string
	OAuthTokenFile     string
	ServiceAccountFile string
	ServiceAccountJSON string
}

// GmailSender sends emails through the Gmail API.
type GmailSender struct {
	svc  *gmail.Service
	from string
}

func NewGmailSender(ctx context.Context, cfg GmailConfig) (*GmailSender, error) {
	if cfg.From == "" {
		return nil, errors.New("gmail sender requires a from address")
	}

	var client *http.Client
	switch {
	case cfg.OAuthTokenFile != "":
		c, err := oauthClient(ctx, cfg.OAuthClientFile, cfg.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		client = c
	case cfg.ServiceAccountJSON != "" || cfg.ServiceAccountFile != "":
		credentialsJSON := []byte(cfg.ServiceAccountJSON)
		if len(credentialsJSON) == 0 {
			b, err := os.ReadFile(cfg.ServiceAccountFile)
			if err != nil {
				return nil, fmt.Errorf("read service account file: %w", err)
			}
			credentialsJSON = b
		}
		jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		jwtCfg.Subject = cfg.From
		client = jwtCfg.Client(ctx)
	default:
		return nil, errors.New("missing gmail credentials (set GMAIL_OAUTH_TOKEN_FILE or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	slog.InfoContext(ctx, "Gmail sender ready", "from", cfg.From)
	return &GmailSender{svc: svc, from: cfg.From}, nil
}

// OAuthConfig loads OAuth client credentials for the gmail.send scope.
func OAuthConfig(clientFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

func oauthClient(ctx context.Context, clientFile, tokenFile string) (*http.Client, error) {
	cfg, err := OAuthConfig(clientFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return cfg.Client(ctx, &tok), nil
}

// Send implements Notifier.
func (s *GmailSender) Send(ctx context.Context, email Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	msg := &gmail.Message{Raw: encodeMessage(s.from, email)}
	sent, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send gmail message: %w", err)
	}

	slog.InfoContext(ctx, "Email sent",
		"message_id", sent.Id,
		"to", email.To,
		"subject", email.Subject)
	return sent.Id, nil
}

// encodeMessage builds an RFC 2822 HTML message, base64url encoded as the
// Gmail API expects in Message.Raw.
func encodeMessage(from string, email Email) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", email.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.HTML)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// SaveToken writes an OAuth token as JSON with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
