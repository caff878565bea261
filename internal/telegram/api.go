package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	defaultFileEndpoint   = tgbotapi.FileEndpoint
	defaultUpdatesTimeout = 60
)

// ErrFileTooLarge is returned by DownloadFile when the file exceeds the download limit.
var ErrFileTooLarge = errors.New("telegram: file too large")

// Compile-time check that API implements Messenger.
var _ Messenger = (*API)(nil)

// API adapts the Bot API client to Messenger and turns long-polled updates
// into Messages.
type API struct {
	bot          *tgbotapi.BotAPI
	httpClient   *http.Client
	fileEndpoint string
	maxFileBytes int64
	logger       *slog.Logger
}

// APIOption is a function that configures an API.
type APIOption func(*apiOptions)

type apiOptions struct {
	apiEndpoint  string
	fileEndpoint string
	httpClient   *http.Client
	maxFileBytes int64
	logger       *slog.Logger
}

// WithAPIEndpoint overrides the Bot API method URL format
// (token and method name are substituted).
func WithAPIEndpoint(format string) APIOption {
	return func(o *apiOptions) {
		o.apiEndpoint = format
	}
}

// WithFileEndpoint overrides the file download URL format
// (token and file path are substituted).
func WithFileEndpoint(format string) APIOption {
	return func(o *apiOptions) {
		o.fileEndpoint = format
	}
}

// WithHTTPClient sets the HTTP client used for API calls and downloads.
func WithHTTPClient(c *http.Client) APIOption {
	return func(o *apiOptions) {
		o.httpClient = c
	}
}

// WithDownloadLimit caps file downloads.
func WithDownloadLimit(n int64) APIOption {
	return func(o *apiOptions) {
		if n > 0 {
			o.maxFileBytes = n
		}
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(o *apiOptions) {
		o.logger = l
	}
}

// NewAPI connects to the Bot API. It fails when the token is rejected.
func NewAPI(token string, opts ...APIOption) (*API, error) {
	o := &apiOptions{
		apiEndpoint:  tgbotapi.APIEndpoint,
		fileEndpoint: defaultFileEndpoint,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		maxFileBytes: defaultMaxFileBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, o.apiEndpoint, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	o.logger.Info("telegram bot authorized", slog.String("username", bot.Self.UserName))

	return &API{
		bot:          bot,
		httpClient:   o.httpClient,
		fileEndpoint: o.fileEndpoint,
		maxFileBytes: o.maxFileBytes,
		logger:       o.logger,
	}, nil
}

// SendText sends a plain text message.
func (a *API) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendVideoNote uploads the file at path as a round video note.
func (a *API) SendVideoNote(ctx context.Context, chatID int64, path string, length int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	note := tgbotapi.NewVideoNote(chatID, length, tgbotapi.FilePath(path))
	if _, err := a.bot.Send(note); err != nil {
		return fmt.Errorf("telegram: send video note: %w", err)
	}
	return nil
}

// DownloadFile resolves fileID and downloads its contents.
func (a *API) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := a.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if int64(file.FileSize) > a.maxFileBytes {
		return nil, ErrFileTooLarge
	}

	url := fmt.Sprintf(a.fileEndpoint, a.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if int64(len(data)) > a.maxFileBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// Updates long-polls the Bot API and delivers messages until ctx is done.
// The returned channel is closed when polling stops.
func (a *API) Updates(ctx context.Context) <-chan Message {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = defaultUpdatesTimeout
	updates := a.bot.GetUpdatesChan(cfg)

	out := make(chan Message)
	go func() {
		defer close(out)
		defer a.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := messageFromUpdate(upd)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// messageFromUpdate keeps the parts of an update the bot reacts to.
func messageFromUpdate(upd tgbotapi.Update) (Message, bool) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return Message{}, false
	}

	msg := Message{ChatID: m.Chat.ID, Text: m.Text}
	if m.IsCommand() {
		msg.Command = m.Command()
		msg.Text = m.CommandArguments()
	}

	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		msg.FileID = largest.FileID
		msg.FileSize = largest.FileSize
	case m.Document != nil:
		msg.FileID = m.Document.FileID
		msg.FileMIME = m.Document.MimeType
		msg.FileSize = m.Document.FileSize
		msg.IsDocument = true
	}
	return msg, true
}
