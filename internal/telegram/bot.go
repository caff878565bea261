// Package telegram is the chat front-end: it collects a portrait and a
// script from a user, runs the video note pipeline and sends the result
// back as a round video note.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/maauso/videonote/internal/job"
	"github.com/maauso/videonote/internal/media"
)

const (
	// defaultMaxFileBytes is the Bot API download limit.
	defaultMaxFileBytes = 20 << 20
	defaultNoteLength   = 640
	fallbackImageMIME   = "image/jpeg"
)

// Replies sent to users.
const (
	msgWelcome       = "Hi! Send me a portrait photo (JPG or PNG, one face). After that I will ask for the text to speak."
	msgPhotoReceived = "Photo received. Now send the text to speak (25 to 60 words work best)."
	msgEmptyText     = "The text is empty. Please send the text to speak."
	msgNotAnImage    = "That file is not an image. Please send a JPG or PNG photo."
	msgFileTooLarge  = "That file is too large. Please send a photo under 20 MB."
	msgDownloadError = "I could not download that file. Please send the photo again."
	msgGenerating    = "Generating your video. This usually takes 1 to 3 minutes."
	msgSendFailed    = "The video is ready but could not be sent. Please try again."
	msgDone          = "Done! Want another one? Send a new photo."
)

// Message is an incoming chat message reduced to what the bot reacts to.
type Message struct {
	ChatID  int64
	Command string
	Text    string
	// FileID is the largest photo size or the attached document.
	FileID string
	// FileMIME is the declared type of an attached document.
	FileMIME string
	FileSize int
	// IsDocument is true when the image was sent as a file rather than a photo.
	IsDocument bool
}

// HasFile reports whether the message carries a photo or document.
func (m Message) HasFile() bool {
	return m.FileID != ""
}

// Messenger is the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendVideoNote(ctx context.Context, chatID int64, path string, length int) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Generator runs one photo-to-video-note job. *job.Pipeline implements it.
type Generator interface {
	Run(ctx context.Context, in job.Input) (*job.Output, error)
}

// Bot drives the per-chat conversation.
type Bot struct {
	messenger    Messenger
	generator    Generator
	sessions     *SessionStore
	logger       *slog.Logger
	noteLength   int
	maxFileBytes int

	wg sync.WaitGroup
}

// BotOption is a function that configures a Bot.
type BotOption func(*Bot)

// WithNoteLength sets the video note diameter announced to Telegram.
// It should match the transform size.
func WithNoteLength(n int) BotOption {
	return func(b *Bot) {
		if n > 0 {
			b.noteLength = n
		}
	}
}

// WithMaxFileBytes limits accepted photo sizes.
func WithMaxFileBytes(n int) BotOption {
	return func(b *Bot) {
		if n > 0 {
			b.maxFileBytes = n
		}
	}
}

// WithSessionStore shares a session store.
func WithSessionStore(s *SessionStore) BotOption {
	return func(b *Bot) {
		b.sessions = s
	}
}

// NewBot creates a new Bot.
func NewBot(messenger Messenger, generator Generator, logger *slog.Logger, opts ...BotOption) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		messenger:    messenger,
		generator:    generator,
		sessions:     NewSessionStore(),
		logger:       logger,
		noteLength:   defaultNoteLength,
		maxFileBytes: defaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run handles messages until ctx is done or messages is closed, then waits
// for running jobs to finish.
func (b *Bot) Run(ctx context.Context, messages <-chan Message) error {
	defer b.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.Handle(ctx, msg)
		}
	}
}

// Wait blocks until every download and job started by Handle has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Handle reacts to one message. Photo downloads and generation run in their
// own goroutines so one chat never blocks another.
func (b *Bot) Handle(ctx context.Context, msg Message) {
	logger := b.logger.With(slog.Int64("chat_id", msg.ChatID))

	switch {
	case msg.Command == "start":
		b.sessions.Reset(msg.ChatID)
		b.reply(ctx, logger, msg.ChatID, msgWelcome)
	case msg.HasFile():
		b.handlePhoto(ctx, logger, msg)
	case msg.Command == "" && msg.Text != "":
		b.handleText(ctx, logger, msg)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, logger *slog.Logger, msg Message) {
	if state := b.sessions.Get(msg.ChatID).State; state != StateAwaitPhoto {
		logger.Debug("ignoring photo", slog.String("state", string(state)))
		return
	}
	if msg.IsDocument && msg.FileMIME != "" && !strings.HasPrefix(msg.FileMIME, "image/") {
		b.reply(ctx, logger, msg.ChatID, msgNotAnImage)
		return
	}
	if msg.FileSize > b.maxFileBytes {
		b.reply(ctx, logger, msg.ChatID, msgFileTooLarge)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.receivePhoto(ctx, logger, msg)
	}()
}

func (b *Bot) receivePhoto(ctx context.Context, logger *slog.Logger, msg Message) {
	data, err := b.messenger.DownloadFile(ctx, msg.FileID)
	if errors.Is(err, ErrFileTooLarge) {
		b.reply(ctx, logger, msg.ChatID, msgFileTooLarge)
		return
	}
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn("photo download failed", slog.String("error", err.Error()))
		b.reply(ctx, logger, msg.ChatID, msgDownloadError)
		return
	}
	if len(data) > b.maxFileBytes {
		b.reply(ctx, logger, msg.ChatID, msgFileTooLarge)
		return
	}

	mimeType := msg.FileMIME
	if sniffed, err := media.DetectImageMIME(data); err == nil {
		if mimeType == "" {
			mimeType = sniffed
		}
	} else if msg.IsDocument {
		b.reply(ctx, logger, msg.ChatID, msgNotAnImage)
		return
	}
	if mimeType == "" {
		mimeType = fallbackImageMIME
	}

	if err := b.sessions.AcceptPhoto(msg.ChatID, data, mimeType); err != nil {
		// Another message moved the chat on while we were downloading.
		return
	}
	logger.Info("photo received", slog.String("mime_type", mimeType), slog.Int("bytes", len(data)))
	b.reply(ctx, logger, msg.ChatID, msgPhotoReceived)
}

func (b *Bot) handleText(ctx context.Context, logger *slog.Logger, msg Message) {
	if b.sessions.Get(msg.ChatID).State != StateAwaitText {
		return
	}
	script := strings.TrimSpace(msg.Text)
	if script == "" {
		b.reply(ctx, logger, msg.ChatID, msgEmptyText)
		return
	}

	sess, err := b.sessions.BeginGenerating(msg.ChatID)
	if err != nil {
		return
	}
	b.reply(ctx, logger, msg.ChatID, msgGenerating)

	in := job.Input{Image: sess.Photo, MIMEType: sess.PhotoMIME, Script: script}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.generate(ctx, logger, msg.ChatID, sess.Generation, in)
	}()
}

func (b *Bot) generate(ctx context.Context, logger *slog.Logger, chatID int64, generation uint64, in job.Input) {
	defer b.sessions.Finish(chatID, generation)

	out, err := b.generator.Run(ctx, in)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Shutting down; the chat gets no reply.
			return
		}
		b.reply(ctx, logger, chatID, job.UserMessage(err))
		return
	}
	defer func() {
		if err := out.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release note", slog.String("job_id", out.JobID), slog.String("error", err.Error()))
		}
	}()

	if err := b.messenger.SendVideoNote(ctx, chatID, out.VideoPath, b.noteLength); err != nil {
		logger.Error("failed to send video note",
			slog.String("job_id", out.JobID),
			slog.String("error", err.Error()),
		)
		b.reply(ctx, logger, chatID, msgSendFailed)
		return
	}

	logger.Info("video note sent", slog.String("job_id", out.JobID))
	b.reply(ctx, logger, chatID, msgDone)
}

func (b *Bot) reply(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	if err := b.messenger.SendText(ctx, chatID, text); err != nil {
		logger.Warn("failed to send reply", slog.String("error", err.Error()))
	}
}
