package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/studysync/internal/app"
	"github.com/MrWong99/studysync/internal/assist"
	"github.com/MrWong99/studysync/internal/conversation"
	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/stt"
)

// errUsage marks errors caused by bad command-line input.
var errUsage = errors.New("usage")

// env is what a command needs from the process.
type env struct {
	app    *app.App
	stdin  io.Reader
	stdout io.Writer
}

type command struct {
	name     string
	synopsis string
	run      func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"live", "talk to the tutor through the microphone and speaker", runLive},
	{"assist", "run one study feature on a text or file", runAssist},
	{"chat", "multi-turn chat over stdin", runChat},
	{"speak", "read a text aloud", runSpeak},
	{"image", "generate an image from a prompt", runImage},
	{"transcribe", "transcribe an audio file", runTranscribe},
	{"serve", "run only the metrics and health server", runServe},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %q", errUsage, fs.Args())
	}
	return nil
}

// ── live ──────────────────────────────────────────────────────────────────────

func runLive(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("live", e.stdout)
	voice := fs.String("voice", "", "prebuilt voice (overrides live.voice)")
	instructions := fs.String("instructions", "", "system instructions (overrides live.instructions)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	session := e.app.SessionConfig()
	if *voice != "" {
		session.Voice = *voice
	}
	if *instructions != "" {
		session.Instructions = *instructions
	}

	ctrl, err := e.app.NewConversation(session)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	printer := &transcriptPrinter{w: e.stdout}
	ended := make(chan conversation.Snapshot, 1)
	ctrl.OnChange(func(s conversation.Snapshot) {
		printer.update(s)
		if sessionOver(s.Status) {
			select {
			case ended <- s:
			default:
			}
		}
	})

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	printer.note("Listening. Press Ctrl-C to stop.")

	select {
	case <-ctx.Done():
		return nil
	case s := <-ended:
		if s.Err != nil {
			return fmt.Errorf("conversation ended: %w", s.Err)
		}
		return nil
	}
}

// sessionOver reports whether the conversation reached a resting state. A
// started conversation only gets there by a stop, a remote close or a
// failure.
func sessionOver(s conversation.Status) bool {
	return s == conversation.StatusIdle || s == conversation.StatusError
}

// transcriptPrinter writes status changes, finalized transcript entries and
// the in-progress lines as they change. In-progress lines are marked with an
// ellipsis after the speaker ("you… ", "tutor… ").
type transcriptPrinter struct {
	mu        sync.Mutex
	w         io.Writer
	printed   int
	status    conversation.Status
	userLine  string
	modelLine string
}

func (p *transcriptPrinter) update(s conversation.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Status != p.status {
		p.status = s.Status
		fmt.Fprintf(p.w, "[%s]\n", s.Status)
	}
	if len(s.Entries) < p.printed {
		p.printed = 0
	}
	for _, entry := range s.Entries[p.printed:] {
		fmt.Fprintf(p.w, "%s: %s\n", speakerLabel(entry.Speaker), entry.Text)
	}
	p.printed = len(s.Entries)

	p.userLine = p.liveLine(conversation.SpeakerUser, p.userLine, s.UserLine)
	p.modelLine = p.liveLine(conversation.SpeakerModel, p.modelLine, s.ModelLine)
}

// liveLine prints cur when it differs from prev and holds visible text, and
// returns the line to remember.
func (p *transcriptPrinter) liveLine(speaker conversation.Speaker, prev, cur string) string {
	if cur == prev {
		return prev
	}
	if text := strings.TrimSpace(cur); text != "" {
		fmt.Fprintf(p.w, "%s… %s\n", speakerLabel(speaker), text)
	}
	return cur
}

// note writes a line that is not part of the transcript.
func (p *transcriptPrinter) note(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func speakerLabel(s conversation.Speaker) string {
	if s == conversation.SpeakerUser {
		return "you"
	}
	return "tutor"
}

// ── assist ────────────────────────────────────────────────────────────────────

func runAssist(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("assist", e.stdout)
	feature := fs.String("feature", string(assist.Summarize), "study feature, e.g. summarize, translate, study-guide")
	lang := fs.String("lang", "", "output language (default assist.language)")
	text := fs.String("text", "", "input text")
	in := fs.String("in", "", "read the input text from this file (- for stdin)")
	attach := fs.String("attach", "", "attach an image or document")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	f, err := assist.ParseFeature(*feature)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	req := assist.Request{Feature: f, Text: *text}
	if *lang != "" {
		if req.Language, err = assist.ParseLanguage(*lang); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
	}
	if *in != "" {
		data, err := readInput(*in, e.stdin)
		if err != nil {
			return err
		}
		req.Text = string(data)
	}
	if *attach != "" {
		a, err := loadAttachment(*attach)
		if err != nil {
			return err
		}
		req.Attachment = a
	}

	svc, err := e.app.Assist()
	if err != nil {
		return err
	}
	answer, err := svc.Process(ctx, req)
	if errors.Is(err, assist.ErrUnsupportedFeature) {
		return fmt.Errorf("%w; use the image, transcribe, live or chat command", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, answer)
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func loadAttachment(path string) (*assist.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &assist.Attachment{MIMEType: attachmentType(path, data), Data: data}, nil
}

// attachmentType sniffs the content and falls back to the file extension
// for types the sniffer reports as plain text or octet-stream.
func attachmentType(path string, data []byte) string {
	sniffed, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if sniffed != "application/octet-stream" && sniffed != "text/plain" {
		return sniffed
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	}
	return sniffed
}

// ── chat ──────────────────────────────────────────────────────────────────────

func runChat(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("chat", e.stdout)
	lang := fs.String("lang", "", "answer language (default assist.language)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, err := e.app.Assist()
	if err != nil {
		return err
	}
	var cfg assist.ChatConfig
	if *lang != "" {
		if cfg.Language, err = assist.ParseLanguage(*lang); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
	}
	chat := svc.NewChat(cfg)

	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(e.stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-quit:
				return
			}
		}
	}()

	fmt.Fprintln(e.stdout, "Ask anything. /reset clears the history, /quit leaves.")
	for {
		fmt.Fprint(e.stdout, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			chat.Reset()
			fmt.Fprintln(e.stdout, "History cleared.")
			continue
		}

		answer, err := chat.Send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(e.stdout, assist.ErrorText(err))
			continue
		}
		fmt.Fprintln(e.stdout, answer)
	}
}

// ── speak ─────────────────────────────────────────────────────────────────────

func runSpeak(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("speak", e.stdout)
	text := fs.String("text", "", "text to read aloud (required)")
	voice := fs.String("voice", "", "prebuilt voice (default assist.voice)")
	out := fs.String("out", "", "write 16-bit 24 kHz mono PCM to this file instead of playing it")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*text) == "" {
		return fmt.Errorf("%w: -text is required", errUsage)
	}

	svc, err := e.app.Assist()
	if err != nil {
		return err
	}
	buf, err := svc.Speak(ctx, *text, *voice, audio.HeapAllocator{})
	if err != nil {
		return err
	}

	if *out != "" {
		if err := os.WriteFile(*out, audio.FloatToPCM16(audio.DownmixMono(buf)), 0o644); err != nil {
			return fmt.Errorf("write speech: %w", err)
		}
		fmt.Fprintf(e.stdout, "Wrote %.1fs of audio to %s\n", buf.Duration(), *out)
		return nil
	}
	return e.app.Play(ctx, buf)
}

// ── image ─────────────────────────────────────────────────────────────────────

func runImage(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("image", e.stdout)
	prompt := fs.String("prompt", "", "description of the image (required)")
	out := fs.String("out", "", "output file (default image.<ext>)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" {
		return fmt.Errorf("%w: -prompt is required", errUsage)
	}

	svc, err := e.app.Assist()
	if err != nil {
		return err
	}
	img, err := svc.GenerateImage(ctx, *prompt)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = "image" + imageExtension(img.MIMEType)
	}
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Fprintf(e.stdout, "Wrote %s (%d bytes)\n", path, len(img.Data))
	return nil
}

func imageExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// ── transcribe ────────────────────────────────────────────────────────────────

func runTranscribe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("transcribe", e.stdout)
	in := fs.String("in", "", "audio file to transcribe (required)")
	lang := fs.String("lang", "", "spoken language hint")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("%w: -in is required", errUsage)
	}

	var language assist.Language
	if *lang != "" {
		var err error
		if language, err = assist.ParseLanguage(*lang); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
	}
	recording, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}

	svc, err := e.app.Assist()
	if err != nil {
		return err
	}
	text, err := svc.Transcribe(ctx, recording, stt.MIMETypeFor(*in), language)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, text)
	return nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve", e.stdout)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if e.app.Config().Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is not set", errUsage)
	}
	<-ctx.Done()
	return nil
}
