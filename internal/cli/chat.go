package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatstudio/internal/chat"
	"github.com/soyeahso/chatstudio/internal/config"
	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/history"
	"github.com/soyeahso/chatstudio/internal/store"
)

func newChatCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Provider.Model = model
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			storePath := cfg.Store.Path
			if storePath == "" {
				storePath = filepath.Join(paths.Data, "conversations.db")
			}
			snap, err := store.OpenBoltSnapshot(storePath)
			if err != nil {
				return fmt.Errorf("opening conversation store: %w", err)
			}
			defer snap.Close()

			st := store.New(snap, log)
			repo := history.NewClient(cfg.History.BaseURL, log)
			ctrl := chat.New(providerFromConfig(cfg), st, repo, cfg.User.ID, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session := &chatSession{ctrl: ctrl, preferred: cfg.Provider.Model, out: cmd.OutOrStdout()}
			return session.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "preferred model id")

	return cmd
}

// chatSession is the interactive loop around the controller.
type chatSession struct {
	ctrl      *chat.Controller
	preferred string
	out       io.Writer

	pending *domain.Attachment // attached to the next sent turn
}

func (s *chatSession) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	s.printf("Loading model catalog...\n")
	if err := s.loadCatalog(ctx, scanner); err != nil {
		return err
	}
	s.printf("Using model %s. Type /help for commands.\n", s.ctrl.Model())

	for {
		s.printf("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				s.printf("error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}
		s.send(ctx, line)
	}

	return s.close(ctx)
}

// loadCatalog fetches the model catalog, prompting to retry on failure.
func (s *chatSession) loadCatalog(ctx context.Context, scanner *bufio.Scanner) error {
	for {
		err := s.ctrl.LoadCatalog(ctx, s.preferred)
		if err == nil {
			return nil
		}
		s.printf("Could not load the model catalog: %v\n", err)
		s.printf("Retry? [y/N] ")
		if !scanner.Scan() {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			return err
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.printf("Commands: /new /list /switch <n> /model [id] /attach <path> /quit\n")
	case "/new":
		s.ctrl.NewConversation()
		s.printf("Started a new conversation.\n")
	case "/list":
		s.list()
	case "/switch":
		if len(fields) < 2 {
			return false, errors.New("usage: /switch <n>")
		}
		return false, s.switchTo(fields[1])
	case "/model":
		if len(fields) < 2 {
			for _, m := range s.ctrl.Models() {
				marker := "  "
				if m == s.ctrl.Model() {
					marker = "* "
				}
				s.printf("%s%s\n", marker, m)
			}
			return false, nil
		}
		if err := s.ctrl.SetModel(fields[1]); err != nil {
			return false, err
		}
		s.printf("Switched to %s.\n", fields[1])
	case "/attach":
		if len(fields) < 2 {
			return false, errors.New("usage: /attach <path>")
		}
		return false, s.attach(strings.Join(fields[1:], " "))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (s *chatSession) list() {
	convs := s.ctrl.Conversations()
	if active := s.ctrl.Active(); active != nil {
		s.printf("   (active)  %s\n", active.Title)
	}
	for i, c := range convs {
		s.printf("%2d.  %s  (%d turns)\n", i+1, c.Title, len(c.Turns))
	}
	if len(convs) == 0 && s.ctrl.Active() == nil {
		s.printf("No conversations yet.\n")
	}
}

func (s *chatSession) switchTo(arg string) error {
	convs := s.ctrl.Conversations()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(convs) {
		return fmt.Errorf("no conversation %q; see /list", arg)
	}
	if err := s.ctrl.SelectConversation(convs[n-1].ID); err != nil {
		return err
	}
	s.printf("Switched to %q.\n", convs[n-1].Title)
	for _, turn := range s.ctrl.Active().Turns {
		prefix := "  "
		if turn.Sender == domain.SenderUser {
			prefix = "> "
		}
		s.printf("%s%s\n", prefix, turn.Text)
	}
	return nil
}

func (s *chatSession) attach(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot attach %s: %w", path, err)
	}
	s.pending = &domain.Attachment{
		Path:     path,
		Filename: filepath.Base(path),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
		Size:     info.Size(),
	}
	s.printf("Attached %s (%d bytes); it will be sent with your next message.\n", s.pending.Filename, s.pending.Size)
	return nil
}

func (s *chatSession) send(ctx context.Context, text string) {
	att := s.pending
	s.pending = nil

	done, err := s.ctrl.SendTurn(ctx, text, att)
	if err != nil {
		s.printf("error: %v\n", err)
		return
	}

	res := <-done
	if res.Err != nil {
		s.printf("%s\n", chat.FailureNotice)
		s.printf("(%v)\n", res.Err)
		return
	}
	s.printf("%s\n", res.Reply)
}

// close archives the session and uploads history records.
func (s *chatSession) close(ctx context.Context) error {
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	err := s.ctrl.CloseSession(uploadCtx)
	switch {
	case errors.Is(err, chat.ErrMissingUserID):
		s.printf("No user id configured; skipping history upload.\n")
		return nil
	case err != nil:
		s.printf("Some conversations were not uploaded: %v\n", err)
		return nil
	default:
		s.printf("Session closed.\n")
		return nil
	}
}
