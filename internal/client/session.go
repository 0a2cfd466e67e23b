package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"chatify/internal/content"
	"chatify/internal/conversation"
	"chatify/internal/models"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

var errUsage = errors.New("usage")

const helpText = `Commands:
  /name <identity>   sign in
  /to <identity>     open a conversation
  /close             close the conversation
  /image <path>      send an image to the open conversation
  /who               list online users
  /history [peer]    print the conversation with peer
  /clear             forget the open conversation's history
  /status            show connection state
  /logout            sign out
  /quit              exit
Anything else is sent as a message.
`

// Session is the line-oriented front end of a conversation store.
type Session struct {
	out          io.Writer
	maxImageSize int64
	colors       bool

	mu      sync.Mutex
	store   *conversation.Store
	printed map[string]int
	typing  string
}

func NewSession(out io.Writer, maxImageSize int64, colors bool) *Session {
	return &Session{
		out:          out,
		maxImageSize: maxImageSize,
		colors:       colors,
		printed:      make(map[string]int),
	}
}

// Attach binds the store. Messages already in its log count as printed.
func (s *Session) Attach(store *conversation.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	for _, peer := range store.Peers() {
		s.printed[peer] = len(store.Messages(peer))
	}
}

// Render prints whatever changed since the last call. It is the store's
// change callback.
func (s *Session) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return
	}

	for _, peer := range s.store.Peers() {
		messages := s.store.Messages(peer)
		from := s.printed[peer]
		if from > len(messages) {
			from = len(messages)
		}
		for _, m := range messages[from:] {
			fmt.Fprintln(s.out, s.formatMessage(m))
		}
		s.printed[peer] = len(messages)
	}
	for peer := range s.printed {
		if len(s.store.Messages(peer)) == 0 {
			delete(s.printed, peer)
		}
	}

	typing := s.store.TypingPeer()
	if typing != "" && typing != s.typing {
		fmt.Fprintf(s.out, "%s is typing...\n", s.paint(color.Gray, typing))
	}
	s.typing = typing
}

// Run reads commands from in until it is exhausted, /quit or ctx is done.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			quit, err := s.Handle(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", s.paint(color.Red, "error:"), err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Handle executes one input line and reports whether the session should end.
func (s *Session) Handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	store := s.attached()

	if !strings.HasPrefix(line, "/") {
		store.Keystroke()
		_, err := store.Send(ctx, line)
		return false, err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprint(s.out, helpText)
	case "/name":
		if arg == "" {
			return false, fmt.Errorf("%w: /name <identity>", errUsage)
		}
		if err := store.SetIdentity(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "signed in as %s\n", s.paint(color.Cyan, store.Identity()))
	case "/to":
		if arg == "" {
			return false, fmt.Errorf("%w: /to <identity>", errUsage)
		}
		if err := store.SetSelectedPeer(&models.Peer{Identity: arg}); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "talking to %s\n", s.paint(color.Cyan, arg))
	case "/close":
		return false, store.SetSelectedPeer(nil)
	case "/image":
		if arg == "" {
			return false, fmt.Errorf("%w: /image <path>", errUsage)
		}
		img, err := content.LoadImage(arg, s.maxImageSize)
		if err != nil {
			return false, err
		}
		_, err = store.SendImage(ctx, img)
		return false, err
	case "/who":
		s.printPeers(store)
	case "/history":
		peer := arg
		if peer == "" {
			selected, ok := store.SelectedPeer()
			if !ok {
				return false, conversation.ErrNoPeer
			}
			peer = selected.Identity
		}
		for _, m := range store.Messages(peer) {
			fmt.Fprintln(s.out, s.formatMessage(m))
		}
	case "/clear":
		selected, ok := store.SelectedPeer()
		if !ok {
			return false, conversation.ErrNoPeer
		}
		store.ClearConversation(selected.Identity)
		fmt.Fprintf(s.out, "cleared conversation with %s\n", selected.Identity)
	case "/status":
		peer, _ := store.SelectedPeer()
		fmt.Fprintf(s.out, "identity=%q state=%s peer=%q\n", store.Identity(), store.State(), peer.Identity)
	case "/logout":
		store.Logout()
		fmt.Fprintln(s.out, "signed out")
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (s *Session) attached() *conversation.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Session) printPeers(store *conversation.Store) {
	peers := store.OnlinePeers()
	if len(peers) == 0 {
		fmt.Fprintln(s.out, "nobody else is online")
		return
	}
	selected, _ := store.SelectedPeer()

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"Identity", "Connection", ""})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	for _, p := range peers {
		mark := ""
		if p.Identity == selected.Identity {
			mark = "*"
		}
		table.Append([]string{p.Identity, p.Handle, mark})
	}
	table.Render()
}

func (s *Session) formatMessage(m models.Message) string {
	body := m.Content
	if m.Type == models.MessageTypeImage {
		body = fmt.Sprintf("[image %s, %s, %s]", m.FileName, m.MimeType, formatSize(m.FileSize))
	}
	return fmt.Sprintf("[%s] %s -> %s: %s", m.Time, s.paint(color.Cyan, m.From), m.To, body)
}

func (s *Session) paint(c color.Color, text string) string {
	if !s.colors {
		return text
	}
	return c.Sprint(text)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
