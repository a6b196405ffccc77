package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/chatclient"
	"github.com/zhouzirui/webhook-chat/backend/pkg/chatclient/view"
)

const helpText = "/new  新对话 · /list  会话列表 · /open <n|id>  打开会话 · /quit  退出"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func main() {
	server := flag.String("server", "http://localhost:8080", "后端地址")
	email := flag.String("email", os.Getenv("CHAT_EMAIL"), "登录邮箱")
	width := flag.Int("width", 80, "渲染宽度")
	debug := flag.Bool("debug", false, "输出调试日志到 stderr")
	flag.Parse()

	level := zerolog.WarnLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ident, err := chatclient.SignIn(*email)
	if err != nil {
		logger.Fatal().Err(err).Str("email", *email).Msg("请通过 -email 指定有效邮箱")
	}

	feed, err := chatclient.NewWSFeed(*server)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(ctx, ident, chatclient.NewAPI(*server, nil), feed, logger)
	screen := &screen{out: os.Stdout, email: ident.Email, width: *width}
	// OnChange may fire under the synchronizer's locks; the session label
	// is pushed separately.
	client.OnChange(screen.draw)
	screen.draw(nil, false)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	var sessions []chat.Session
	for {
		select {
		case <-ctx.Done():
			ident.SignOut()
			return
		case line, ok := <-lines:
			if !ok {
				ident.SignOut()
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				ident.SignOut()
				return
			case line == "/new":
				client.NewChat()
				screen.setSession("")
			case line == "/list":
				sessions, err = client.Sessions(ctx)
				if err != nil {
					screen.notice("获取会话失败: " + err.Error())
					continue
				}
				screen.notice(formatSessions(sessions, client.ActiveSession()))
			case strings.HasPrefix(line, "/open"):
				id := resolveSession(strings.TrimSpace(strings.TrimPrefix(line, "/open")), sessions)
				if id == "" {
					screen.notice("未知会话，先执行 /list")
					continue
				}
				client.Select(id)
				screen.setSession(id)
			case strings.HasPrefix(line, "/"):
				screen.notice(helpText)
			default:
				go send(ctx, client, screen, line)
			}
		}
	}
}

func send(ctx context.Context, client *chatclient.Chat, s *screen, text string) {
	// Other failures already show as an error bubble.
	if err := client.Send(ctx, text); errors.Is(err, chatclient.ErrTurnInFlight) {
		s.notice("请等待上一条回复")
		return
	}
	s.setSession(client.ActiveSession())
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func formatSessions(sessions []chat.Session, active string) string {
	if len(sessions) == 0 {
		return "暂无会话"
	}
	var b strings.Builder
	for i, s := range sessions {
		marker := " "
		if s.SessionID == active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %2d. %s  %s\n", marker, i+1, s.ShortLabel(), s.CreatedAt.Local().Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolveSession accepts a 1-based index into the last /list or a raw id.
func resolveSession(arg string, sessions []chat.Session) string {
	if arg == "" {
		return ""
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].SessionID
		}
		return ""
	}
	return arg
}

type screen struct {
	mu    sync.Mutex
	out   io.Writer
	email string
	width int

	sessionID string
	entries   []chat.Entry
	inFlight  bool
}

func (s *screen) setSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	entries, inFlight := s.entries, s.inFlight
	s.mu.Unlock()
	s.draw(entries, inFlight)
}

func (s *screen) draw(entries []chat.Entry, inFlight bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries, s.inFlight = entries, inFlight

	label := "新对话"
	if s.sessionID != "" {
		label = chat.Session{SessionID: s.sessionID}.ShortLabel()
	}
	fmt.Fprint(s.out, "\033[H\033[2J")
	fmt.Fprintln(s.out, titleStyle.Render(label)+"  "+hintStyle.Render(s.email))
	fmt.Fprintln(s.out, view.Render(entries, inFlight, s.width))
	fmt.Fprintln(s.out, hintStyle.Render(helpText))
}

func (s *screen) notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, noticeStyle.Render(text))
}
