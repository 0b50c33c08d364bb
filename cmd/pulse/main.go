package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsesocial/pulse-go/internal/auth"
	"github.com/pulsesocial/pulse-go/internal/config"
	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/version"
	"github.com/pulsesocial/pulse-go/pkg/logger"
	"github.com/pulsesocial/pulse-go/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetDebug(cfg.Debug)

	fs := flag.NewFlagSet("pulse", flag.ContinueOnError)
	userID := fs.String("user", os.Getenv("PULSE_USER_ID"), "local user id")
	token := fs.String("token", os.Getenv("PULSE_TOKEN"), "bearer token")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	args := fs.Args()

	if len(args) > 0 && args[0] == "version" {
		fmt.Println(version.RichVersion())
		return nil
	}

	if *userID == "" || *token == "" {
		return fmt.Errorf("both -user and -token are required (or PULSE_USER_ID / PULSE_TOKEN)")
	}

	client := sdk.NewClient(cfg, &auth.StaticTokenSource{Value: *token})
	defer client.Close()

	cmd := "tail"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	ctx := context.Background()
	switch cmd {
	case "tail":
		return tailCommand(ctx, client, *userID)
	case "chats":
		return chatsCommand(ctx, client, *userID)
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: pulse send <chat-id> <message>")
		}
		return sendCommand(ctx, client, *userID, args[0], args[1])
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// printListener dumps client events to stdout.
type printListener struct{}

func (printListener) OnConnected(session, userID string) {
	fmt.Printf("[%s] connected as %s\n", session, userID)
}

func (printListener) OnDisconnected(session, reason string) {
	fmt.Printf("[%s] disconnected: %s\n", session, reason)
}

func (printListener) OnChatChanged() {}

func (printListener) OnNotification(n model.Notification) {
	fmt.Printf("[notification] %s: %s\n", n.Kind, n.Text)
}

func (printListener) OnError(message string) {
	fmt.Printf("[error] %s\n", message)
}

func tailCommand(ctx context.Context, client *sdk.Client, userID string) error {
	client.SetListener(printListener{})
	client.Start(ctx, userID)
	defer client.Stop()

	if err := client.ChatStore().LoadChats(ctx); err != nil {
		logger.Warnf("load chats: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}

func chatsCommand(ctx context.Context, client *sdk.Client, userID string) error {
	client.Start(ctx, userID)
	defer client.Stop()

	if err := client.ChatStore().LoadChats(ctx); err != nil {
		return err
	}
	for _, chat := range client.ChatStore().Chats() {
		unread := ""
		if chat.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", chat.UnreadCount)
		}
		fmt.Printf("%s  %s%s: %s\n", chat.ID, chat.ParticipantName, unread, chat.LastMessage)
	}
	return nil
}

func sendCommand(ctx context.Context, client *sdk.Client, userID, chatID, content string) error {
	client.Start(ctx, userID)
	defer client.Stop()

	tempID := client.SendMessage(ctx, chatID, content, nil)
	for _, msg := range client.ChatStore().Messages(chatID) {
		if msg.ID == tempID && msg.Status == model.StatusError {
			return fmt.Errorf("send failed")
		}
	}
	fmt.Println("sent")
	return nil
}

func printUsage() {
	fmt.Println(`Usage: pulse [-user <id>] [-token <jwt>] <command>

Commands:
  tail            connect and print realtime events (default)
  chats           list chats
  send <id> <msg> send a message to a chat
  version         print the client version
  help            show this help`)
}
