package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/suPer8Hu/fitmate-chat/internal/chatclient"
	"github.com/suPer8Hu/fitmate-chat/internal/config"
	"github.com/suPer8Hu/fitmate-chat/internal/convstore"
	"github.com/suPer8Hu/fitmate-chat/internal/logging"
	"go.uber.org/zap"
)

var (
	userColor = color.New(color.FgCyan, color.Bold)
	botColor  = color.New(color.FgGreen)
	infoColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

const help = `commands:
  /new          start a new conversation
  /list         list conversations
  /switch <n>   open conversation n from /list
  /delete <n>   delete conversation n from /list
  /logout       end the session and quit
  /quit         quit
anything else is sent to your coach`

func main() {
	cfg := config.LoadClient()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chatclient.New(cfg.APIURL, chatclient.WithTimeout(cfg.RequestTimeout), chatclient.WithLogger(logger))
	if err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	in := bufio.NewScanner(os.Stdin)
	if err := signIn(ctx, client, cfg, in); err != nil {
		errColor.Fprintln(os.Stderr, "sign in:", err)
		os.Exit(1)
	}

	policy := convstore.LeaveEmpty
	if cfg.CreateOnListFailure {
		policy = convstore.CreateNew
	}
	store := convstore.New(client, convstore.WithLogger(logger), convstore.WithListFailurePolicy(policy))
	store.Init(ctx)
	chat := convstore.NewChat(store)

	infoColor.Println(help)
	printCurrent(store)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			send(ctx, chat, line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/new":
			store.CreateNewConversation()
			printCurrent(store)
		case "/list":
			printList(store)
		case "/switch":
			if id, ok := pick(store, arg); ok {
				store.SwitchConversation(ctx, id)
				printCurrent(store)
			}
		case "/delete":
			if id, ok := pick(store, arg); ok {
				if store.DeleteConversation(ctx, id) {
					infoColor.Println("deleted")
					printCurrent(store)
				} else {
					errColor.Println("could not delete that conversation, try again later")
				}
			}
		case "/logout":
			if err := client.Logout(ctx); err != nil {
				logger.Warn("logout failed", zap.Error(err))
			}
			store.Reset()
			return
		case "/quit", "/exit":
			return
		case "/help":
			infoColor.Println(help)
		default:
			errColor.Println("unknown command, /help lists them")
		}
	}
}

func signIn(ctx context.Context, client *chatclient.Client, cfg config.ClientConfig, in *bufio.Scanner) error {
	email, password := cfg.Email, cfg.Password
	if email == "" {
		email = prompt(in, "email: ")
	}
	if password == "" {
		password = prompt(in, "password: ")
	}

	u, err := client.Login(ctx, email, password)
	if err == nil {
		infoColor.Printf("signed in as %s (%s)\n", u.Username, u.Role)
		return nil
	}
	if !chatclient.IsUnauthorized(err) {
		return err
	}
	if !strings.EqualFold(prompt(in, "no account with those credentials, register? [y/N] "), "y") {
		return err
	}
	u, err = client.Register(ctx, email, password)
	if err != nil {
		return err
	}
	infoColor.Printf("welcome, %s\n", u.Username)
	return nil
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func send(ctx context.Context, chat *convstore.Chat, text string) {
	infoColor.Println("coach is typing...")
	reply, err := chat.Send(ctx, text)
	if err != nil {
		errColor.Println(err)
		return
	}
	printMessage(reply)
}

// pick resolves a 1-based index from /list to a conversation id.
func pick(store *convstore.Store, arg string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	convs := store.Conversations()
	if err != nil || n < 1 || n > len(convs) {
		errColor.Printf("pick a number between 1 and %d\n", len(convs))
		return "", false
	}
	return convs[n-1].ID, true
}

func printList(store *convstore.Store) {
	current := store.CurrentID()
	convs := store.Conversations()
	if len(convs) == 0 {
		infoColor.Println("no conversations, /new starts one")
		return
	}
	for i, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		state := ""
		if convstore.IsTemporaryID(c.ID) {
			state = " (unsent)"
		}
		fmt.Printf("%s %2d. %s%s  %s\n", marker, i+1, c.Title, state, c.UpdatedAt.Local().Format("Jan 2 15:04"))
	}
}

func printCurrent(store *convstore.Store) {
	c, ok := store.Current()
	if !ok {
		infoColor.Println("no conversation selected, /new starts one")
		return
	}
	infoColor.Printf("-- %s --\n", c.Title)
	for _, m := range c.Messages {
		printMessage(m)
	}
}

func printMessage(m convstore.Message) {
	if m.Sender == convstore.SenderBot {
		botColor.Printf("coach: %s\n", m.Text)
		return
	}
	userColor.Printf("you:   %s\n", m.Text)
}
