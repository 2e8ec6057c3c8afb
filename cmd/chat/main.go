// A terminal chat client: opens the one-to-one room with a peer, prints the
// recent history, then bridges stdin and the live connection.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"chat-relay/client"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const historyPageSize = 20

type Config struct {
	ServerURL string `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	Token     string `env:"CHAT_TOKEN,required=true"`
	PeerID    string `env:"CHAT_PEER,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=ERROR"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(config.ServerURL, config.Token, log)
	defer c.Close()

	room, err := c.OpenChat(ctx, config.PeerID)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not open chat with %s: %w", config.PeerID, err)
	}
	color.New(color.BgBlack, color.FgGreen).Printf("Chat with %s (room %s)\n", config.PeerID, room.ID)

	history, err := c.History(ctx, room.ID, 0, historyPageSize)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not fetch history: %w", err)
	}
	printHistory(history)

	if err := c.Connect(ctx); err != nil {
		return exitRuntime, err
	}
	go func() {
		if err := c.Run(ctx); err != nil {
			color.Red.Printf("connection lost: %v\n", err)
			stop()
		}
	}()
	if err := c.Join(room.ID); err != nil {
		return exitRuntime, err
	}

	go printEvents(c, config.PeerID)

	// Bridge stdin to the live connection until EOF or a signal
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.Send(room.ID, line); err != nil {
				return exitRuntime, err
			}
		}
	}
}

func printHistory(messages []client.Message) {
	if len(messages) == 0 {
		color.Gray.Println("No messages yet.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Seq", "Sender", "Sent At", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, msg := range messages {
		table.Append([]string{
			fmt.Sprintf("%d", msg.Sequence),
			msg.SenderID,
			msg.SentAt.Local().Format("15:04:05"),
			msg.Content,
		})
	}
	table.Render()
}

func printEvents(c *client.Client, peer string) {
	for frame := range c.Events() {
		switch frame.Type {
		case "message":
			if frame.Message != nil && frame.Message.SenderID == peer {
				color.Cyan.Printf("%s: %s\n", frame.Message.SenderID, frame.Message.Content)
			}
		case "ack":
			if frame.Message != nil {
				color.Gray.Printf("you (#%d): %s\n", frame.Message.Sequence, frame.Message.Content)
			}
		case "error":
			color.Red.Printf("error: %s\n", frame.Error)
		}
	}
}
