// Command testhelper drives a dmcrypt client from the command line for
// cross-SDK interoperability testing. Each subcommand reads its inputs from
// arguments or stdin and writes a single JSON document to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	dmcrypt "github.com/moonpup/dmcrypt-go"
)

func main() {
	if len(os.Args) < 2 {
		fatal("usage: testhelper <command> [args]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	opts := []dmcrypt.Option{}
	if baseURL := os.Getenv("DMCRYPT_URL"); baseURL != "" {
		opts = append(opts, dmcrypt.WithBaseURL(baseURL))
	}

	client, err := dmcrypt.New(os.Getenv("DMCRYPT_USER_ID"), os.Getenv("DMCRYPT_SESSION_TOKEN"), opts...)
	if err != nil {
		fatal("create client: %v", err)
	}
	defer client.Close()

	switch os.Args[1] {
	case "identity":
		identity(client)
	case "send":
		if len(os.Args) < 4 {
			fatal("usage: testhelper send <conversation> <recipient> (text on stdin)")
		}
		send(ctx, client, os.Args[2], os.Args[3])
	case "read":
		if len(os.Args) < 3 {
			fatal("usage: testhelper read <conversation>")
		}
		read(ctx, client, os.Args[2])
	case "export-identity":
		exportIdentity(client)
	case "import-identity":
		importIdentity(ctx, client)
	case "rotate":
		rotate(ctx, client)
	default:
		fatal("unknown command: %s", os.Args[1])
	}
}

type identityOutput struct {
	UserID      string `json:"userId"`
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
	KeyVersion  int    `json:"keyVersion"`
	State       string `json:"state"`
	Notice      string `json:"notice,omitempty"`
}

func identity(client *dmcrypt.Client) {
	id, err := client.Identity()
	if err != nil {
		fatal("read identity: %v", err)
	}

	out := identityOutput{
		UserID:      id.UserID,
		PublicKey:   id.PublicKey,
		Fingerprint: id.Fingerprint,
		KeyVersion:  id.KeyVersion,
		State:       client.State().String(),
	}
	if notice := client.Notice(); notice != nil {
		out.Notice = notice.String()
	}
	emit(out)
}

func send(ctx context.Context, client *dmcrypt.Client, conversationID, recipientID string) {
	text, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal("read stdin: %v", err)
	}

	msg, err := client.SendMessage(ctx, conversationID, recipientID, string(text))
	if err != nil {
		fatal("send message: %v", err)
	}

	emit(map[string]string{
		"id":     msg.ID,
		"sentAt": msg.SentAt.Format(time.RFC3339),
	})
}

type messageOutput struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
	SentAt      string `json:"sentAt"`
}

func read(ctx context.Context, client *dmcrypt.Client, conversationID string) {
	messages, err := client.Messages(ctx, conversationID)
	if err != nil {
		fatal("list messages: %v", err)
	}

	output := struct {
		Messages []messageOutput `json:"messages"`
	}{
		Messages: make([]messageOutput, 0, len(messages)),
	}
	for _, m := range messages {
		output.Messages = append(output.Messages, messageOutput{
			ID:          m.ID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Text:        m.Text,
			Unavailable: m.Unavailable,
			SentAt:      m.SentAt.Format(time.RFC3339),
		})
	}
	emit(output)
}

func exportIdentity(client *dmcrypt.Client) {
	exported, err := client.ExportIdentity()
	if err != nil {
		fatal("export identity: %v", err)
	}
	emit(exported)
}

func importIdentity(ctx context.Context, client *dmcrypt.Client) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal("read stdin: %v", err)
	}

	var exported dmcrypt.ExportedIdentity
	if err := json.Unmarshal(data, &exported); err != nil {
		fatal("parse export: %v", err)
	}

	if err := client.ImportIdentity(ctx, &exported); err != nil {
		fatal("import identity: %v", err)
	}
	emit(map[string]bool{"success": true})
}

func rotate(ctx context.Context, client *dmcrypt.Client) {
	if err := client.RotateKey(ctx); err != nil {
		fatal("rotate key: %v", err)
	}
	identity(client)
}

func emit(v interface{}) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		fatal("encode output: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
