package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbirochan/portfolio-site/internal/contact"
	"github.com/mbirochan/portfolio-site/internal/form"
)

const defaultEndpoint = "http://localhost:8080/contact"

// exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("contact", flag.ContinueOnError)
	fs.SetOutput(stderr)

	endpoint := fs.String("endpoint", envOrDefault("CONTACT_ENDPOINT", defaultEndpoint), "submission endpoint URL")
	name := fs.String("name", "", "your name")
	email := fs.String("email", "", "your email (optional)")
	subject := fs.String("subject", "", "subject line")
	message := fs.String("message", "", `message body ("-" reads stdin)`)
	timeout := fs.Duration("timeout", 60*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitInvalid
	}

	body := *message
	if body == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "read message: %v\n", err)
			return exitFailed
		}
		body = string(data)
	}

	ctrl := form.New(*endpoint, nil)
	ctrl.SetFields(contact.Submission{
		Name:    *name,
		Email:   *email,
		Subject: *subject,
		Message: body,
	})

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fmt.Fprintln(stdout, ctrl.SubmitLabel())

	note, err := ctrl.Submit(ctx)
	var verr *contact.ValidationError
	if errors.As(err, &verr) {
		errs := ctrl.Errors()
		for _, field := range errs.Fields() {
			fmt.Fprintf(stderr, "%s: %s\n", field, errs[field])
		}
		return exitInvalid
	}

	out := stdout
	if note.Kind == form.Failure {
		out = stderr
	}
	fmt.Fprintf(out, "%s %s\n", note.Title, note.Description)

	if err != nil {
		return exitFailed
	}
	return exitOK
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
